package stt

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// GoogleSpeechClient implements SpeechClient for Google Cloud Speech-to-Text
type GoogleSpeechClient struct {
	client *speech.Client
}

// NewGoogleSpeechClient creates a client authenticated with credentialsPath,
// or with application default credentials when the path is empty.
func NewGoogleSpeechClient(ctx context.Context, credentialsPath string) (repositories.SpeechClient, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechClient{client: client}, nil
}

// StreamingRecognize opens a stream and sends the streaming config as its first request
func (g *GoogleSpeechClient) StreamingRecognize(ctx context.Context, config repositories.StreamingConfig) (repositories.RecognitionStream, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, fmt.Errorf("unsupported audio encoding: %s", config.Encoding)
	}

	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: buildStreamingConfig(config, encoding),
		},
	}); err != nil {
		stream.CloseSend()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return &googleRecognitionStream{stream: stream}, nil
}

// Close releases the underlying gRPC connection
func (g *GoogleSpeechClient) Close() error {
	return g.client.Close()
}

func buildStreamingConfig(config repositories.StreamingConfig, encoding speechpb.RecognitionConfig_AudioEncoding) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            int32(config.SampleRateHertz),
			AudioChannelCount:          int32(config.AudioChannelCount),
			LanguageCode:               config.LanguageCode,
			EnableAutomaticPunctuation: config.EnableAutomaticPunctuation,
			Model:                      config.Model,
			UseEnhanced:                config.UseEnhanced,
		},
		InterimResults: config.InterimResults,
	}
}

type googleRecognitionStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (g *googleRecognitionStream) Send(audio []byte) error {
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Recv returns io.EOF when the recognizer or the owner's context ended the stream
func (g *googleRecognitionStream) Recv() (*repositories.RecognitionResponse, error) {
	resp, err := g.stream.Recv()
	if err == io.EOF || status.Code(err) == codes.Canceled {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return convertResponse(resp)
}

func (g *googleRecognitionStream) CloseSend() error {
	return g.stream.CloseSend()
}

func convertResponse(resp *speechpb.StreamingRecognizeResponse) (*repositories.RecognitionResponse, error) {
	if st := resp.GetError(); st != nil && codes.Code(st.GetCode()) != codes.OK {
		return nil, fmt.Errorf("recognizer returned error: %w", status.ErrorProto(st))
	}

	out := &repositories.RecognitionResponse{
		Results: make([]repositories.RecognitionResult, 0, len(resp.GetResults())),
	}
	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		out.Results = append(out.Results, repositories.RecognitionResult{
			Transcript: alternatives[0].GetTranscript(),
			Confidence: alternatives[0].GetConfidence(),
			IsFinal:    result.GetIsFinal(),
		})
	}
	return out, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
