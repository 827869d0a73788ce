package repositories

import "context"

// StreamingConfig is sent as the first message of every recognition stream
type StreamingConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sample_rate_hertz"`
	AudioChannelCount          int    `json:"audio_channel_count"`
	LanguageCode               string `json:"language_code"`
	EnableAutomaticPunctuation bool   `json:"enable_automatic_punctuation"`
	Model                      string `json:"model"`
	UseEnhanced                bool   `json:"use_enhanced"`
	InterimResults             bool   `json:"interim_results"`
}

// RecognitionResult carries the top alternative of one recognizer result
type RecognitionResult struct {
	Transcript string
	Confidence float32
	IsFinal    bool
}

// RecognitionResponse holds zero or more results in recognizer order
type RecognitionResponse struct {
	Results []RecognitionResult
}

// RecognitionStream is one bidirectional recognition session.
// Recv returns io.EOF once the recognizer has closed the stream.
type RecognitionStream interface {
	Send(audio []byte) error
	Recv() (*RecognitionResponse, error)
	CloseSend() error
}

// SpeechClient opens recognition streams against a cloud recognizer
type SpeechClient interface {
	StreamingRecognize(ctx context.Context, config StreamingConfig) (RecognitionStream, error)
	Close() error
}

// SpeechClientFactory builds a client authenticated with the given credentials file.
// An empty path uses the ambient credentials.
type SpeechClientFactory func(ctx context.Context, credentialsPath string) (SpeechClient, error)
