package stt

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// mockPhrases are replayed in order, one per second of audio
var mockPhrases = []string{
	"Thanks for joining today.",
	"Could you walk me through your last project?",
	"Sure, I led the migration of our ingestion pipeline.",
	"What was the hardest part of that?",
}

// MockSpeechClient is a recognizer stand-in for development without cloud credentials
type MockSpeechClient struct {
	logger *zap.Logger
}

// NewMockSpeechClientFactory returns a SpeechClientFactory producing mock clients
func NewMockSpeechClientFactory(logger *zap.Logger) repositories.SpeechClientFactory {
	return func(ctx context.Context, credentialsPath string) (repositories.SpeechClient, error) {
		logger.Info("Creating mock speech client", zap.String("credentials", credentialsPath))
		return &MockSpeechClient{logger: logger}, nil
	}
}

// StreamingRecognize opens a mock stream
func (m *MockSpeechClient) StreamingRecognize(ctx context.Context, config repositories.StreamingConfig) (repositories.RecognitionStream, error) {
	if config.SampleRateHertz <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", config.SampleRateHertz)
	}
	channels := config.AudioChannelCount
	if channels <= 0 {
		channels = 1
	}

	m.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRateHertz),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.LanguageCode))

	return &MockRecognitionStream{
		ctx:            ctx,
		bytesPerSecond: config.SampleRateHertz * channels * 2,
		interim:        config.InterimResults,
		responses:      make(chan *repositories.RecognitionResponse, 16),
		closed:         make(chan struct{}),
	}, nil
}

// Close implements SpeechClient
func (m *MockSpeechClient) Close() error {
	return nil
}

// MockRecognitionStream emits an interim result every half second of audio
// and a final result every full second.
type MockRecognitionStream struct {
	ctx            context.Context
	bytesPerSecond int
	interim        bool
	responses      chan *repositories.RecognitionResponse

	mu        sync.Mutex
	received  int
	emitted   int
	closeOnce sync.Once
	closed    chan struct{}
}

// Send implements RecognitionStream
func (m *MockRecognitionStream) Send(audio []byte) error {
	select {
	case <-m.closed:
		return io.ErrClosedPipe
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.received
	m.received += len(audio)
	half := m.bytesPerSecond / 2

	if m.interim && before/half != m.received/half && (m.received/half)%2 == 1 {
		m.push(m.phrase(), false, 0)
	}
	if before/m.bytesPerSecond != m.received/m.bytesPerSecond {
		m.push(m.phrase(), true, 0.9)
		m.emitted++
	}
	return nil
}

func (m *MockRecognitionStream) phrase() string {
	return mockPhrases[m.emitted%len(mockPhrases)]
}

func (m *MockRecognitionStream) push(text string, final bool, confidence float32) {
	if !final {
		// Interim results carry the first half of the phrase.
		text = text[:len(text)/2]
	}
	select {
	case m.responses <- &repositories.RecognitionResponse{Results: []repositories.RecognitionResult{
		{Transcript: text, IsFinal: final, Confidence: confidence},
	}}:
	default:
	}
}

// Recv implements RecognitionStream
func (m *MockRecognitionStream) Recv() (*repositories.RecognitionResponse, error) {
	select {
	case resp := <-m.responses:
		return resp, nil
	case <-m.closed:
		return nil, io.EOF
	case <-m.ctx.Done():
		return nil, io.EOF
	}
}

// CloseSend implements RecognitionStream
func (m *MockRecognitionStream) CloseSend() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
