// Package recognition manages one streaming recognition session per speaker channel.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// State of a recognition stream
type State int

const (
	StateStopped State = iota
	StateStreaming
)

func (s State) String() string {
	if s == StateStreaming {
		return "streaming"
	}
	return "stopped"
}

// Listener receives recognizer output. Calls arrive on the receive goroutine.
type Listener interface {
	OnRecognition(r entities.Recognition)
	OnStreamError(err error)
}

// Options configures a Stream
type Options struct {
	Name            string
	Config          entities.StreamConfig
	CredentialsPath string
	NewClient       repositories.SpeechClientFactory
	Logger          *zap.Logger
}

// session is one live network stream
type session struct {
	stream repositories.RecognitionStream
	client repositories.SpeechClient
	cancel context.CancelFunc

	// closed is set once the network side is gone (receive loop ended or a send failed)
	closed atomic.Bool
	// stopping is set by an intentional Stop; later recognizer errors are expected
	stopping atomic.Bool
	// retireClient closes client when this session ends; the stream owner replaced it
	retireClient bool

	warnedSizes map[int]struct{}
}

// Stream is a restartable recognition stream for one speaker channel
type Stream struct {
	name      string
	newClient repositories.SpeechClientFactory
	logger    *zap.Logger

	mu              sync.Mutex
	config          entities.StreamConfig
	credentialsPath string
	client          repositories.SpeechClient
	state           State
	live            *session
	listener        Listener
}

// NewStream creates a stopped stream. The recognizer client is built on first use.
func NewStream(opts Options) (*Stream, error) {
	if opts.NewClient == nil {
		return nil, errors.New("speech client factory is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		name:            opts.Name,
		newClient:       opts.NewClient,
		config:          opts.Config,
		credentialsPath: opts.CredentialsPath,
		logger:          logger.Named("recognition").With(zap.String("stream", opts.Name)),
	}, nil
}

// SetListener attaches the listener that receives transcripts and errors
func (s *Stream) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// State returns the current state
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns a copy of the current configuration
func (s *Stream) Config() entities.StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Start opens a recognition stream with the current configuration.
// It is a no-op while streaming; failures are emitted as stream errors.
func (s *Stream) Start() {
	if err := s.start(); err != nil {
		s.emitError(err)
	}
}

func (s *Stream) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStreaming {
		return nil
	}

	if s.client == nil {
		client, err := s.newClient(context.Background(), s.credentialsPath)
		if err != nil {
			return fmt.Errorf("failed to create speech client: %w", err)
		}
		s.client = client
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs, err := s.client.StreamingRecognize(ctx, s.streamingConfig())
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open recognition stream: %w", err)
	}

	live := &session{
		stream:      rs,
		client:      s.client,
		cancel:      cancel,
		warnedSizes: make(map[int]struct{}),
	}
	s.live = live
	s.state = StateStreaming
	go s.receive(live)

	s.logger.Info("Recognition stream started",
		zap.Int("sample_rate", s.config.SampleRateHz),
		zap.Int("channels", s.config.ChannelCount),
		zap.String("language", s.config.LanguageCode))
	return nil
}

// Stop ends the network stream. It is a no-op while stopped.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	live := s.live
	s.live = nil
	s.state = StateStopped
	s.mu.Unlock()

	if err := s.release(live); err != nil {
		s.logger.Warn("Failed to release recognition stream", zap.Error(err))
	}
	s.logger.Info("Recognition stream stopped")
}

func (s *Stream) release(live *session) error {
	if live == nil {
		return nil
	}
	live.stopping.Store(true)

	var result *multierror.Error
	if !live.closed.Load() {
		if err := live.stream.CloseSend(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close send: %w", err))
		}
	}
	live.cancel()
	if live.retireClient {
		if err := live.client.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close retired client: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Write forwards one audio frame. Frames written while stopped, or after the
// network side closed the stream, are dropped.
func (s *Stream) Write(chunk []byte) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	live := s.live
	if live.closed.Load() {
		s.live = nil
		s.state = StateStopped
		s.mu.Unlock()
		s.logger.Debug("Recognition stream closed by peer, dropping frame")
		if err := s.release(live); err != nil {
			s.logger.Warn("Failed to release recognition stream", zap.Error(err))
		}
		return
	}
	if n := len(chunk); n != entities.FrameBytes && n != entities.StereoFrameBytes {
		if _, seen := live.warnedSizes[n]; !seen {
			live.warnedSizes[n] = struct{}{}
			s.logger.Warn("Unexpected audio frame size",
				zap.Int("bytes", n),
				zap.Int("expected", entities.FrameBytes),
				zap.Int("expected_stereo", entities.StereoFrameBytes))
		}
	}
	s.mu.Unlock()

	if err := live.stream.Send(chunk); err != nil {
		live.closed.Store(true)
		s.logger.Warn("Failed to send audio frame, stream marked stopped", zap.Error(err))
		s.detach(live)
	}
}

// detach moves the stream to Stopped when live is still its current session
// and releases that session. Sessions already replaced or stopped are left alone.
func (s *Stream) detach(live *session) bool {
	s.mu.Lock()
	if s.live != live {
		s.mu.Unlock()
		return false
	}
	s.live = nil
	s.state = StateStopped
	s.mu.Unlock()

	if err := s.release(live); err != nil {
		s.logger.Warn("Failed to release recognition stream", zap.Error(err))
	}
	return true
}

// SetSampleRate changes the sample rate, restarting an active stream once
func (s *Stream) SetSampleRate(hz int) error {
	if err := entities.ValidateSampleRate(hz); err != nil {
		return err
	}
	s.reconfigure(func(c *entities.StreamConfig) bool {
		if c.SampleRateHz == hz {
			return false
		}
		c.SampleRateHz = hz
		return true
	})
	return nil
}

// SetAudioChannelCount changes the channel count, restarting an active stream once
func (s *Stream) SetAudioChannelCount(n int) error {
	if err := entities.ValidateChannelCount(n); err != nil {
		return err
	}
	s.reconfigure(func(c *entities.StreamConfig) bool {
		if c.ChannelCount == n {
			return false
		}
		c.ChannelCount = n
		return true
	})
	return nil
}

// SetLanguageCode changes the language used from the next start on
func (s *Stream) SetLanguageCode(code string) error {
	if code == "" {
		return errors.New("language code is required")
	}
	s.mu.Lock()
	s.config.LanguageCode = code
	s.mu.Unlock()
	return nil
}

// reconfigure applies mutate and, when it changed the config of a streaming
// session, performs exactly one stop followed by one start.
func (s *Stream) reconfigure(mutate func(*entities.StreamConfig) bool) {
	s.mu.Lock()
	changed := mutate(&s.config)
	restart := changed && s.state == StateStreaming
	s.mu.Unlock()

	if !restart {
		return
	}
	s.logger.Info("Stream config changed while streaming, restarting")
	s.Stop()
	s.Start()
}

// SetCredentials rebuilds the recognizer client immediately. An active stream
// keeps running on the previous client, which is closed when that stream ends.
func (s *Stream) SetCredentials(ctx context.Context, path string) error {
	client, err := s.newClient(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to create speech client: %w", err)
	}

	s.mu.Lock()
	old := s.client
	s.client = client
	s.credentialsPath = path
	closeNow := old != nil
	if s.live != nil && s.live.client == old {
		s.live.retireClient = true
		closeNow = false
	}
	s.mu.Unlock()

	if closeNow {
		if err := old.Close(); err != nil {
			s.logger.Warn("Failed to close previous speech client", zap.Error(err))
		}
	}
	s.logger.Info("Speech credentials updated")
	return nil
}

// Close stops the stream and releases the recognizer client
func (s *Stream) Close() error {
	s.Stop()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// receive pumps recognizer output until the session ends. A session ended by
// the recognizer leaves the stream Stopped so a later Start opens a new one.
func (s *Stream) receive(live *session) {
	err := s.pump(live)
	live.closed.Store(true)
	intentional := live.stopping.Load()

	if s.detach(live) {
		s.logger.Info("Recognition stream closed by recognizer")
	}
	if err != nil && !intentional {
		s.emitError(fmt.Errorf("recognition stream %s failed: %w", s.name, err))
	}
}

func (s *Stream) pump(live *session) error {
	for {
		resp, err := live.stream.Recv()
		if err == io.EOF {
			s.logger.Debug("Recognition stream ended by recognizer")
			return nil
		}
		if err != nil {
			return err
		}

		for _, result := range resp.Results {
			// Output of a session being replaced must not interleave with its successor.
			if live.stopping.Load() {
				return nil
			}
			if result.Transcript == "" {
				continue
			}
			s.emitRecognition(entities.Recognition{
				Text:       result.Transcript,
				IsFinal:    result.IsFinal,
				Confidence: result.Confidence,
			})
		}
	}
}

func (s *Stream) streamingConfig() repositories.StreamingConfig {
	return repositories.StreamingConfig{
		Encoding:                   s.config.Encoding,
		SampleRateHertz:            s.config.SampleRateHz,
		AudioChannelCount:          s.config.ChannelCount,
		LanguageCode:               s.config.LanguageCode,
		EnableAutomaticPunctuation: true,
		Model:                      s.config.Model,
		UseEnhanced:                s.config.UseEnhanced,
		InterimResults:             true,
	}
}

func (s *Stream) emitRecognition(r entities.Recognition) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnRecognition(r)
	}
}

func (s *Stream) emitError(err error) {
	s.logger.Warn("Recognition stream error", zap.Error(err))

	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnStreamError(err)
	}
}
