package capture

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jfreymuth/pulse"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

const applicationName = "arunika-copilot"

// SystemAudioOpener records the monitor source of a PulseAudio sink
type SystemAudioOpener struct {
	logger *zap.Logger
}

// NewSystemAudioOpener checks that a PulseAudio server is reachable
func NewSystemAudioOpener(logger *zap.Logger) (*SystemAudioOpener, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName(applicationName))
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	c.Close()
	return &SystemAudioOpener{logger: logger.Named("pulse")}, nil
}

// Open binds a capture to sinkID. The Pulse connection is made on Start.
func (o *SystemAudioOpener) Open(sinkID string) (repositories.NativeCapture, error) {
	return &loopbackCapture{sinkID: sinkID, logger: o.logger.With(zap.String("sink", sinkID))}, nil
}

type loopbackCapture struct {
	sinkID string
	logger *zap.Logger

	mu     sync.Mutex
	client *pulse.Client
	stream *pulse.RecordStream
}

func resolveSink(c *pulse.Client, sinkID string) (*pulse.Sink, error) {
	if sinkID == "" || sinkID == entities.DefaultDeviceID {
		return c.DefaultSink()
	}
	return c.SinkByID(sinkID)
}

// Start records the sink's monitor as 16 kHz mono
func (l *loopbackCapture) Start(onChunk func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stream != nil {
		return nil
	}

	c, err := pulse.NewClient(pulse.ClientApplicationName(applicationName))
	if err != nil {
		return fmt.Errorf("unable to open a client to Pulse: %w", err)
	}

	sink, err := resolveSink(c, l.sinkID)
	if err != nil {
		c.Close()
		return fmt.Errorf("unable to find sink %q: %w", l.sinkID, err)
	}

	resampler := newFrameResampler(entities.CanonicalSampleRate)
	writer := pulse.Int16Writer(func(p []int16) (int, error) {
		for _, frame := range resampler.Push(p) {
			onChunk(frame)
		}
		return len(p), nil
	})

	stream, err := c.NewRecord(writer,
		pulse.RecordMonitor(sink),
		pulse.RecordMono,
		pulse.RecordSampleRate(entities.CanonicalSampleRate),
		pulse.RecordMediaName("meeting loopback"),
	)
	if err != nil {
		c.Close()
		return fmt.Errorf("unable to initialize a recording: %w", err)
	}

	stream.Start()
	if err := stream.Error(); err != nil {
		stream.Close()
		c.Close()
		return fmt.Errorf("an error occurred during recording: %w", err)
	}

	l.client = c
	l.stream = stream
	l.logger.Debug("Pulse monitor recording started", zap.String("sink_name", sink.Name()))
	return nil
}

// Stop ends the recording and disconnects from the server
func (l *loopbackCapture) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stream == nil {
		return nil
	}

	stream, c := l.stream, l.client
	l.stream, l.client = nil, nil

	var result *multierror.Error
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = multierror.Append(result, fmt.Errorf("got a panic: %v", r))
			}
		}()
		stream.Stop()
		if streamErr := stream.Error(); streamErr != nil {
			result = multierror.Append(result, streamErr)
		}
		stream.Close()
		c.Close()
	}()
	return result.ErrorOrNil()
}

func (l *loopbackCapture) SampleRate() int {
	return entities.CanonicalSampleRate
}

// ListOutputDevices lists PulseAudio sinks whose monitor can be recorded, "default" first
func ListOutputDevices() ([]entities.AudioDevice, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName(applicationName))
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	defer c.Close()

	sinks, err := c.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("failed to list sinks: %w", err)
	}
	defaultSink, _ := c.DefaultSink()

	result := []entities.AudioDevice{entities.DefaultAudioDevice(entities.SourceSystemOutput)}
	for _, s := range sinks {
		result = append(result, entities.AudioDevice{
			ID:        s.ID(),
			Name:      s.Name(),
			Kind:      entities.SourceSystemOutput,
			IsDefault: defaultSink != nil && defaultSink.ID() == s.ID(),
		})
	}
	return result, nil
}
