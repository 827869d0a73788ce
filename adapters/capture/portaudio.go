package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// framesPerBuffer at 48 kHz is 10 ms
const framesPerBuffer = 480

// MicrophoneOpener opens PortAudio input devices
type MicrophoneOpener struct {
	logger *zap.Logger
}

// NewMicrophoneOpener initializes PortAudio. Call Close when done.
func NewMicrophoneOpener(logger *zap.Logger) (*MicrophoneOpener, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &MicrophoneOpener{logger: logger.Named("portaudio")}, nil
}

// Open resolves deviceID to an input device. The stream is opened on Start.
func (o *MicrophoneOpener) Open(deviceID string) (repositories.NativeCapture, error) {
	device, err := findInputDevice(deviceID)
	if err != nil {
		return nil, err
	}
	return &microphoneCapture{device: device, logger: o.logger.With(zap.String("device", device.Name))}, nil
}

// Close terminates PortAudio
func (o *MicrophoneOpener) Close() error {
	return portaudio.Terminate()
}

func findInputDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" || deviceID == entities.DefaultDeviceID {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", deviceID)
}

type microphoneCapture struct {
	device *portaudio.DeviceInfo
	logger *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

// Start opens a mono callback stream at the device's default rate
func (m *microphoneCapture) Start(onChunk func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil
	}

	resampler := newFrameResampler(int(m.device.DefaultSampleRate))
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   m.device,
			Channels: 1,
			Latency:  m.device.DefaultLowInputLatency,
		},
		SampleRate:      m.device.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, func(in []int16) {
		for _, frame := range resampler.Push(in) {
			onChunk(frame)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	m.stream = stream
	m.logger.Debug("PortAudio stream started", zap.Float64("native_rate", m.device.DefaultSampleRate))
	return nil
}

// Stop waits for the callback to return and closes the stream
func (m *microphoneCapture) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}

	stream := m.stream
	m.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	return stream.Close()
}

// SampleRate is the rate of delivered frames, not the device rate
func (m *microphoneCapture) SampleRate() int {
	return entities.CanonicalSampleRate
}

// ListInputDevices lists PortAudio capture devices, "default" first
func ListInputDevices() ([]entities.AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := []entities.AudioDevice{entities.DefaultAudioDevice(entities.SourceMicrophone)}
	defaultDevice, _ := portaudio.DefaultInputDevice()
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, entities.AudioDevice{
				ID:        d.Name,
				Name:      d.Name,
				Kind:      entities.SourceMicrophone,
				IsDefault: d == defaultDevice,
			})
		}
	}
	return result, nil
}
