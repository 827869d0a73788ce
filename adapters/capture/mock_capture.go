package capture

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// MockOpener produces a synthetic tone, for machines without audio hardware
type MockOpener struct {
	// Frequency of the generated tone in Hz
	Frequency float64
	// Amplitude of the generated tone, 0 to 32767
	Amplitude float64
	Logger    *zap.Logger
}

// Open implements CaptureOpener
func (o MockOpener) Open(deviceID string) (repositories.NativeCapture, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &mockCapture{
		frequency: o.Frequency,
		amplitude: o.Amplitude,
		logger:    logger.With(zap.String("device", deviceID)),
	}, nil
}

type mockCapture struct {
	frequency float64
	amplitude float64
	logger    *zap.Logger

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (m *mockCapture) Start(onChunk func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return nil
	}
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go m.generate(m.stop, onChunk)
	m.logger.Debug("Synthetic capture started")
	return nil
}

func (m *mockCapture) generate(stop <-chan struct{}, onChunk func([]byte)) {
	defer m.wg.Done()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame := make([]byte, entities.FrameBytes)
			for i := 0; i < entities.FrameSamples; i++ {
				t := float64(n) / entities.CanonicalSampleRate
				v := int16(m.amplitude * math.Sin(2*math.Pi*m.frequency*t))
				binary.LittleEndian.PutUint16(frame[i*2:], uint16(v))
				n++
			}
			onChunk(frame)
		}
	}
}

func (m *mockCapture) Stop() error {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	m.wg.Wait()
	return nil
}

func (m *mockCapture) SampleRate() int {
	return entities.CanonicalSampleRate
}
