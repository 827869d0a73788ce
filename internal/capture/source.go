// Package capture wraps native capture endpoints in sources with an explicit
// Unbound/Bound lifecycle.
package capture

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// Listener receives the events a source emits
type Listener interface {
	OnSourceData(kind entities.SourceKind, chunk []byte)
	OnSourceError(kind entities.SourceKind, err error)
}

// slot owns at most one native handle. An empty slot is Unbound.
type slot struct {
	handle     repositories.NativeCapture
	generation uint64
}

func (s *slot) bound() bool {
	return s.handle != nil
}

func (s *slot) bind(handle repositories.NativeCapture) uint64 {
	s.handle = handle
	s.generation++
	return s.generation
}

func (s *slot) release() repositories.NativeCapture {
	h := s.handle
	s.handle = nil
	return h
}

// Source is one capture endpoint. The native handle is opened on Start and
// released on Stop; it never exists while the source is stopped.
type Source struct {
	kind     entities.SourceKind
	deviceID string
	opener   repositories.CaptureOpener
	logger   *zap.Logger

	mu        sync.Mutex
	slot      slot
	recording bool
	listener  Listener
}

// NewSource creates an unbound source. A nil opener marks the capture
// capability as unavailable: every Start then emits ErrCaptureUnavailable.
func NewSource(kind entities.SourceKind, deviceID string, opener repositories.CaptureOpener, logger *zap.Logger) *Source {
	binding := entities.NewDeviceBinding(kind, deviceID)
	return &Source{
		kind:     kind,
		deviceID: binding.DeviceID,
		opener:   opener,
		logger:   logger.Named("capture").With(zap.String("source", string(kind)), zap.String("device", binding.DeviceID)),
	}
}

// NewMicrophoneSource creates a source for an input device
func NewMicrophoneSource(deviceID string, opener repositories.CaptureOpener, logger *zap.Logger) *Source {
	return NewSource(entities.SourceMicrophone, deviceID, opener, logger)
}

// NewSystemAudioSource creates a loopback source for an output device
func NewSystemAudioSource(deviceID string, opener repositories.CaptureOpener, logger *zap.Logger) *Source {
	return NewSource(entities.SourceSystemOutput, deviceID, opener, logger)
}

// Kind returns the source kind
func (s *Source) Kind() entities.SourceKind {
	return s.kind
}

// Binding returns the device binding of this source
func (s *Source) Binding() entities.DeviceBinding {
	return entities.DeviceBinding{SourceKind: s.kind, DeviceID: s.deviceID}
}

// SetListener attaches the single listener, replacing any previous one
func (s *Source) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// ClearListener detaches the listener
func (s *Source) ClearListener() {
	s.SetListener(nil)
}

// Recording reports whether the source is started
func (s *Source) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// SampleRate reports the native rate while bound, else the canonical rate
func (s *Source) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slot.bound() {
		if rate := s.slot.handle.SampleRate(); rate > 0 {
			return rate
		}
	}
	return entities.CanonicalSampleRate
}

// Start opens the native handle and begins capture. It is a no-op while recording.
// Failures are emitted to the listener and leave the source stopped.
func (s *Source) Start() {
	s.mu.Lock()
	if s.recording {
		s.mu.Unlock()
		return
	}

	// Unavailability is reported on every start and logged by the owner.
	if s.opener == nil {
		l := s.listener
		s.mu.Unlock()
		if l != nil {
			l.OnSourceError(s.kind, repositories.ErrCaptureUnavailable)
		}
		return
	}

	var handle repositories.NativeCapture
	err := guard(func() error {
		var openErr error
		handle, openErr = s.opener.Open(s.deviceID)
		return openErr
	})
	if err == nil && handle == nil {
		err = fmt.Errorf("opener returned no handle")
	}
	if err != nil {
		s.mu.Unlock()
		s.emitError(fmt.Errorf("failed to open capture device %q: %w", s.deviceID, err))
		return
	}

	gen := s.slot.bind(handle)
	s.recording = true
	s.mu.Unlock()

	// Native Start runs unlocked: the capture thread may deliver chunks before it returns.
	err = guard(func() error {
		return handle.Start(func(chunk []byte) {
			s.deliver(gen, chunk)
		})
	})
	if err == nil {
		s.logger.Info("Capture started", zap.Int("sample_rate", handle.SampleRate()))
		return
	}

	s.mu.Lock()
	if s.slot.generation == gen && s.slot.bound() {
		s.slot.release()
		s.recording = false
	}
	s.mu.Unlock()
	if stopErr := guard(handle.Stop); stopErr != nil {
		s.logger.Debug("Failed to release handle after start failure", zap.Error(stopErr))
	}
	s.emitError(fmt.Errorf("failed to start capture device %q: %w", s.deviceID, err))
}

// Stop halts capture and releases the native handle. It is a no-op when stopped.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return
	}
	s.recording = false
	handle := s.slot.release()
	s.mu.Unlock()

	if handle == nil {
		return
	}
	// Stop joins the capture thread, which may be waiting on s.mu in deliver.
	if err := guard(handle.Stop); err != nil {
		s.emitError(fmt.Errorf("failed to stop capture device %q: %w", s.deviceID, err))
		return
	}
	s.logger.Info("Capture stopped")
}

func (s *Source) deliver(gen uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording || s.slot.generation != gen || s.listener == nil {
		return
	}
	s.listener.OnSourceData(s.kind, chunk)
}

func (s *Source) emitError(err error) {
	s.logger.Warn("Capture source error", zap.Error(err))

	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnSourceError(s.kind, err)
	}
}

// guard converts a panic inside the native layer into an error
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	return fn()
}
