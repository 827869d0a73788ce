package repositories

import (
	"errors"

	"github.com/satriahrh/arunika/copilot/domain/entities"
)

// ErrCaptureUnavailable is reported when the native capture capability failed to load
var ErrCaptureUnavailable = errors.New("native audio capture is unavailable")

// NativeCapture is one opened hardware capture endpoint
type NativeCapture interface {
	// Start begins delivering PCM chunks to onChunk from a capture thread
	Start(onChunk func(chunk []byte)) error
	// Stop halts delivery and releases the OS device
	Stop() error
	SampleRate() int
}

// CaptureOpener constructs native capture handles for a device id
type CaptureOpener interface {
	Open(deviceID string) (NativeCapture, error)
}

// CaptureOpenerFunc adapts a function to CaptureOpener
type CaptureOpenerFunc func(deviceID string) (NativeCapture, error)

// Open implements CaptureOpener
func (f CaptureOpenerFunc) Open(deviceID string) (NativeCapture, error) {
	return f(deviceID)
}

// DeviceCatalog lists the endpoints capture sources can bind to
type DeviceCatalog interface {
	ListInputDevices() ([]entities.AudioDevice, error)
	ListOutputDevices() ([]entities.AudioDevice, error)
}
