package capture

import (
	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// NativeCatalog lists PortAudio inputs and PulseAudio sinks
type NativeCatalog struct{}

var _ repositories.DeviceCatalog = NativeCatalog{}

// ListInputDevices implements DeviceCatalog
func (NativeCatalog) ListInputDevices() ([]entities.AudioDevice, error) {
	return ListInputDevices()
}

// ListOutputDevices implements DeviceCatalog
func (NativeCatalog) ListOutputDevices() ([]entities.AudioDevice, error) {
	return ListOutputDevices()
}

// MockCatalog lists the devices served by MockOpener
type MockCatalog struct{}

var _ repositories.DeviceCatalog = MockCatalog{}

// ListInputDevices implements DeviceCatalog
func (MockCatalog) ListInputDevices() ([]entities.AudioDevice, error) {
	return []entities.AudioDevice{
		entities.DefaultAudioDevice(entities.SourceMicrophone),
		{ID: "mock-mic", Name: "Synthetic microphone", Kind: entities.SourceMicrophone},
	}, nil
}

// ListOutputDevices implements DeviceCatalog
func (MockCatalog) ListOutputDevices() ([]entities.AudioDevice, error) {
	return []entities.AudioDevice{
		entities.DefaultAudioDevice(entities.SourceSystemOutput),
		{ID: "mock-sink", Name: "Synthetic speakers", Kind: entities.SourceSystemOutput},
	}, nil
}
