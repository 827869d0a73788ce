package capture

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/satriahrh/arunika/copilot/domain/entities"
)

func TestMockCaptureDeliversFrames(t *testing.T) {
	handle, err := MockOpener{Frequency: 440, Amplitude: 6000}.Open("mock-mic")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var frames, badSize atomic.Int32
	err = handle.Start(func(chunk []byte) {
		frames.Add(1)
		if len(chunk) != entities.FrameBytes {
			badSize.Add(1)
		}
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for frames.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := handle.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if frames.Load() < 3 {
		t.Errorf("Expected at least 3 frames, got %d", frames.Load())
	}
	if badSize.Load() != 0 {
		t.Errorf("Got %d frames of the wrong size", badSize.Load())
	}

	after := frames.Load()
	time.Sleep(30 * time.Millisecond)
	if frames.Load() != after {
		t.Error("Frames delivered after Stop")
	}

	if handle.SampleRate() != entities.CanonicalSampleRate {
		t.Errorf("Expected %d Hz, got %d", entities.CanonicalSampleRate, handle.SampleRate())
	}
}

func TestMockCatalogListsDefaultFirst(t *testing.T) {
	inputs, _ := MockCatalog{}.ListInputDevices()
	outputs, _ := MockCatalog{}.ListOutputDevices()
	if inputs[0].ID != entities.DefaultDeviceID || outputs[0].ID != entities.DefaultDeviceID {
		t.Error("Expected the default entry first")
	}
}
