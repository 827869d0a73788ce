package session

import (
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/internal/capture"
)

// switchDevice replaces the source of kind with one bound to deviceID.
// The caller reconciles afterwards so the new source starts if capture is running.
func (o *Orchestrator) switchDevice(kind entities.SourceKind, deviceID string) {
	binding := entities.NewDeviceBinding(kind, deviceID)

	if current := o.source(kind); current != nil {
		current.ClearListener()
		current.Stop()
	}

	var next *capture.Source
	switch kind {
	case entities.SourceMicrophone:
		next = capture.NewMicrophoneSource(binding.DeviceID, o.micOpener, o.logger)
	case entities.SourceSystemOutput:
		next = capture.NewSystemAudioSource(binding.DeviceID, o.systemOpener, o.logger)
	default:
		o.logger.Error("Unknown source kind", zap.String("source", string(kind)))
		return
	}
	next.ClearListener()
	next.SetListener(sourceListener{o: o})
	o.setSource(kind, next)

	o.logger.Info("Capture device bound",
		zap.String("source", string(kind)),
		zap.String("device", binding.DeviceID))
}

func (o *Orchestrator) source(kind entities.SourceKind) *capture.Source {
	if kind == entities.SourceMicrophone {
		return o.mic
	}
	return o.system
}

func (o *Orchestrator) setSource(kind entities.SourceKind, src *capture.Source) {
	if kind == entities.SourceMicrophone {
		o.mic = src
		return
	}
	o.system = src
}
