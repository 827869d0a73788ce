package entities

// AudioDevice is a capture endpoint the UI can bind a source to
type AudioDevice struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      SourceKind `json:"kind"`
	IsDefault bool       `json:"is_default"`
}

// DefaultAudioDevice is the synthetic entry listed first for every kind
func DefaultAudioDevice(kind SourceKind) AudioDevice {
	return AudioDevice{
		ID:        DefaultDeviceID,
		Name:      "System default",
		Kind:      kind,
		IsDefault: true,
	}
}
