package domain

// MeetingAudio names the devices a meeting should capture from
type MeetingAudio struct {
	InputDeviceID  string `json:"inputDeviceId,omitempty" bson:"input_device_id,omitempty"`
	OutputDeviceID string `json:"outputDeviceId,omitempty" bson:"output_device_id,omitempty"`
}

// MeetingMetadata is supplied by the UI when a meeting starts
type MeetingMetadata struct {
	Title string       `json:"title,omitempty" bson:"title,omitempty"`
	Audio MeetingAudio `json:"audio" bson:"audio"`
}
