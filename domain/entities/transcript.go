package entities

import (
	"errors"
	"fmt"
)

// Speaker identifies one of the two transcript lanes
type Speaker string

const (
	SpeakerUser        Speaker = "user"
	SpeakerInterviewer Speaker = "interviewer"
)

// SourceKind identifies a capture endpoint
type SourceKind string

const (
	SourceMicrophone   SourceKind = "mic"
	SourceSystemOutput SourceKind = "systemOutput"
)

// DefaultDeviceID selects the system default endpoint for a source kind
const DefaultDeviceID = "default"

// Audio format delivered by the capture layer: 16 kHz, mono, 16-bit little-endian,
// in 10 ms frames.
const (
	CanonicalSampleRate = 16000
	FrameSamples        = 160
	FrameBytes          = FrameSamples * 2
	StereoFrameBytes    = FrameBytes * 2
	EncodingLinear16    = "LINEAR16"
)

// Recognition is a recognizer result before a speaker label and timestamp are attached
type Recognition struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float32 `json:"confidence"`
}

// TranscriptSegment is an immutable, labeled transcript event
type TranscriptSegment struct {
	Speaker     Speaker `json:"speaker" bson:"speaker"`
	Text        string  `json:"text" bson:"text"`
	TimestampMs int64   `json:"timestamp_ms" bson:"timestamp_ms"`
	IsFinal     bool    `json:"is_final" bson:"is_final"`
	Confidence  float32 `json:"confidence" bson:"confidence"`
}

// DeviceBinding ties a source kind to a device id
type DeviceBinding struct {
	SourceKind SourceKind `json:"source_kind"`
	DeviceID   string     `json:"device_id"`
}

// NewDeviceBinding normalizes an empty device id to the default endpoint
func NewDeviceBinding(kind SourceKind, deviceID string) DeviceBinding {
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	return DeviceBinding{SourceKind: kind, DeviceID: deviceID}
}

// SessionState is derived from the meeting and audio test flags
type SessionState string

const (
	SessionIdle          SessionState = "idle"
	SessionTestActive    SessionState = "test_active"
	SessionMeetingActive SessionState = "meeting_active"
)

// DeriveSessionState maps the two independent flags to a single state.
// A running meeting takes precedence over an audio test.
func DeriveSessionState(meetingActive, audioTestActive bool) SessionState {
	switch {
	case meetingActive:
		return SessionMeetingActive
	case audioTestActive:
		return SessionTestActive
	default:
		return SessionIdle
	}
}

// StreamConfig is the recognition configuration owned by one stream
type StreamConfig struct {
	SampleRateHz int    `json:"sample_rate_hz"`
	ChannelCount int    `json:"channel_count"`
	LanguageCode string `json:"language_code"`
	Encoding     string `json:"encoding"`
	Model        string `json:"model"`
	UseEnhanced  bool   `json:"use_enhanced"`
}

// DefaultStreamConfig returns the canonical capture format for languageCode
func DefaultStreamConfig(languageCode string) StreamConfig {
	return StreamConfig{
		SampleRateHz: CanonicalSampleRate,
		ChannelCount: 1,
		LanguageCode: languageCode,
		Encoding:     EncodingLinear16,
	}
}

var (
	ErrInvalidSampleRate   = errors.New("sample rate must be positive")
	ErrInvalidChannelCount = errors.New("channel count must be 1 or 2")
)

// ValidateSampleRate checks a sample rate in Hz
func ValidateSampleRate(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, hz)
	}
	return nil
}

// ValidateChannelCount checks an audio channel count
func ValidateChannelCount(n int) error {
	if n != 1 && n != 2 {
		return fmt.Errorf("%w: %d", ErrInvalidChannelCount, n)
	}
	return nil
}

// Validate validates the stream configuration
func (c StreamConfig) Validate() error {
	if err := ValidateSampleRate(c.SampleRateHz); err != nil {
		return err
	}
	if err := ValidateChannelCount(c.ChannelCount); err != nil {
		return err
	}
	if c.LanguageCode == "" {
		return errors.New("language_code is required")
	}
	if c.Encoding != EncodingLinear16 {
		return fmt.Errorf("unsupported encoding: %s", c.Encoding)
	}
	return nil
}
