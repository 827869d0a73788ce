package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/arunika/copilot/domain"
	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/internal/session"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Server to client
const (
	MessageTypeTranscript   MessageType = "transcript"
	MessageTypeLevel        MessageType = "level"
	MessageTypeSourceError  MessageType = "source_error"
	MessageTypeStreamError  MessageType = "stream_error"
	MessageTypeSessionState MessageType = "session_state"
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
)

// Client to server
const (
	MessageTypeStartAudioTest MessageType = "start_audio_test"
	MessageTypeStopAudioTest  MessageType = "stop_audio_test"
	MessageTypeStartMeeting   MessageType = "start_meeting"
	MessageTypeEndMeeting     MessageType = "end_meeting"
	MessageTypeSetMicrophone  MessageType = "set_microphone"
	MessageTypeSetSystemAudio MessageType = "set_system_audio"
	MessageTypePing           MessageType = "ping"
)

// Error codes sent in ErrorMessage
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeCommandFailed  = "command_failed"
	ErrorCodeUnsupported    = "unsupported"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// TranscriptMessage carries one recognized segment
type TranscriptMessage struct {
	BaseMessage
	Speaker     entities.Speaker `json:"speaker"`
	Text        string           `json:"text"`
	IsFinal     bool             `json:"is_final"`
	Confidence  float32          `json:"confidence,omitempty"`
	TimestampMs int64            `json:"timestamp_ms"`
}

// LevelMessage carries the microphone level during an audio test
type LevelMessage struct {
	BaseMessage
	Level float64 `json:"level"`
}

// SourceErrorMessage reports a capture failure
type SourceErrorMessage struct {
	BaseMessage
	Source  entities.SourceKind `json:"source"`
	Message string              `json:"message"`
}

// StreamErrorMessage reports a recognizer failure
type StreamErrorMessage struct {
	BaseMessage
	Speaker entities.Speaker `json:"speaker"`
	Message string           `json:"message"`
}

// SessionStateMessage is sent after every control command
type SessionStateMessage struct {
	BaseMessage
	InReplyTo MessageType    `json:"in_reply_to,omitempty"`
	Status    session.Status `json:"status"`
}

// AudioTestMessage starts an audio test, optionally on another microphone
type AudioTestMessage struct {
	BaseMessage
	DeviceID string `json:"device_id,omitempty"`
}

// StartMeetingMessage starts a meeting
type StartMeetingMessage struct {
	BaseMessage
	Title string              `json:"title,omitempty"`
	Audio domain.MeetingAudio `json:"audio"`
}

// Metadata converts the message to meeting metadata
func (m *StartMeetingMessage) Metadata() *domain.MeetingMetadata {
	return &domain.MeetingMetadata{Title: m.Title, Audio: m.Audio}
}

// SetDeviceMessage rebinds a capture source
type SetDeviceMessage struct {
	BaseMessage
	DeviceID string `json:"device_id"`
}

// ControlMessage is a bare command without arguments
type ControlMessage struct {
	BaseMessage
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage decodes and validates an incoming client message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeStartAudioTest:
		var msg AudioTestMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid audio test message: %w", err)
		}
		return &msg, nil

	case MessageTypeStopAudioTest, MessageTypeEndMeeting:
		var msg ControlMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s message: %w", base.Type, err)
		}
		return &msg, nil

	case MessageTypeStartMeeting:
		var msg StartMeetingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid start meeting message: %w", err)
		}
		if len(msg.Title) > 200 {
			return nil, fmt.Errorf("title must be at most 200 characters")
		}
		return &msg, nil

	case MessageTypeSetMicrophone, MessageTypeSetSystemAudio:
		var msg SetDeviceMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid %s message: %w", base.Type, err)
		}
		if msg.DeviceID == "" {
			return nil, fmt.Errorf("device_id is required")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case "":
		return nil, fmt.Errorf("type is required")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}

// CreateTranscriptMessage wraps a transcript segment
func CreateTranscriptMessage(segment entities.TranscriptSegment) *TranscriptMessage {
	return &TranscriptMessage{
		BaseMessage: newBase(MessageTypeTranscript),
		Speaker:     segment.Speaker,
		Text:        segment.Text,
		IsFinal:     segment.IsFinal,
		Confidence:  segment.Confidence,
		TimestampMs: segment.TimestampMs,
	}
}

// CreateLevelMessage wraps a level reading
func CreateLevelMessage(level float64) *LevelMessage {
	return &LevelMessage{BaseMessage: newBase(MessageTypeLevel), Level: level}
}

// CreateSourceErrorMessage wraps a capture error
func CreateSourceErrorMessage(kind entities.SourceKind, err error) *SourceErrorMessage {
	return &SourceErrorMessage{BaseMessage: newBase(MessageTypeSourceError), Source: kind, Message: err.Error()}
}

// CreateStreamErrorMessage wraps a recognizer error
func CreateStreamErrorMessage(speaker entities.Speaker, err error) *StreamErrorMessage {
	return &StreamErrorMessage{BaseMessage: newBase(MessageTypeStreamError), Speaker: speaker, Message: err.Error()}
}

// CreateSessionStateMessage wraps an orchestrator status
func CreateSessionStateMessage(replyTo MessageType, status session.Status) *SessionStateMessage {
	return &SessionStateMessage{BaseMessage: newBase(MessageTypeSessionState), InReplyTo: replyTo, Status: status}
}
