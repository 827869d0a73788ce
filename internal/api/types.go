package api

import (
	"time"

	"github.com/satriahrh/arunika/copilot/domain"
)

// TokenRequest asks for a UI token in development mode
type TokenRequest struct {
	ClientID string `json:"client_id"`
}

// TokenResponse represents the response payload for token issue
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AudioTestRequest starts an audio test; an empty device keeps the current binding
type AudioTestRequest struct {
	DeviceID string `json:"device_id"`
}

// StartMeetingRequest is the meeting metadata the UI supplies
type StartMeetingRequest struct {
	Title string              `json:"title"`
	Audio domain.MeetingAudio `json:"audio"`
}

// DeviceRequest rebinds a capture source
type DeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// CredentialsRequest points the recognizers at a new credentials file
type CredentialsRequest struct {
	Path string `json:"path" validate:"required"`
}

// LanguageRequest selects the recognition language for the next streams
type LanguageRequest struct {
	LanguageCode string `json:"language_code" validate:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
