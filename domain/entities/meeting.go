package entities

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/arunika/copilot/domain"
)

// MeetingStatus represents the status of a meeting
type MeetingStatus string

const (
	MeetingStatusActive    MeetingStatus = "active"
	MeetingStatusEnded     MeetingStatus = "ended"
	MeetingStatusProcessed MeetingStatus = "processed"
	MeetingStatusFailed    MeetingStatus = "failed"
)

// Meeting is the record of one meeting session and its final transcript
type Meeting struct {
	ID        string                 `json:"id" bson:"_id"`
	Title     string                 `json:"title" bson:"title"`
	Status    MeetingStatus          `json:"status" bson:"status"`
	Metadata  domain.MeetingMetadata `json:"metadata" bson:"metadata"`
	Segments  []TranscriptSegment    `json:"segments" bson:"segments"`
	Summary   string                 `json:"summary,omitempty" bson:"summary,omitempty"`
	Failure   string                 `json:"failure,omitempty" bson:"failure,omitempty"`
	StartedAt time.Time              `json:"started_at" bson:"started_at"`
	EndedAt   *time.Time             `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	UpdatedAt time.Time              `json:"updated_at" bson:"updated_at"`
}

// NewMeeting creates an active meeting from the metadata the UI supplied
func NewMeeting(metadata domain.MeetingMetadata) *Meeting {
	now := time.Now()
	title := metadata.Title
	if title == "" {
		title = "Meeting " + now.Format("2006-01-02 15:04")
	}
	return &Meeting{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    MeetingStatusActive,
		Metadata:  metadata,
		Segments:  make([]TranscriptSegment, 0),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// AddSegment appends a final transcript segment. Interim segments are ignored.
func (m *Meeting) AddSegment(segment TranscriptSegment) bool {
	if !segment.IsFinal || strings.TrimSpace(segment.Text) == "" {
		return false
	}
	m.Segments = append(m.Segments, segment)
	m.UpdatedAt = time.Now()
	return true
}

// End marks the meeting as ended
func (m *Meeting) End() {
	now := time.Now()
	m.Status = MeetingStatusEnded
	m.EndedAt = &now
	m.UpdatedAt = now
}

// MarkProcessed stores the summary produced after the meeting
func (m *Meeting) MarkProcessed(summary string) {
	m.Summary = summary
	m.Status = MeetingStatusProcessed
	m.Failure = ""
	m.UpdatedAt = time.Now()
}

// MarkFailed records why post-meeting processing did not complete
func (m *Meeting) MarkFailed(reason string) {
	m.Status = MeetingStatusFailed
	m.Failure = reason
	m.UpdatedAt = time.Now()
}

// Duration returns how long the meeting ran, or has been running
func (m *Meeting) Duration() time.Duration {
	if m.EndedAt == nil {
		return time.Since(m.StartedAt)
	}
	return m.EndedAt.Sub(m.StartedAt)
}

// Transcript renders the final segments as speaker-labeled lines
func (m *Meeting) Transcript() string {
	var b strings.Builder
	for _, s := range m.Segments {
		fmt.Fprintf(&b, "[%s] %s\n", s.Speaker, strings.TrimSpace(s.Text))
	}
	return b.String()
}

// Validate validates the meeting data
func (m *Meeting) Validate() error {
	if m.ID == "" {
		return errors.New("id is required")
	}

	switch m.Status {
	case MeetingStatusActive, MeetingStatusEnded, MeetingStatusProcessed, MeetingStatusFailed:
	default:
		return errors.New("invalid meeting status")
	}

	for i, s := range m.Segments {
		if s.Speaker != SpeakerUser && s.Speaker != SpeakerInterviewer {
			return fmt.Errorf("segment %d has invalid speaker %q", i, s.Speaker)
		}
	}

	return nil
}
