package repositories

import (
	"context"

	"github.com/satriahrh/arunika/copilot/domain/entities"
)

// MeetingSummarizer abstracts the language model that digests a finished meeting
type MeetingSummarizer interface {
	// Summarize returns a short written summary of the meeting transcript
	Summarize(ctx context.Context, meeting *entities.Meeting) (string, error)
}
