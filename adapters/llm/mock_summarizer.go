package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// MockSummarizer produces a deterministic summary without calling a model
type MockSummarizer struct{}

// NewMockSummarizer creates a new mock summarizer
func NewMockSummarizer() repositories.MeetingSummarizer {
	return &MockSummarizer{}
}

// Summarize implements MeetingSummarizer
func (m *MockSummarizer) Summarize(ctx context.Context, meeting *entities.Meeting) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(meeting.Segments) == 0 {
		return "", nil
	}

	counts := make(map[entities.Speaker]int)
	for _, s := range meeting.Segments {
		counts[s.Speaker]++
	}
	last := meeting.Segments[len(meeting.Segments)-1]
	return fmt.Sprintf("%s: %d user and %d interviewer segments. Last said: %s",
		meeting.Title,
		counts[entities.SpeakerUser],
		counts[entities.SpeakerInterviewer],
		strings.TrimSpace(last.Text)), nil
}
