// Package postmeeting defines the saga that runs after a meeting ends:
// persist the transcript, summarize it, and store the summary.
package postmeeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
	"github.com/satriahrh/arunika/copilot/internal/saga"
)

// DefinitionID names the post-meeting saga
const DefinitionID = "post_meeting"

// Data keys for the post-meeting saga
const (
	DataKeyMeeting = "meeting"
	DataKeySummary = "summary"
)

const defaultTimeout = 2 * time.Minute

var errMissingMeeting = errors.New("saga data has no meeting")

// Definition defines the post-meeting saga
type Definition struct {
	repo       repositories.MeetingRepository
	summarizer repositories.MeetingSummarizer
	logger     *zap.Logger
	timeout    time.Duration
}

// NewDefinition creates the post-meeting saga definition. A zero timeout means two minutes.
func NewDefinition(repo repositories.MeetingRepository, summarizer repositories.MeetingSummarizer, timeout time.Duration, logger *zap.Logger) *Definition {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Definition{
		repo:       repo,
		summarizer: summarizer,
		logger:     logger.Named("post_meeting"),
		timeout:    timeout,
	}
}

func (d *Definition) ID() string {
	return DefinitionID
}

func (d *Definition) Timeout() time.Duration {
	return d.timeout
}

func (d *Definition) Steps() []saga.Step {
	return []saga.Step{
		&PersistMeetingStep{repo: d.repo, logger: d.logger},
		&SummarizeMeetingStep{summarizer: d.summarizer, logger: d.logger},
		&StoreSummaryStep{repo: d.repo, logger: d.logger},
	}
}

func meetingFrom(data saga.SagaData) (*entities.Meeting, error) {
	meeting, ok := data[DataKeyMeeting].(*entities.Meeting)
	if !ok || meeting == nil {
		return nil, errMissingMeeting
	}
	return meeting, nil
}

// PersistMeetingStep stores the ended meeting with its transcript
type PersistMeetingStep struct {
	repo   repositories.MeetingRepository
	logger *zap.Logger
}

func (s *PersistMeetingStep) ID() saga.StepID {
	return "persist_meeting"
}

func (s *PersistMeetingStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	meeting, err := meetingFrom(data)
	if err != nil {
		return saga.Failed(err)
	}

	if err := s.repo.Create(ctx, meeting); err != nil {
		return saga.Failed(fmt.Errorf("failed to persist meeting: %w", err))
	}

	s.logger.Info("Meeting persisted",
		zap.String("meeting_id", meeting.ID),
		zap.Int("segments", len(meeting.Segments)))
	return saga.Succeeded(nil)
}

// Compensate keeps the transcript but marks the meeting failed
func (s *PersistMeetingStep) Compensate(ctx context.Context, data saga.SagaData) error {
	meeting, err := meetingFrom(data)
	if err != nil {
		return err
	}

	reason, _ := data[saga.DataKeyFailure].(string)
	if reason == "" {
		reason = "post-meeting processing failed"
	}

	failed := *meeting
	failed.MarkFailed(reason)
	if err := s.repo.Update(ctx, &failed); err != nil {
		return fmt.Errorf("failed to mark meeting failed: %w", err)
	}

	s.logger.Warn("Meeting marked failed",
		zap.String("meeting_id", meeting.ID),
		zap.String("reason", reason))
	return nil
}

// SummarizeMeetingStep asks the language model for a summary
type SummarizeMeetingStep struct {
	summarizer repositories.MeetingSummarizer
	logger     *zap.Logger
}

func (s *SummarizeMeetingStep) ID() saga.StepID {
	return "summarize_meeting"
}

func (s *SummarizeMeetingStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	meeting, err := meetingFrom(data)
	if err != nil {
		return saga.Failed(err)
	}

	if len(meeting.Segments) == 0 {
		s.logger.Info("Empty transcript, skipping summary", zap.String("meeting_id", meeting.ID))
		return saga.Succeeded(saga.SagaData{DataKeySummary: ""})
	}

	summary, err := s.summarizer.Summarize(ctx, meeting)
	if err != nil {
		return saga.Failed(fmt.Errorf("failed to summarize meeting: %w", err))
	}
	return saga.Succeeded(saga.SagaData{DataKeySummary: summary})
}

func (s *SummarizeMeetingStep) Compensate(ctx context.Context, data saga.SagaData) error {
	return nil
}

// StoreSummaryStep writes the summary and marks the meeting processed
type StoreSummaryStep struct {
	repo   repositories.MeetingRepository
	logger *zap.Logger
}

func (s *StoreSummaryStep) ID() saga.StepID {
	return "store_summary"
}

func (s *StoreSummaryStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	meeting, err := meetingFrom(data)
	if err != nil {
		return saga.Failed(err)
	}
	summary, _ := data[DataKeySummary].(string)

	processed := *meeting
	processed.MarkProcessed(summary)
	if err := s.repo.Update(ctx, &processed); err != nil {
		return saga.Failed(fmt.Errorf("failed to store summary: %w", err))
	}

	s.logger.Info("Meeting processed", zap.String("meeting_id", meeting.ID))
	return saga.Succeeded(nil)
}

func (s *StoreSummaryStep) Compensate(ctx context.Context, data saga.SagaData) error {
	return nil
}
