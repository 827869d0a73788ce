package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain"
	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
	"github.com/satriahrh/arunika/copilot/internal/saga"
	"github.com/satriahrh/arunika/copilot/internal/saga/postmeeting"
	"github.com/satriahrh/arunika/copilot/internal/session"
)

const defaultListLimit = 50

// MeetingService records the final transcript of the active meeting and runs
// the post-meeting saga once it ends
type MeetingService struct {
	repo        repositories.MeetingRepository
	sagaManager *saga.Manager
	logger      *zap.Logger

	mu      sync.Mutex
	current *entities.Meeting
	// meetings that ended but were not yet picked up by ProcessMeeting
	pending []*entities.Meeting
}

var (
	_ session.Subscriber       = (*MeetingService)(nil)
	_ session.MeetingProcessor = (*MeetingService)(nil)
)

// NewMeetingService creates a new meeting service and registers the
// post-meeting saga with the manager
func NewMeetingService(
	repo repositories.MeetingRepository,
	sagaManager *saga.Manager,
	definition *postmeeting.Definition,
	logger *zap.Logger,
) *MeetingService {
	sagaManager.RegisterDefinition(definition)
	return &MeetingService{
		repo:        repo,
		sagaManager: sagaManager,
		logger:      logger.Named("meeting"),
	}
}

// BeginMeeting implements session.MeetingProcessor
func (s *MeetingService) BeginMeeting(metadata domain.MeetingMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.End()
		s.pending = append(s.pending, s.current)
	}
	s.current = entities.NewMeeting(metadata)
	s.logger.Info("Recording meeting",
		zap.String("meeting_id", s.current.ID),
		zap.String("title", s.current.Title))
}

// ProcessMeeting implements session.MeetingProcessor. It persists and
// summarizes the oldest ended meeting and waits for the saga to finish.
func (s *MeetingService) ProcessMeeting(ctx context.Context) error {
	meeting := s.takeEnded()
	if meeting == nil {
		return nil
	}

	sagaID, err := s.sagaManager.StartSaga(ctx, postmeeting.DefinitionID, saga.SagaData{
		postmeeting.DataKeyMeeting: meeting,
	})
	if err != nil {
		return fmt.Errorf("failed to start post-meeting processing: %w", err)
	}

	if _, err := s.sagaManager.Wait(ctx, sagaID); err != nil {
		return fmt.Errorf("meeting %s: %w", meeting.ID, err)
	}

	s.logger.Info("Meeting processing completed",
		zap.String("meeting_id", meeting.ID),
		zap.String("saga_id", string(sagaID)),
		zap.Duration("duration", meeting.Duration()))
	return nil
}

// takeEnded removes the next meeting to process. Meetings are stamped as
// ended when they stop being the current one.
func (s *MeetingService) takeEnded() *entities.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		m := s.pending[0]
		s.pending = s.pending[1:]
		return m
	}
	m := s.current
	s.current = nil
	if m != nil {
		m.End()
	}
	return m
}

// OnTranscript implements session.Subscriber. Only final segments are kept.
func (s *MeetingService) OnTranscript(segment entities.TranscriptSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.AddSegment(segment)
	}
}

// OnLevel implements session.Subscriber
func (s *MeetingService) OnLevel(level float64) {}

// OnSourceError implements session.Subscriber
func (s *MeetingService) OnSourceError(kind entities.SourceKind, err error) {}

// OnStreamError implements session.Subscriber
func (s *MeetingService) OnStreamError(speaker entities.Speaker, err error) {}

// CurrentMeeting returns a copy of the meeting being recorded, if any
func (s *MeetingService) CurrentMeeting() (*entities.Meeting, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, false
	}
	c := *s.current
	c.Segments = append([]entities.TranscriptSegment(nil), s.current.Segments...)
	return &c, true
}

// ListMeetings returns recent meetings, newest first
func (s *MeetingService) ListMeetings(ctx context.Context, limit int) ([]*entities.Meeting, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	meetings, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	return meetings, nil
}

// GetMeeting returns a stored meeting
func (s *MeetingService) GetMeeting(ctx context.Context, id string) (*entities.Meeting, error) {
	return s.repo.GetByID(ctx, id)
}
