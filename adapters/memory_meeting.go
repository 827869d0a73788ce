package adapters

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// MemoryMeetingRepository is an in-memory MeetingRepository, used when no
// MongoDB URI is configured. Stored meetings are copied on the way in and out.
type MemoryMeetingRepository struct {
	mu       sync.RWMutex
	meetings map[string]*entities.Meeting
}

// NewMemoryMeetingRepository creates an empty in-memory repository
func NewMemoryMeetingRepository() *MemoryMeetingRepository {
	return &MemoryMeetingRepository{
		meetings: make(map[string]*entities.Meeting),
	}
}

var _ repositories.MeetingRepository = (*MemoryMeetingRepository)(nil)

func cloneMeeting(m *entities.Meeting) *entities.Meeting {
	c := *m
	c.Segments = append([]entities.TranscriptSegment(nil), m.Segments...)
	if m.EndedAt != nil {
		ended := *m.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

// Create implements MeetingRepository
func (m *MemoryMeetingRepository) Create(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil {
		return errors.New("meeting cannot be nil")
	}
	if err := meeting.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.meetings[meeting.ID]; exists {
		return errors.New("meeting with this ID already exists")
	}
	m.meetings[meeting.ID] = cloneMeeting(meeting)
	return nil
}

// GetByID implements MeetingRepository
func (m *MemoryMeetingRepository) GetByID(ctx context.Context, id string) (*entities.Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meeting, exists := m.meetings[id]
	if !exists {
		return nil, repositories.ErrMeetingNotFound
	}
	return cloneMeeting(meeting), nil
}

// List implements MeetingRepository
func (m *MemoryMeetingRepository) List(ctx context.Context, limit int) ([]*entities.Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meetings := make([]*entities.Meeting, 0, len(m.meetings))
	for _, meeting := range m.meetings {
		meetings = append(meetings, cloneMeeting(meeting))
	}
	sort.Slice(meetings, func(i, j int) bool {
		return meetings[i].StartedAt.After(meetings[j].StartedAt)
	})
	if limit > 0 && len(meetings) > limit {
		meetings = meetings[:limit]
	}
	return meetings, nil
}

// Update implements MeetingRepository
func (m *MemoryMeetingRepository) Update(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil {
		return errors.New("meeting cannot be nil")
	}
	if err := meeting.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.meetings[meeting.ID]; !exists {
		return repositories.ErrMeetingNotFound
	}
	m.meetings[meeting.ID] = cloneMeeting(meeting)
	return nil
}

// Delete implements MeetingRepository
func (m *MemoryMeetingRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.meetings[id]; !exists {
		return repositories.ErrMeetingNotFound
	}
	delete(m.meetings, id)
	return nil
}

// Count returns the number of stored meetings
func (m *MemoryMeetingRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.meetings)
}
