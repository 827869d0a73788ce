package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/arunika/copilot/domain/entities"
)

// ErrMeetingNotFound is returned when no meeting matches the requested id
var ErrMeetingNotFound = errors.New("meeting not found")

// MeetingRepository defines data access methods for meetings
type MeetingRepository interface {
	Create(ctx context.Context, meeting *entities.Meeting) error
	GetByID(ctx context.Context, id string) (*entities.Meeting, error)
	// List returns the most recently started meetings first
	List(ctx context.Context, limit int) ([]*entities.Meeting, error)
	Update(ctx context.Context, meeting *entities.Meeting) error
	Delete(ctx context.Context, id string) error
}
