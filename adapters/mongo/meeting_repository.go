package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

const meetingsCollection = "meetings"

// MeetingRepository stores meetings as one document each
type MeetingRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMeetingRepository creates a new MongoDB meeting repository
func NewMeetingRepository(db *mongo.Database, logger *zap.Logger) *MeetingRepository {
	return &MeetingRepository{
		collection: db.Collection(meetingsCollection),
		logger:     logger.Named("meeting_repository"),
	}
}

var _ repositories.MeetingRepository = (*MeetingRepository)(nil)

// EnsureIndexes creates the index used to list recent meetings
func (r *MeetingRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create meetings index: %w", err)
	}
	return nil
}

// Create implements repositories.MeetingRepository
func (r *MeetingRepository) Create(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil {
		return errors.New("meeting cannot be nil")
	}
	if err := meeting.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, meeting); err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}

	r.logger.Debug("Meeting stored", zap.String("meeting_id", meeting.ID), zap.Int("segments", len(meeting.Segments)))
	return nil
}

// GetByID implements repositories.MeetingRepository
func (r *MeetingRepository) GetByID(ctx context.Context, id string) (*entities.Meeting, error) {
	if id == "" {
		return nil, errors.New("meeting ID cannot be empty")
	}

	var meeting entities.Meeting
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&meeting)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrMeetingNotFound
		}
		return nil, fmt.Errorf("failed to get meeting %s: %w", id, err)
	}
	return &meeting, nil
}

// List implements repositories.MeetingRepository
func (r *MeetingRepository) List(ctx context.Context, limit int) ([]*entities.Meeting, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer cursor.Close(ctx)

	meetings := make([]*entities.Meeting, 0)
	if err := cursor.All(ctx, &meetings); err != nil {
		return nil, fmt.Errorf("failed to decode meetings: %w", err)
	}
	return meetings, nil
}

// Update implements repositories.MeetingRepository
func (r *MeetingRepository) Update(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil {
		return errors.New("meeting cannot be nil")
	}
	if err := meeting.Validate(); err != nil {
		return err
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": meeting.ID}, meeting)
	if err != nil {
		return fmt.Errorf("failed to update meeting: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrMeetingNotFound
	}
	return nil
}

// Delete implements repositories.MeetingRepository
func (r *MeetingRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrMeetingNotFound
	}
	return nil
}
