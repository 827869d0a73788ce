package mongo

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain"
	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

// TestMeetingRepository_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestMeetingRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	client, err := NewClient(ctx, mongoURI, "arunika_copilot_test", logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		client.Database.Drop(ctx)
		client.Close(ctx)
	}()

	repo := NewMeetingRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Run("CreateAndGetMeeting", func(t *testing.T) {
		meeting := entities.NewMeeting(domain.MeetingMetadata{Title: "Standup"})
		meeting.AddSegment(entities.TranscriptSegment{Speaker: entities.SpeakerUser, Text: "Morning", IsFinal: true, TimestampMs: 1})

		if err := repo.Create(ctx, meeting); err != nil {
			t.Fatalf("Failed to create meeting: %v", err)
		}

		retrieved, err := repo.GetByID(ctx, meeting.ID)
		if err != nil {
			t.Fatalf("Failed to get meeting: %v", err)
		}
		if retrieved.Title != "Standup" {
			t.Errorf("Expected title Standup, got %s", retrieved.Title)
		}
		if len(retrieved.Segments) != 1 || retrieved.Segments[0].Speaker != entities.SpeakerUser {
			t.Errorf("Unexpected segments %+v", retrieved.Segments)
		}
	})

	t.Run("UpdateMeeting", func(t *testing.T) {
		meeting := entities.NewMeeting(domain.MeetingMetadata{})
		if err := repo.Create(ctx, meeting); err != nil {
			t.Fatalf("Failed to create meeting: %v", err)
		}

		meeting.End()
		meeting.MarkProcessed("Nothing notable")
		if err := repo.Update(ctx, meeting); err != nil {
			t.Fatalf("Failed to update meeting: %v", err)
		}

		retrieved, err := repo.GetByID(ctx, meeting.ID)
		if err != nil {
			t.Fatalf("Failed to get meeting: %v", err)
		}
		if retrieved.Status != entities.MeetingStatusProcessed || retrieved.Summary != "Nothing notable" {
			t.Errorf("Update not persisted: %+v", retrieved)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		meetings, err := repo.List(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to list meetings: %v", err)
		}
		if len(meetings) < 2 {
			t.Fatalf("Expected at least 2 meetings, got %d", len(meetings))
		}
		if meetings[0].StartedAt.Before(meetings[1].StartedAt) {
			t.Error("Expected newest meeting first")
		}

		if err := repo.Delete(ctx, meetings[0].ID); err != nil {
			t.Fatalf("Failed to delete meeting: %v", err)
		}
		if _, err := repo.GetByID(ctx, meetings[0].ID); !errors.Is(err, repositories.ErrMeetingNotFound) {
			t.Errorf("Expected ErrMeetingNotFound, got %v", err)
		}
	})
}
