package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
)

const (
	defaultModel       = "gemini-2.0-flash"
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
	maxAttempts        = 3
)

const summaryPrompt = `You are a meeting assistant. The transcript below was captured live from a call.
Lines marked [user] are the person you assist; lines marked [interviewer] are the other party.
Write a concise summary: the main topics, questions asked of the user, and any follow-ups agreed.
Use plain text with short bullet points.`

// GeminiSummarizer implements MeetingSummarizer using Google's Gemini API
type GeminiSummarizer struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

var _ repositories.MeetingSummarizer = (*GeminiSummarizer)(nil)

// NewGeminiSummarizer creates a new Gemini summarizer. An empty model selects gemini-2.0-flash.
func NewGeminiSummarizer(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiSummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	return &GeminiSummarizer{
		client: client,
		logger: logger.Named("gemini"),
		model:  model,
	}, nil
}

// Summarize sends the meeting transcript to Gemini and returns the generated summary
func (g *GeminiSummarizer) Summarize(ctx context.Context, meeting *entities.Meeting) (string, error) {
	transcript := meeting.Transcript()
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}

	contents := []*genai.Content{
		genai.NewContentFromText(summaryPrompt, genai.RoleUser),
		genai.NewContentFromText(fmt.Sprintf("Title: %s\n\n%s", meeting.Title, transcript), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(defaultTemperature)),
		MaxOutputTokens: defaultMaxTokens,
	}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate summary, retrying",
			zap.String("meeting_id", meeting.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	summary := extractText(response)
	if summary == "" {
		return "", fmt.Errorf("empty summary for meeting %s", meeting.ID)
	}

	g.logger.Info("Meeting summarized",
		zap.String("meeting_id", meeting.ID),
		zap.Int("segments", len(meeting.Segments)),
		zap.Int("summary_length", len(summary)))
	return summary, nil
}

func extractText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
