// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/satriahrh/arunika/copilot/domain/entities"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	BackendGoogle = "google"
	BackendNative = "native"
	BackendMock   = "mock"
)

// Config holds the service settings
type Config struct {
	Port   string
	AppEnv string

	CredentialsPath    string
	SpeechLanguageCode string
	SpeechModel        string
	SpeechUseEnhanced  bool
	SpeechBackend      string

	CaptureBackend    string
	MicrophoneDevice  string
	SystemAudioDevice string

	MongoURI      string
	MongoDatabase string

	GeminiAPIKey string
	GeminiModel  string

	JWTSecret          string
	PostMeetingTimeout time.Duration
}

// IsDevelopment reports whether APP_ENV is development
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// StreamConfig returns the recognizer settings shared by both channels
func (c *Config) StreamConfig() entities.StreamConfig {
	cfg := entities.DefaultStreamConfig(c.SpeechLanguageCode)
	cfg.Model = c.SpeechModel
	cfg.UseEnhanced = c.SpeechUseEnhanced
	return cfg
}

// Load reads the given .env files (default ".env") and then the environment.
// Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return parse(os.Getenv)
}

func parse(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Port:               get("PORT", "8080"),
		AppEnv:             get("APP_ENV", EnvProduction),
		CredentialsPath:    get("GOOGLE_APPLICATION_CREDENTIALS", ""),
		SpeechLanguageCode: get("SPEECH_LANGUAGE_CODE", "en-US"),
		SpeechModel:        get("SPEECH_MODEL", "latest_long"),
		SpeechBackend:      get("SPEECH_BACKEND", BackendGoogle),
		CaptureBackend:     get("CAPTURE_BACKEND", BackendNative),
		MicrophoneDevice:   get("MICROPHONE_DEVICE", entities.DefaultDeviceID),
		SystemAudioDevice:  get("SYSTEM_AUDIO_DEVICE", entities.DefaultDeviceID),
		MongoURI:           get("MONGODB_URI", ""),
		MongoDatabase:      get("MONGODB_DATABASE", "arunika_copilot"),
		GeminiAPIKey:       get("GEMINI_API_KEY", ""),
		GeminiModel:        get("GEMINI_MODEL", "gemini-2.0-flash"),
		JWTSecret:          get("JWT_SECRET", ""),
	}

	var err error
	if cfg.SpeechUseEnhanced, err = strconv.ParseBool(get("SPEECH_USE_ENHANCED", "true")); err != nil {
		return nil, fmt.Errorf("invalid SPEECH_USE_ENHANCED: %w", err)
	}
	if cfg.PostMeetingTimeout, err = time.ParseDuration(get("POST_MEETING_TIMEOUT", "2m")); err != nil {
		return nil, fmt.Errorf("invalid POST_MEETING_TIMEOUT: %w", err)
	}
	if cfg.PostMeetingTimeout <= 0 {
		return nil, fmt.Errorf("POST_MEETING_TIMEOUT must be positive, got %s", cfg.PostMeetingTimeout)
	}

	if port, err := strconv.Atoi(cfg.Port); err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}

	switch cfg.SpeechBackend {
	case BackendGoogle, BackendMock:
	default:
		return nil, fmt.Errorf("invalid SPEECH_BACKEND: %q", cfg.SpeechBackend)
	}
	switch cfg.CaptureBackend {
	case BackendNative, BackendMock:
	default:
		return nil, fmt.Errorf("invalid CAPTURE_BACKEND: %q", cfg.CaptureBackend)
	}

	if cfg.JWTSecret == "" && !cfg.IsDevelopment() {
		return nil, errors.New("JWT_SECRET is required outside development")
	}
	if err := cfg.StreamConfig().Validate(); err != nil {
		return nil, fmt.Errorf("invalid recognition settings: %w", err)
	}

	return cfg, nil
}
