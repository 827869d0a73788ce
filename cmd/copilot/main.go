package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/adapters"
	"github.com/satriahrh/arunika/copilot/adapters/capture"
	"github.com/satriahrh/arunika/copilot/adapters/llm"
	"github.com/satriahrh/arunika/copilot/adapters/mongo"
	"github.com/satriahrh/arunika/copilot/adapters/stt"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
	"github.com/satriahrh/arunika/copilot/internal/api"
	"github.com/satriahrh/arunika/copilot/internal/auth"
	"github.com/satriahrh/arunika/copilot/internal/config"
	"github.com/satriahrh/arunika/copilot/internal/saga"
	"github.com/satriahrh/arunika/copilot/internal/saga/postmeeting"
	"github.com/satriahrh/arunika/copilot/internal/session"
	"github.com/satriahrh/arunika/copilot/internal/websocket"
	"github.com/satriahrh/arunika/copilot/usecase"
)

const (
	sagaRetention       = 24 * time.Hour
	sagaCleanupInterval = 30 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Invalid configuration", zap.Error(err))
	}

	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var meetingRepo repositories.MeetingRepository
	if cfg.MongoURI != "" {
		client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Close(context.Background())

		repo := mongo.NewMeetingRepository(client.Database, logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to create meeting indexes", zap.Error(err))
		}
		meetingRepo = repo
	} else {
		logger.Info("MONGODB_URI not set, meetings are kept in memory")
		meetingRepo = adapters.NewMemoryMeetingRepository()
	}

	// Summarizer
	var summarizer repositories.MeetingSummarizer
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiSummarizer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini summarizer", zap.Error(err))
		}
		summarizer = gemini
	} else {
		logger.Info("GEMINI_API_KEY not set, using mock summarizer")
		summarizer = llm.NewMockSummarizer()
	}

	// Recognizer
	var speechFactory repositories.SpeechClientFactory = stt.NewGoogleSpeechClient
	if cfg.SpeechBackend == config.BackendMock {
		speechFactory = stt.NewMockSpeechClientFactory(logger.Named("mock_speech"))
	}

	// Capture
	micOpener, systemOpener, catalog, closeCapture := buildCapture(cfg, logger)
	defer closeCapture()

	// Post-meeting processing
	sagaManager := saga.NewManager(logger)
	cleaner := saga.NewCleaner(sagaManager, sagaRetention, sagaCleanupInterval, logger)
	cleaner.Start()
	defer cleaner.Stop()

	meetingService := usecase.NewMeetingService(
		meetingRepo,
		sagaManager,
		postmeeting.NewDefinition(meetingRepo, summarizer, cfg.PostMeetingTimeout, logger),
		logger,
	)

	orchestrator, err := session.New(session.Config{
		MicrophoneOpener:    micOpener,
		SystemAudioOpener:   systemOpener,
		MicrophoneDevice:    cfg.MicrophoneDevice,
		SystemAudioDevice:   cfg.SystemAudioDevice,
		SpeechClientFactory: speechFactory,
		CredentialsPath:     cfg.CredentialsPath,
		StreamConfig:        cfg.StreamConfig(),
		Processor:           meetingService,
		ProcessTimeout:      cfg.PostMeetingTimeout,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Failed to create session orchestrator", zap.Error(err))
	}
	orchestrator.Subscribe(meetingService)

	hub := websocket.NewHub(orchestrator, logger)
	orchestrator.Subscribe(hub)

	runCtx, cancelRun := context.WithCancel(context.Background())
	orchestratorDone := make(chan error, 1)
	go func() { orchestratorDone <- orchestrator.Run(runCtx) }()
	go hub.Run(runCtx)

	// UI token
	secret := cfg.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("JWT_SECRET not set, using an ephemeral secret")
	}
	tokens, err := auth.NewTokenService(secret, 0)
	if err != nil {
		logger.Fatal("Failed to create token service", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Dependencies{
		Session:     orchestrator,
		Devices:     catalog,
		Meetings:    meetingService,
		Tokens:      tokens,
		Hub:         hub,
		Development: cfg.IsDevelopment(),
		Logger:      logger,
	})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Copilot server started",
		zap.String("port", cfg.Port),
		zap.String("speech_backend", cfg.SpeechBackend),
		zap.String("capture_backend", cfg.CaptureBackend))

	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Ending the session flushes an active meeting through post-meeting processing.
	cancelRun()
	if err := <-orchestratorDone; err != nil {
		logger.Error("Session shutdown reported errors", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildCapture picks the capture backend. A native backend that fails to load
// leaves its opener nil so the sources report the capability as unavailable.
func buildCapture(cfg *config.Config, logger *zap.Logger) (mic, system repositories.CaptureOpener, catalog repositories.DeviceCatalog, closeFn func()) {
	if cfg.CaptureBackend == config.BackendMock {
		logger.Info("Using synthetic capture")
		mic = capture.MockOpener{Frequency: 440, Amplitude: 6000, Logger: logger.Named("mock_mic")}
		system = capture.MockOpener{Frequency: 220, Amplitude: 3000, Logger: logger.Named("mock_system")}
		return mic, system, capture.MockCatalog{}, func() {}
	}

	closeFn = func() {}
	if opener, err := capture.NewMicrophoneOpener(logger); err != nil {
		logger.Error("Microphone capture unavailable", zap.Error(err))
	} else {
		mic = opener
		closeFn = func() {
			if err := opener.Close(); err != nil {
				logger.Warn("Failed to terminate PortAudio", zap.Error(err))
			}
		}
	}

	if opener, err := capture.NewSystemAudioOpener(logger); err != nil {
		logger.Error("System audio capture unavailable", zap.Error(err))
	} else {
		system = opener
	}

	return mic, system, capture.NativeCatalog{}, closeFn
}
