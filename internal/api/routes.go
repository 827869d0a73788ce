package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain"
	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/domain/repositories"
	"github.com/satriahrh/arunika/copilot/internal/auth"
	"github.com/satriahrh/arunika/copilot/internal/session"
	"github.com/satriahrh/arunika/copilot/internal/websocket"
)

const claimsKey = "claims"

// SessionController is the orchestrator surface exposed over HTTP
type SessionController interface {
	websocket.Controller
	UpdateCredentials(ctx context.Context, path string) error
	UpdateLanguageCode(ctx context.Context, code string) error
}

// MeetingReader reads stored meetings
type MeetingReader interface {
	ListMeetings(ctx context.Context, limit int) ([]*entities.Meeting, error)
	GetMeeting(ctx context.Context, id string) (*entities.Meeting, error)
}

// Dependencies are the services the routes are built on
type Dependencies struct {
	Session     SessionController
	Devices     repositories.DeviceCatalog
	Meetings    MeetingReader
	Tokens      *auth.TokenService
	Hub         *websocket.Hub
	Development bool
	Logger      *zap.Logger
}

type handler struct {
	Dependencies
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	h := &handler{deps}
	h.Logger = deps.Logger.Named("api")

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "arunika-copilot",
		})
	})

	v1 := e.Group("/api/v1")

	if deps.Development {
		v1.POST("/auth/token", h.issueToken)
	}

	secured := v1.Group("", h.requireToken)
	secured.GET("/devices/inputs", h.listInputDevices)
	secured.GET("/devices/outputs", h.listOutputDevices)

	secured.GET("/session", h.getSession)
	secured.POST("/session/test/start", h.startAudioTest)
	secured.POST("/session/test/stop", h.stopAudioTest)
	secured.POST("/session/meeting/start", h.startMeeting)
	secured.POST("/session/meeting/end", h.endMeeting)
	secured.PUT("/session/devices/microphone", h.updateMicrophone)
	secured.PUT("/session/devices/system", h.updateSystemAudio)
	secured.PUT("/session/credentials", h.updateCredentials)
	secured.PUT("/session/language", h.updateLanguage)

	secured.GET("/meetings", h.listMeetings)
	secured.GET("/meetings/:id", h.getMeeting)

	// Browsers cannot set headers on WebSocket upgrades, so the token may come as a query param.
	e.GET("/ws", func(c echo.Context) error {
		claims := c.Get(claimsKey).(*auth.JWTClaims)
		h.Logger.Info("WebSocket connection authenticated", zap.String("client_id", claims.ClientID))
		return websocket.HandleWebSocketWithAuth(h.Hub, c, claims.ClientID)
	}, h.requireToken)
}

func tokenFrom(c echo.Context) string {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return c.QueryParam("token")
}

func (h *handler) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := tokenFrom(c)
		if token == "" {
			h.Logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := h.Tokens.ValidateToken(token)
		if err != nil {
			h.Logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		c.Set(claimsKey, claims)
		return next(c)
	}
}

func (h *handler) issueToken(c echo.Context) error {
	var req TokenRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid_request", "Invalid request format")
		}
	}

	token, expiresAt, err := h.Tokens.GenerateUIToken(req.ClientID)
	if err != nil {
		h.Logger.Error("Failed to generate UI token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *handler) listInputDevices(c echo.Context) error {
	devices, err := h.Devices.ListInputDevices()
	if err != nil {
		h.Logger.Error("Failed to list input devices", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "devices_unavailable", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, devices)
}

func (h *handler) listOutputDevices(c echo.Context) error {
	devices, err := h.Devices.ListOutputDevices()
	if err != nil {
		h.Logger.Error("Failed to list output devices", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "devices_unavailable", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, devices)
}

func (h *handler) getSession(c echo.Context) error {
	return h.respondStatus(c)
}

func (h *handler) startAudioTest(c echo.Context) error {
	var req AudioTestRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid_request", "Invalid request format")
		}
	}
	return h.command(c, "start audio test", func(ctx context.Context) error {
		return h.Session.StartAudioTest(ctx, req.DeviceID)
	})
}

func (h *handler) stopAudioTest(c echo.Context) error {
	return h.command(c, "stop audio test", h.Session.StopAudioTest)
}

func (h *handler) startMeeting(c echo.Context) error {
	var req StartMeetingRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid_request", "Invalid request format")
		}
	}
	return h.command(c, "start meeting", func(ctx context.Context) error {
		return h.Session.StartMeeting(ctx, &domain.MeetingMetadata{Title: req.Title, Audio: req.Audio})
	})
}

func (h *handler) endMeeting(c echo.Context) error {
	return h.command(c, "end meeting", h.Session.EndMeeting)
}

func (h *handler) updateMicrophone(c echo.Context) error {
	var req DeviceRequest
	if err := c.Bind(&req); err != nil || req.DeviceID == "" {
		return badRequest(c, "missing_fields", "device_id is required")
	}
	return h.command(c, "update microphone", func(ctx context.Context) error {
		return h.Session.UpdateMicrophoneDevice(ctx, req.DeviceID)
	})
}

func (h *handler) updateSystemAudio(c echo.Context) error {
	var req DeviceRequest
	if err := c.Bind(&req); err != nil || req.DeviceID == "" {
		return badRequest(c, "missing_fields", "device_id is required")
	}
	return h.command(c, "update system audio", func(ctx context.Context) error {
		return h.Session.UpdateSystemAudioDevice(ctx, req.DeviceID)
	})
}

func (h *handler) updateCredentials(c echo.Context) error {
	var req CredentialsRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return badRequest(c, "missing_fields", "path is required")
	}
	return h.command(c, "update credentials", func(ctx context.Context) error {
		return h.Session.UpdateCredentials(ctx, req.Path)
	})
}

func (h *handler) updateLanguage(c echo.Context) error {
	var req LanguageRequest
	if err := c.Bind(&req); err != nil || req.LanguageCode == "" {
		return badRequest(c, "missing_fields", "language_code is required")
	}
	return h.command(c, "update language", func(ctx context.Context) error {
		return h.Session.UpdateLanguageCode(ctx, req.LanguageCode)
	})
}

func (h *handler) listMeetings(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return badRequest(c, "invalid_limit", "limit must be a non-negative integer")
		}
		limit = n
	}

	meetings, err := h.Meetings.ListMeetings(c.Request().Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list meetings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Failed to list meetings"})
	}
	return c.JSON(http.StatusOK, meetings)
}

func (h *handler) getMeeting(c echo.Context) error {
	meeting, err := h.Meetings.GetMeeting(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repositories.ErrMeetingNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Meeting not found"})
	}
	if err != nil {
		h.Logger.Error("Failed to get meeting", zap.String("meeting_id", c.Param("id")), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Failed to get meeting"})
	}
	return c.JSON(http.StatusOK, meeting)
}

// command runs a control operation and responds with the resulting status
func (h *handler) command(c echo.Context, name string, fn func(ctx context.Context) error) error {
	if err := fn(c.Request().Context()); err != nil {
		h.Logger.Error("Session command failed", zap.String("command", name), zap.Error(err))
		code := http.StatusInternalServerError
		if errors.Is(err, session.ErrClosed) {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, ErrorResponse{Error: "command_failed", Message: err.Error()})
	}
	return h.respondStatus(c)
}

func (h *handler) respondStatus(c echo.Context) error {
	status, err := h.Session.Status(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "session_unavailable", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}

func badRequest(c echo.Context, code, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: code, Message: message})
}
