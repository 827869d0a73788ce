package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/copilot/domain"
	"github.com/satriahrh/arunika/copilot/domain/entities"
	"github.com/satriahrh/arunika/copilot/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	// Time allowed for one control command to run on the session.
	commandTimeout = 10 * time.Second

	sendBufferSize = 256

	// Level updates faster than this are dropped.
	defaultLevelInterval = 50 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	// The UI is served from a different local origin during development.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Controller is the part of the session orchestrator the UI drives
type Controller interface {
	StartAudioTest(ctx context.Context, deviceID string) error
	StopAudioTest(ctx context.Context) error
	StartMeeting(ctx context.Context, metadata *domain.MeetingMetadata) error
	EndMeeting(ctx context.Context) error
	UpdateMicrophoneDevice(ctx context.Context, deviceID string) error
	UpdateSystemAudioDevice(ctx context.Context, deviceID string) error
	Status(ctx context.Context) (session.Status, error)
}

var _ session.Subscriber = (*Hub)(nil)

// Hub maintains the set of active UI clients and broadcasts session output to them
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	controller Controller
	validator  *MessageValidator
	logger     *zap.Logger

	levelInterval time.Duration
	levelMu       sync.Mutex
	lastLevel     time.Time
}

// NewHub creates a new WebSocket hub
func NewHub(controller Controller, logger *zap.Logger) *Hub {
	return &Hub{
		clients:       make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
		controller:    controller,
		validator:     NewMessageValidator(),
		logger:        logger.Named("hub"),
		levelInterval: defaultLevelInterval,
	}
}

// Run starts the hub's main loop. On return all connections are closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for id, client := range h.clients {
			client.conn.Close()
			delete(h.clients, id)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnTranscript implements session.Subscriber
func (h *Hub) OnTranscript(segment entities.TranscriptSegment) {
	h.broadcast(CreateTranscriptMessage(segment))
}

// OnLevel implements session.Subscriber
func (h *Hub) OnLevel(level float64) {
	h.levelMu.Lock()
	now := time.Now()
	if now.Sub(h.lastLevel) < h.levelInterval {
		h.levelMu.Unlock()
		return
	}
	h.lastLevel = now
	h.levelMu.Unlock()

	h.broadcast(CreateLevelMessage(level))
}

// OnSourceError implements session.Subscriber
func (h *Hub) OnSourceError(kind entities.SourceKind, err error) {
	h.broadcast(CreateSourceErrorMessage(kind, err))
}

// OnStreamError implements session.Subscriber
func (h *Hub) OnStreamError(speaker entities.Speaker, err error) {
	h.broadcast(CreateStreamErrorMessage(speaker, err))
}

// broadcast never blocks: slow clients miss messages
func (h *Hub) broadcast(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		default:
			client.logger.Warn("Send buffer full, dropping message")
		}
	}
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	id     string
	logger *zap.Logger
}

// HandleWebSocketWithAuth upgrades a request whose client was already authenticated
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, clientID string) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan WriteData, sendBufferSize),
		id:     clientID,
		logger: hub.logger.With(zap.String("clientID", clientID)),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps control messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.reply(CreateErrorMessage(ErrorCodeUnsupported, "only JSON text messages are accepted", ""))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.done:
			return
		}
	}
}

// processMessage runs one control command and replies with the resulting session state
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected message", zap.Error(err))
		c.reply(CreateErrorMessage(ErrorCodeInvalidMessage, "invalid message", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ctrl := c.hub.controller
	var replyTo MessageType
	switch m := msg.(type) {
	case *PingMessage:
		c.reply(CreatePongMessage(m.Data))
		return
	case *AudioTestMessage:
		replyTo, err = m.Type, ctrl.StartAudioTest(ctx, m.DeviceID)
	case *ControlMessage:
		replyTo = m.Type
		if m.Type == MessageTypeStopAudioTest {
			err = ctrl.StopAudioTest(ctx)
		} else {
			err = ctrl.EndMeeting(ctx)
		}
	case *StartMeetingMessage:
		replyTo, err = m.Type, ctrl.StartMeeting(ctx, m.Metadata())
	case *SetDeviceMessage:
		replyTo = m.Type
		if m.Type == MessageTypeSetMicrophone {
			err = ctrl.UpdateMicrophoneDevice(ctx, m.DeviceID)
		} else {
			err = ctrl.UpdateSystemAudioDevice(ctx, m.DeviceID)
		}
	}

	if err != nil {
		c.logger.Error("Command failed", zap.String("type", string(replyTo)), zap.Error(err))
		c.reply(CreateErrorMessage(ErrorCodeCommandFailed, string(replyTo)+" failed", err.Error()))
		return
	}

	status, err := ctrl.Status(ctx)
	if err != nil {
		c.reply(CreateErrorMessage(ErrorCodeCommandFailed, "status unavailable", err.Error()))
		return
	}
	c.logger.Info("Command applied", zap.String("type", string(replyTo)), zap.String("state", string(status.State)))
	c.reply(CreateSessionStateMessage(replyTo, status))
}

// reply is only called from readPump, which is the sole closer of send through unregister
func (c *Client) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping reply")
	}
}
