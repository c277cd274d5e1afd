package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the wire format for WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// WebSocketHandler streams job events to UI clients. Each connection gets
// its own event stream, scoped to a job or kind via query parameters, so a
// dashboard can follow one run or the whole board. Progress events are
// rate-limited per connection; a dropped frame is recovered on the next
// one and the stores hold the full history.
type WebSocketHandler struct {
	logger           arbor.ILogger
	events           interfaces.EventService
	config           *common.WebSocketConfig
	serverInstanceID string // Clients use this to detect a server restart
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(events interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		events:           events,
		config:           config,
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket upgrades the connection and streams events until the
// client disconnects or a job-scoped stream ends at its terminal event.
// Query parameters: job_id scopes to one job, kind to one model kind;
// neither subscribes to all job events.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	jobID := r.URL.Query().Get("job_id")
	kind := r.URL.Query().Get("kind")

	buffer := h.config.StreamBuffer
	if buffer <= 0 {
		buffer = 64
	}

	var stream <-chan interfaces.Event
	var cancel func()
	switch {
	case jobID != "":
		stream, cancel = h.events.SubscribeJob(jobID, buffer)
	case kind != "":
		stream, cancel = h.events.SubscribeKind(kind, buffer)
	default:
		stream, cancel = h.events.SubscribeAll(buffer)
	}

	h.logger.Info().
		Str("remote", r.RemoteAddr).
		Str("job_id", jobID).
		Str("kind", kind).
		Msg("WebSocket client connected")

	// Connection acknowledgement before any events flow
	hello := WSMessage{
		Type: "connected",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"job_id":             jobID,
			"kind":               kind,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send WebSocket hello")
		cancel()
		conn.Close()
		return
	}

	var progressLimiter *rate.Limiter
	if h.config.ProgressThrottle != "" {
		if interval, err := time.ParseDuration(h.config.ProgressThrottle); err == nil && interval > 0 {
			progressLimiter = rate.NewLimiter(rate.Every(interval), 1)
		} else if err != nil {
			h.logger.Warn().Err(err).Str("interval", h.config.ProgressThrottle).Msg("Invalid progress throttle, throttling disabled")
		}
	}

	// Single writer goroutine per connection, no write mutex needed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range stream {
			if event.Type == interfaces.EventJobProgress && progressLimiter != nil && !progressLimiter.Allow() {
				continue
			}

			data, err := json.Marshal(WSMessage{Type: string(event.Type), Payload: event})
			if err != nil {
				h.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal event")
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}

		// Stream ended (job reached terminal state or service shut down)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	// Reader loop detects client disconnect; incoming messages are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	conn.Close()
	<-done

	h.logger.Info().
		Str("remote", r.RemoteAddr).
		Str("job_id", jobID).
		Msg("WebSocket client disconnected")
}
