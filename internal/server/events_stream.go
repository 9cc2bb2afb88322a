package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/stockledger/internal/auth"
	"github.com/aristath/stockledger/internal/events"
)

const (
	streamBuffer       = 100
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// streamHello is the first message on every stream. Events published after it
// are delivered.
type streamHello struct {
	Type   string   `json:"type"`
	UserID string   `json:"user_id"`
	Types  []string `json:"types,omitempty"`
}

// EventsStreamHandler streams engine events over a websocket. A client sees
// events carrying its own user_id and events that carry no user at all.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws. The optional types query parameter is
// a comma-separated list of event types to receive.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var allowedTypes map[events.EventType]bool
	var typeNames []string
	if typesFilter := r.URL.Query().Get("types"); typesFilter != "" {
		allowedTypes = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			if t = strings.TrimSpace(t); t != "" {
				allowedTypes[events.EventType(t)] = true
				typeNames = append(typeNames, t)
			}
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan *events.Event, streamBuffer)
	subID := h.eventBus.SubscribeAll(func(event *events.Event) {
		if allowedTypes != nil && !allowedTypes[event.Type] {
			return
		}
		if owner, ok := event.Data["user_id"].(string); ok && owner != "" && owner != userID {
			return
		}

		// Non-blocking send (drop if channel full)
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Str("user_id", userID).
				Msg("Event channel full, dropping event")
		}
	})
	defer h.eventBus.Unsubscribe(subID)

	h.log.Info().
		Str("user_id", userID).
		Strs("types", typeNames).
		Msg("Client connected to event stream")

	if err := h.send(ctx, conn, streamHello{Type: "connected", UserID: userID, Types: typeNames}); err != nil {
		h.log.Debug().Err(err).Msg("Failed to send stream greeting")
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("user_id", userID).Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			if err := h.send(ctx, conn, event); err != nil {
				if websocket.CloseStatus(err) == -1 {
					h.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to write event")
				}
				return
			}

		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Str("user_id", userID).Msg("Ping failed, closing stream")
				return
			}
		}
	}
}

func (h *EventsStreamHandler) send(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
