package assistd

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/routeworks/fleetpilot/internal/assistant"
	"github.com/routeworks/fleetpilot/internal/models"
	"github.com/routeworks/fleetpilot/internal/push"
)

const keepAliveInterval = 30 * time.Second

// Hub fans confirmed messages out to websocket subscribers, one
// subscription per connection, scoped to a single conversation.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// writeFrame serializes writes; gorilla connections allow one writer.
func (s *subscriber) writeFrame(f push.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f)
}

// NewHub creates an empty subscriber hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// ServeHTTP handles one subscription connection: upgrade, subscribe frame,
// ack, then deliver broadcasts until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var frame push.Frame
	if err := conn.ReadJSON(&frame); err != nil || frame.Type != push.FrameSubscribe {
		h.logger.Warn("expected subscribe frame", "error", err)
		return
	}

	var payload push.SubscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		h.logger.Warn("malformed subscribe payload", "error", err)
		return
	}
	key := models.ConversationKey{VehicleID: payload.VehicleID, UserID: payload.UserID}
	if err := key.Validate(); err != nil {
		body, _ := json.Marshal(map[string]string{"error": err.Error()})
		_ = conn.WriteJSON(push.Frame{Type: push.FrameError, ID: frame.ID, Payload: body})
		return
	}

	sub := &subscriber{conn: conn}
	if err := sub.writeFrame(push.Frame{Type: push.FrameSubscribeAck, ID: frame.ID}); err != nil {
		return
	}

	h.register(key, sub)
	defer h.unregister(key, sub)
	h.logger.Debug("push subscriber attached", "conversation", key)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := sub.writeFrame(push.Frame{Type: push.FrameKeepAlive}); err != nil {
					return
				}
			}
		}
	}()

	// Reads only detect the peer closing; inbound frames are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast delivers one confirmed message to every subscriber of the
// conversation. Failed subscribers are dropped.
func (h *Hub) Broadcast(key models.ConversationKey, msg models.Message) {
	payload, err := json.Marshal(assistant.FromModel(msg))
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}
	frame := push.Frame{Type: push.FrameMessage, Payload: payload}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs[key.String()]))
	for sub := range h.subs[key.String()] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.writeFrame(frame); err != nil {
			h.logger.Debug("dropping push subscriber", "conversation", key, "error", err)
			h.unregister(key, sub)
			sub.conn.Close()
		}
	}
}

// Subscribers returns the current subscriber count across conversations.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

func (h *Hub) register(key models.ConversationKey, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[key.String()]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[key.String()] = set
	}
	set[sub] = struct{}{}
	pushSubscribers.Inc()
}

func (h *Hub) unregister(key models.ConversationKey, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[key.String()]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	pushSubscribers.Dec()
	if len(set) == 0 {
		delete(h.subs, key.String())
	}
}
