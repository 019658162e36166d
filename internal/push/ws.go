// Package push subscribes to the assistant's confirmed-message feed over
// WebSocket. Delivery is at-least-once; consumers must tolerate duplicates.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/routeworks/fleetpilot/internal/assistant"
	"github.com/routeworks/fleetpilot/internal/models"
)

// Protocol frame types.
const (
	FrameSubscribe    = "subscribe"
	FrameSubscribeAck = "subscribe_ack"
	FrameMessage      = "message"
	FrameError        = "error"
	FrameKeepAlive    = "ka"
)

// Frame is one protocol message in either direction.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload identifies the conversation to follow.
type SubscribePayload struct {
	VehicleID string `json:"subjectId"`
	UserID    string `json:"userId"`
}

type errorPayload struct {
	Error string `json:"error"`
}

const (
	handshakeTimeout   = 10 * time.Second
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Subscriber implements the push channel over the assistant's
// /v1/assistant/subscribe endpoint. A dropped connection is redialed with
// exponential backoff until the subscription context is canceled.
type Subscriber struct {
	endpoint string
	creds    assistant.CredentialSource
	logger   *slog.Logger
}

// NewSubscriber creates a push subscriber for the given assistant endpoint.
func NewSubscriber(endpoint string, creds assistant.CredentialSource, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{endpoint: endpoint, creds: creds, logger: logger}
}

// Subscribe opens the confirmed-message feed for one conversation. The
// returned channel closes when ctx is canceled.
func (s *Subscriber) Subscribe(ctx context.Context, key models.ConversationKey) (<-chan models.Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	wsURL, err := s.wsURL()
	if err != nil {
		return nil, err
	}

	out := make(chan models.Message, 16)
	go s.run(ctx, wsURL, key, out)
	return out, nil
}

// wsURL converts the HTTP endpoint to the subscription WebSocket URL.
func (s *Subscriber) wsURL() (string, error) {
	wsEndpoint := s.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	u.Path = "/v1/assistant/subscribe"
	return u.String(), nil
}

// run redials until ctx is canceled. The backoff resets after every
// acknowledged subscription.
func (s *Subscriber) run(ctx context.Context, wsURL string, key models.ConversationKey, out chan<- models.Message) {
	defer close(out)

	delay := reconnectBaseDelay
	for {
		acked, err := s.follow(ctx, wsURL, key, out)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("push subscription dropped", "conversation", key, "error", err)
		}
		if acked {
			delay = reconnectBaseDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// follow runs one connection lifetime: dial, subscribe, route message
// frames. It reports whether the server acknowledged the subscription.
func (s *Subscriber) follow(ctx context.Context, wsURL string, key models.ConversationKey, out chan<- models.Message) (bool, error) {
	headers := make(map[string][]string)
	if s.creds != nil {
		token, err := s.creds.Token(ctx)
		if err != nil {
			return false, fmt.Errorf("credential: %w", err)
		}
		headers["Authorization"] = []string{"Bearer " + token}
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return false, fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state so cancellation and teardown close exactly once.
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	payload, _ := json.Marshal(SubscribePayload{
		VehicleID: key.VehicleID,
		UserID:    key.UserID,
	})
	sub := Frame{
		ID:      uuid.New().String(),
		Type:    FrameSubscribe,
		Payload: payload,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("send subscribe: %w", err)
	}

	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		return false, fmt.Errorf("read subscribe_ack: %w", err)
	}
	if ack.Type != FrameSubscribeAck {
		return false, fmt.Errorf("expected subscribe_ack, got %s", ack.Type)
	}

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("read frame: %w", err)
		}

		switch frame.Type {
		case FrameMessage:
			var wire assistant.WireMessage
			if err := json.Unmarshal(frame.Payload, &wire); err != nil {
				s.logger.Warn("dropping malformed push frame", "error", err)
				continue
			}
			select {
			case out <- wire.ToModel():
			case <-ctx.Done():
				return true, ctx.Err()
			}

		case FrameError:
			var ep errorPayload
			if err := json.Unmarshal(frame.Payload, &ep); err != nil || ep.Error == "" {
				return true, fmt.Errorf("subscription error: %s", string(frame.Payload))
			}
			return true, fmt.Errorf("subscription error: %s", ep.Error)

		case FrameKeepAlive:
			continue

		default:
			// Unknown frame types are ignored for forward compatibility.
			continue
		}
	}
}
