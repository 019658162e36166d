package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/routeworks/fleetpilot/internal/assistant"
	"github.com/routeworks/fleetpilot/internal/models"
)

var testUpgrader = websocket.Upgrader{}

// pushServer upgrades one connection, validates the subscribe frame, acks,
// then runs serve with the open connection.
func pushServer(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/assistant/subscribe", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub Frame
		require.NoError(t, conn.ReadJSON(&sub))
		require.Equal(t, FrameSubscribe, sub.Type)

		var payload SubscribePayload
		require.NoError(t, json.Unmarshal(sub.Payload, &payload))
		require.Equal(t, "veh-7", payload.VehicleID)
		require.Equal(t, "user-1", payload.UserID)

		require.NoError(t, conn.WriteJSON(Frame{Type: FrameSubscribeAck, ID: sub.ID}))
		serve(conn)
	}))
}

func messageFrame(t *testing.T, id, role, content string) Frame {
	t.Helper()
	payload, err := json.Marshal(assistant.WireMessage{
		ID:        id,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return Frame{Type: FrameMessage, Payload: payload}
}

func TestSubscribeDeliversMessages(t *testing.T) {
	srv := pushServer(t, func(conn *websocket.Conn) {
		require.NoError(t, conn.WriteJSON(Frame{Type: FrameKeepAlive}))
		require.NoError(t, conn.WriteJSON(messageFrame(t, "srv-1", "user", "where is it")))
		require.NoError(t, conn.WriteJSON(messageFrame(t, "srv-2", "assistant", "on I-80")))
		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := NewSubscriber(srv.URL, assistant.StaticCredential("test-token"), nil)
	ch, err := sub.Subscribe(ctx, models.ConversationKey{VehicleID: "veh-7", UserID: "user-1"})
	require.NoError(t, err)

	first := recvMessage(t, ch)
	require.Equal(t, "srv-1", first.ID)
	require.Equal(t, models.RoleUser, first.Role)

	second := recvMessage(t, ch)
	require.Equal(t, "srv-2", second.ID)
	require.Equal(t, models.RoleAssistant, second.Role)
}

func TestSubscribeReconnects(t *testing.T) {
	sent := 0
	srv := pushServer(t, func(conn *websocket.Conn) {
		sent++
		require.NoError(t, conn.WriteJSON(messageFrame(t, "srv-1", "user", "first connection")))
		// Drop the connection; the subscriber should redial.
		if sent == 1 {
			return
		}
		conn.ReadMessage()
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := NewSubscriber(srv.URL, assistant.StaticCredential("test-token"), nil)
	ch, err := sub.Subscribe(ctx, models.ConversationKey{VehicleID: "veh-7", UserID: "user-1"})
	require.NoError(t, err)

	recvMessage(t, ch)
	// The second delivery only happens on a fresh connection.
	recvMessage(t, ch)
	require.GreaterOrEqual(t, sent, 2)
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	srv := pushServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	sub := NewSubscriber(srv.URL, assistant.StaticCredential("test-token"), nil)
	ch, err := sub.Subscribe(ctx, models.ConversationKey{VehicleID: "veh-7", UserID: "user-1"})
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-ch:
		require.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}

func TestSubscribeRejectsInvalidKey(t *testing.T) {
	sub := NewSubscriber("http://localhost:1", assistant.StaticCredential("test-token"), nil)
	_, err := sub.Subscribe(context.Background(), models.ConversationKey{})
	require.Error(t, err)
}

func recvMessage(t *testing.T, ch <-chan models.Message) models.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pushed message")
		panic("unreachable")
	}
}
