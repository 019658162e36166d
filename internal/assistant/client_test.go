package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/routeworks/fleetpilot/internal/models"
)

func sseHandler(t *testing.T, deltas []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/assistant/chat", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.VehicleID)

		w.Header().Set("Content-Type", "text/event-stream")
		fl, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, d := range deltas {
			payload, err := json.Marshal(map[string]string{"delta": d})
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			fl.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func testRequest() Request {
	return Request{
		VehicleID:       "veh-7",
		Message:         "where is the truck",
		UserID:          "user-1",
		ClientTimestamp: time.Now().UTC(),
	}
}

func TestSendStreamsDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"On I-8", "0 near ", "Reno"}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticCredential("test-token"), nil)

	var got []string
	text, err := c.Send(context.Background(), testRequest(), func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "On I-80 near Reno", text)
	require.Equal(t, []string{"On I-8", "0 near ", "Reno"}, got)
}

func TestSendNoCredential(t *testing.T) {
	c := NewClient("http://localhost:1", StaticCredential(""), nil)

	_, err := c.Send(context.Background(), testRequest(), nil)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindAuth, kind)
}

func TestSendAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "token expired"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticCredential("stale"), nil)

	_, err := c.Send(context.Background(), testRequest(), nil)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, KindAuth, ae.Kind)
	require.Equal(t, "token expired", ae.UserMessage())
	require.False(t, ae.Retryable())
}

func TestSendServerRejectedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "vehicle veh-7 is not assigned to you"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticCredential("test-token"), nil)

	_, err := c.Send(context.Background(), testRequest(), nil)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, KindServerRejected, ae.Kind)
	require.Equal(t, "vehicle veh-7 is not assigned to you", ae.UserMessage())
	require.False(t, ae.Retryable())
}

func TestSendConnectionRefused(t *testing.T) {
	// Nothing listens on this port.
	c := NewClient("http://127.0.0.1:1", StaticCredential("test-token"), nil)

	_, err := c.Send(context.Background(), testRequest(), nil)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, KindNetwork, ae.Kind)
	require.True(t, ae.Retryable())
}

func TestSendAbruptStreamEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"delta\":\"partial \"}\n\n")
		// Connection drops without the end-of-stream sentinel.
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticCredential("test-token"), nil)

	text, err := c.Send(context.Background(), testRequest(), nil)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, KindNetwork, ae.Kind)
	require.Equal(t, "partial ", text)
}

func TestSendStalledStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stalled stream test in short mode")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"delta\":\"thinking\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticCredential("test-token"), nil)
	c.decoder.Budget = 100 * time.Millisecond

	text, err := c.Send(context.Background(), testRequest(), nil)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, KindStreamTimeout, ae.Kind)
	require.Equal(t, "thinking", text)
}

func TestSendCancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"delta\":\"hi\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticCredential("test-token"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Send(ctx, testRequest(), func(string) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	_, classified := KindOf(err)
	require.False(t, classified)
}

func TestHistory(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/assistant/history", r.URL.Path)
		require.Equal(t, "veh-7", r.URL.Query().Get("subjectId"))
		require.Equal(t, "user-1", r.URL.Query().Get("userId"))
		require.Equal(t, "50", r.URL.Query().Get("limit"))

		json.NewEncoder(w).Encode(HistoryResponse{Messages: []WireMessage{
			{ID: "m1", Role: "user", Content: "where is it", CreatedAt: t0},
			{ID: "m2", Role: "assistant", Content: "on I-80", CreatedAt: t0.Add(time.Second)},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticCredential("test-token"), nil)

	msgs, err := c.History(context.Background(), models.ConversationKey{VehicleID: "veh-7", UserID: "user-1"}, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, models.RoleUser, msgs[0].Role)
	require.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.False(t, msgs[0].Provisional())
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("nope"))
	require.False(t, ok)
}
