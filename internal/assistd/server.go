// Package assistd hosts the assistant backend: the chat stream endpoint,
// the history endpoint, and the confirmed-message push feed. It is the
// only writer of the durable message log.
package assistd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routeworks/fleetpilot/internal/assistant"
	"github.com/routeworks/fleetpilot/internal/llm"
	"github.com/routeworks/fleetpilot/internal/metrics"
	"github.com/routeworks/fleetpilot/internal/models"
)

const defaultHistoryLimit = 50

// MessageLog is the durable conversation log. Implemented by *db.Client.
type MessageLog interface {
	QueryRecentMessages(ctx context.Context, key models.ConversationKey, limit int) ([]models.Message, error)
	QueryInsertMessage(ctx context.Context, key models.ConversationKey, role models.Role, content string, at time.Time) (models.Message, error)
	QueryCountMessages(ctx context.Context, key *models.ConversationKey) (int, error)
}

// Server wires the HTTP surface to the log, the generator, and the hub.
type Server struct {
	log       MessageLog
	generator llm.Generator
	hub       *Hub
	stats     *metrics.Collector
	token     string
	logger    *slog.Logger
}

// NewServer creates the assistant backend. An empty token disables auth.
func NewServer(log MessageLog, generator llm.Generator, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:       log,
		generator: generator,
		hub:       NewHub(logger),
		stats:     metrics.NewCollector(),
		token:     token,
		logger:    logger,
	}
}

// Hub exposes the push hub, used by tests and by broadcast-side tooling.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireBearer(s.token))

		r.Post("/v1/assistant/chat", s.handleChat)
		r.Get("/v1/assistant/history", s.handleHistory)
		r.Get("/v1/assistant/subscribe", s.hub.ServeHTTP)
		r.Get("/v1/stats", s.handleStats)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChat runs one conversation turn: persist the question, stream the
// generated answer as data: lines, persist the answer, then the
// end-of-stream sentinel. Both confirmed messages are broadcast to push
// subscribers as they land in the log.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req assistant.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	key := models.ConversationKey{VehicleID: req.VehicleID, UserID: req.UserID}
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusUnprocessableEntity, "message must not be empty")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()

	// Prior turns feed the generator; the new question is appended by the
	// generator itself.
	history, err := s.log.QueryRecentMessages(ctx, key, defaultHistoryLimit)
	if err != nil {
		s.logger.Error("history query failed", "conversation", key, "error", err)
		writeError(w, http.StatusInternalServerError, "message log unavailable")
		return
	}

	at := req.ClientTimestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	userMsg, err := s.log.QueryInsertMessage(ctx, key, models.RoleUser, req.Message, at)
	if err != nil {
		s.logger.Error("persist question failed", "conversation", key, "error", err)
		writeError(w, http.StatusInternalServerError, "message log unavailable")
		return
	}
	s.hub.Broadcast(key, userMsg)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	answer, err := s.generator.Stream(ctx, history, req.Message, req.LiveContext, func(chunk string) error {
		payload, err := json.Marshal(map[string]string{"delta": chunk})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	s.stats.RecordStream(metrics.OpLLMStream, time.Since(start), int64(len(answer)))

	if err != nil {
		// Headers are gone; dropping the stream without the sentinel tells
		// the client this attempt failed.
		answersGenerated.WithLabelValues("error").Inc()
		s.logger.Error("answer generation failed", "conversation", key, "error", err)
		return
	}

	assistantMsg, err := s.log.QueryInsertMessage(ctx, key, models.RoleAssistant, answer, time.Now().UTC())
	if err != nil {
		answersGenerated.WithLabelValues("error").Inc()
		s.logger.Error("persist answer failed", "conversation", key, "error", err)
		return
	}
	s.hub.Broadcast(key, assistantMsg)

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	answersGenerated.WithLabelValues("ok").Inc()
	answerChars.Observe(float64(len(answer)))
}

// handleHistory returns up to limit most recent messages, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := models.ConversationKey{
		VehicleID: r.URL.Query().Get("subjectId"),
		UserID:    r.URL.Query().Get("userId"),
	}
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = n
	}

	start := time.Now()
	msgs, err := s.log.QueryRecentMessages(r.Context(), key, limit)
	if err != nil {
		s.logger.Error("history query failed", "conversation", key, "error", err)
		writeError(w, http.StatusInternalServerError, "message log unavailable")
		return
	}
	s.stats.RecordTiming(metrics.OpDBQuery, time.Since(start))

	resp := assistant.HistoryResponse{Messages: make([]assistant.WireMessage, len(msgs))}
	for i, m := range msgs {
		resp.Messages[i] = assistant.FromModel(m)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// statsResponse is the /v1/stats body.
type statsResponse struct {
	metrics.Snapshot
	TotalMessages int `json:"totalMessages"`
	Subscribers   int `json:"subscribers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.log.QueryCountMessages(r.Context(), nil)
	if err != nil {
		s.logger.Error("count query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "message log unavailable")
		return
	}

	resp := statsResponse{
		Snapshot:      s.stats.Snapshot(),
		TotalMessages: total,
		Subscribers:   s.hub.Subscribers(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
