package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/routeworks/fleetpilot/internal/models"
	"github.com/routeworks/fleetpilot/internal/stream"
)

// DefaultRequestTimeout governs the initial request/response only; the
// stream that follows is bounded by the decoder's own budget.
const DefaultRequestTimeout = 30 * time.Second

// CredentialSource supplies the bearer credential for the assistant
// endpoint. Implementations may refresh expired credentials; returning an
// error or an empty token is a terminal, non-retryable failure.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredential is a fixed bearer token.
type StaticCredential string

// Token implements CredentialSource.
func (s StaticCredential) Token(context.Context) (string, error) {
	return string(s), nil
}

// Request is the chat request body. The JSON keys are a wire contract with
// the assistant backend.
type Request struct {
	VehicleID       string    `json:"subjectId"`
	Message         string    `json:"message"`
	UserID          string    `json:"userId"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
	LiveContext     string    `json:"liveContext,omitempty"`
}

// WireMessage is the transport form of a confirmed message, shared by the
// history endpoint and the push channel.
type WireMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToModel converts a wire message to the in-memory representation.
func (w WireMessage) ToModel() models.Message {
	return models.Message{
		ID:        w.ID,
		Role:      models.Role(w.Role),
		Content:   w.Content,
		CreatedAt: w.CreatedAt,
	}
}

// FromModel converts an in-memory message to its transport form.
func FromModel(m models.Message) WireMessage {
	return WireMessage{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// HistoryResponse is the history endpoint's body, messages ordered by
// timestamp ascending.
type HistoryResponse struct {
	Messages []WireMessage `json:"messages"`
}

// errorResponse is the JSON body of a non-2xx assistant response.
type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to the assistant endpoint.
type Client struct {
	endpoint string
	creds    CredentialSource
	http     *http.Client
	decoder  *stream.Decoder
	logger   *slog.Logger
}

// NewClient creates an assistant client. An empty endpoint falls back to
// FLEETPILOT_ASSISTANT_URL, then to localhost.
func NewClient(endpoint string, creds CredentialSource, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("FLEETPILOT_ASSISTANT_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8787"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint: endpoint,
		creds:    creds,
		http: &http.Client{
			// No global timeout: answer streams are long-lived. The
			// initial response is bounded here, the stream by the decoder.
			Transport: &http.Transport{
				ResponseHeaderTimeout: DefaultRequestTimeout,
			},
		},
		decoder: stream.NewDecoder(),
		logger:  logger,
	}
}

// Send posts one question and consumes the delta stream, invoking fn for
// each fragment. It returns the accumulated answer text. Failures are
// classified *Error values except context cancellation, which propagates
// untouched so supersession is distinguishable from failure.
func (c *Client) Send(ctx context.Context, req Request, fn stream.DeltaFunc) (string, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return "", &Error{Kind: KindAuth, Err: err}
	}
	if token == "" {
		return "", &Error{Kind: KindAuth, Message: "no credential available"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/assistant/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", c.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.classifyResponse(resp)
	}

	// The stream budget starts now. Canceling the stream context closes
	// the body so a blocked read actually tears the connection down.
	streamCtx, cancel := context.WithTimeout(ctx, c.decoder.Budget)
	defer cancel()
	go func() {
		<-streamCtx.Done()
		resp.Body.Close()
	}()

	start := time.Now()
	text, err := c.decoder.Decode(streamCtx, resp.Body, fn)
	if err != nil {
		return text, c.classifyStream(ctx, err)
	}

	c.logger.Debug("answer stream complete",
		"vehicle_id", req.VehicleID,
		"chars", len(text),
		"elapsed", time.Since(start))
	return text, nil
}

// History fetches up to limit most recent messages for the conversation,
// ordered by timestamp ascending.
func (c *Client) History(ctx context.Context, key models.ConversationKey, limit int) ([]models.Message, error) {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, &Error{Kind: KindAuth, Err: err}
	}

	q := url.Values{}
	q.Set("subjectId", key.VehicleID)
	q.Set("userId", key.UserID)
	q.Set("limit", strconv.Itoa(limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/assistant/history?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyResponse(resp)
	}

	var hist HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	msgs := make([]models.Message, len(hist.Messages))
	for i, w := range hist.Messages {
		msgs[i] = w.ToModel()
	}
	return msgs, nil
}

// classifyTransport maps a transport-level failure to the taxonomy.
// Cancellation of the caller's context passes through unclassified.
func (c *Client) classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindRequestTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

// classifyResponse turns a non-2xx response into a terminal error,
// surfacing the backend's message verbatim when the body carries one.
func (c *Client) classifyResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	msg := ""
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		msg = er.Error
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{Kind: KindAuth, Message: msg}
	}
	if msg == "" {
		msg = resp.Status
	}
	return &Error{Kind: KindServerRejected, Message: msg}
}

// classifyStream maps a decoder failure to the taxonomy.
func (c *Client) classifyStream(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		// Superseded or closed by the caller.
		return ctx.Err()
	case errors.Is(err, stream.ErrTimeout):
		return &Error{Kind: KindStreamTimeout, Err: err}
	case errors.Is(err, stream.ErrExhausted):
		return &Error{Kind: KindStreamExhausted, Err: err}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &Error{Kind: KindNetwork, Err: err}
	default:
		var ne net.Error
		if errors.As(err, &ne) {
			return &Error{Kind: KindNetwork, Err: err}
		}
		return err
	}
}
