package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/routeworks/fleetpilot/internal/assistant"
	"github.com/routeworks/fleetpilot/internal/metrics"
	"github.com/routeworks/fleetpilot/internal/models"
	"github.com/routeworks/fleetpilot/internal/stream"
)

// State is the controller's lifecycle phase.
type State int

// Controller states.
const (
	StateEmpty State = iota
	StateAwaitingHistory
	StateReady
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAwaitingHistory:
		return "awaiting_history"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Controller errors.
var (
	ErrNotStarted     = errors.New("chat: controller not started")
	ErrClosed         = errors.New("chat: controller closed")
	ErrSendInProgress = errors.New("chat: a send is already in progress")
)

// DefaultHistoryLimit is the number of recent messages loaded on start.
const DefaultHistoryLimit = 50

// HistoryLoader reads the durable message log: up to limit most recent
// messages, ordered by timestamp ascending.
type HistoryLoader interface {
	History(ctx context.Context, key models.ConversationKey, limit int) ([]models.Message, error)
}

// PushChannel delivers confirmed messages inserted into the durable log.
// Delivery is at-least-once and unordered. The returned channel closes
// when ctx is canceled; canceling ctx detaches the subscription.
type PushChannel interface {
	Subscribe(ctx context.Context, key models.ConversationKey) (<-chan models.Message, error)
}

// Sender performs a supervised send. Implemented by *assistant.Supervisor.
type Sender interface {
	Send(ctx context.Context, req assistant.Request, fn stream.DeltaFunc) (string, error)
}

// Hooks are the controller's UI-facing side effects. Nil hooks are skipped.
// Hooks are never invoked after Close returns.
type Hooks struct {
	// OnMessages receives the full visible sequence after every change.
	OnMessages func(msgs []models.Message)
	// OnDelta receives the accumulated in-progress answer text.
	OnDelta func(accumulated string)
	// OnNotice receives a user-facing notification for a failed send.
	OnNotice func(text string)
}

// Options configures a Controller.
type Options struct {
	Key          models.ConversationKey
	Sender       Sender
	History      HistoryLoader
	Push         PushChannel
	Hooks        Hooks
	Logger       *slog.Logger
	Metrics      *metrics.Collector
	HistoryLimit int
	// LiveContext, when set, supplies the optional live vehicle context
	// attached to each send.
	LiveContext func() string
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// NoSupersede makes Send return ErrSendInProgress while a send is in
	// flight instead of canceling it.
	NoSupersede bool
}

// Controller orchestrates the conversation: it owns the store, the push
// subscription, and at most one in-flight stream session. All mutation of
// the message sequence flows through the store's methods.
type Controller struct {
	opts  Options
	store *Store

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // push loop exit

	mu         sync.Mutex
	state      State
	queued     []string
	sendGen    uint64
	sendCancel context.CancelFunc
	sendDone   chan struct{}
	retryReset func()
}

// NewController creates a controller in the Empty state.
func NewController(opts Options) (*Controller, error) {
	if err := opts.Key.Validate(); err != nil {
		return nil, err
	}
	if opts.Sender == nil {
		return nil, errors.New("chat: sender required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		opts:  opts,
		store: NewStore(),
		state: StateEmpty,
	}
	if sup, ok := opts.Sender.(*assistant.Supervisor); ok {
		// A retried attempt restarts the answer from scratch, so the
		// preview accumulated by the failed attempt must be discarded.
		sup.OnRetry = func(int, error) {
			c.mu.Lock()
			reset := c.retryReset
			c.mu.Unlock()
			if reset != nil {
				reset()
			}
		}
	}
	return c, nil
}

// Start attaches the push subscription and begins the history load. Input
// submitted before history resolves is queued, then sent in order.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateEmpty {
		c.mu.Unlock()
		return errors.New("chat: already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.setStateLocked(StateAwaitingHistory)
	c.mu.Unlock()

	c.done = make(chan struct{})
	if c.opts.Push != nil {
		ch, err := c.opts.Push.Subscribe(c.ctx, c.opts.Key)
		if err != nil {
			close(c.done)
			c.Close()
			return err
		}
		go c.pushLoop(ch)
	} else {
		close(c.done)
	}

	go c.loadHistory()
	return nil
}

// Send submits user input. During the history load it is queued. While a
// send is in flight the new submission supersedes it: the active stream
// session is canceled and its late deltas are discarded.
func (c *Controller) Send(text string) error {
	c.mu.Lock()

	switch c.state {
	case StateEmpty:
		c.mu.Unlock()
		return ErrNotStarted
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateAwaitingHistory:
		c.queued = append(c.queued, text)
		c.mu.Unlock()
		return nil
	case StateSending:
		if c.opts.NoSupersede {
			c.mu.Unlock()
			return ErrSendInProgress
		}
		c.supersedeLocked()
	}

	c.startSendLocked(text)
	c.mu.Unlock()
	return nil
}

// Close tears the controller down: the in-flight stream session is
// canceled, the push subscription detaches, and no hook fires afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	sendDone := c.sendDone
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if sendDone != nil {
		<-sendDone
	}
	if c.done != nil {
		<-c.done
	}
}

// Messages returns the current visible sequence.
func (c *Controller) Messages() []models.Message {
	return c.store.Messages()
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// loadHistory fetches the durable log, initializes the store, and drains
// queued input in submission order.
func (c *Controller) loadHistory() {
	start := c.opts.Now()
	var msgs []models.Message
	if c.opts.History != nil {
		var err error
		msgs, err = c.opts.History.History(c.ctx, c.opts.Key, c.opts.HistoryLimit)
		if err != nil {
			// A conversation with unloadable history still accepts new
			// messages; confirmed entries arrive via the push channel.
			c.opts.Logger.Warn("history load failed", "conversation", c.opts.Key, "error", err)
		}
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordTiming(metrics.OpHistoryLoad, time.Since(start))
	}

	c.mu.Lock()
	if c.state != StateAwaitingHistory {
		c.mu.Unlock()
		return
	}
	if msgs != nil {
		c.store.SetHistory(msgs)
	}
	queued := c.queued
	c.queued = nil
	c.setStateLocked(StateReady)
	c.mu.Unlock()

	c.notifyMessages()

	for _, text := range queued {
		c.mu.Lock()
		if c.state != StateReady {
			c.mu.Unlock()
			return
		}
		done := c.startSendLocked(text)
		c.mu.Unlock()
		<-done
	}
}

// pushLoop routes externally pushed confirmations through the store. The
// loop exits when the subscription channel closes on teardown.
func (c *Controller) pushLoop(ch <-chan models.Message) {
	defer close(c.done)
	for msg := range ch {
		start := c.opts.Now()
		changed := c.store.Merge(msg)
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordTiming(metrics.OpPushMerge, time.Since(start))
		}
		if changed {
			c.notifyMessages()
		}
	}
}

// supersedeLocked cancels the active stream session and removes its
// provisional entry. Callers hold c.mu.
func (c *Controller) supersedeLocked() {
	if c.sendCancel != nil {
		c.sendCancel()
		c.sendCancel = nil
	}
	c.sendGen++
}

// startSendLocked creates the optimistic message and launches the stream
// session. Callers hold c.mu. The returned channel closes when the
// session finishes.
func (c *Controller) startSendLocked(text string) chan struct{} {
	optimistic := models.NewProvisional(models.RoleUser, text, c.opts.Now())
	c.store.Append(optimistic)

	sendCtx, cancel := context.WithCancel(c.ctx)
	c.sendCancel = cancel
	c.sendGen++
	gen := c.sendGen
	done := make(chan struct{})
	c.sendDone = done
	c.setStateLocked(StateSending)

	go func() {
		c.notifyMessages()
		c.performSend(sendCtx, gen, optimistic)
		close(done)
	}()
	return done
}

// performSend runs one supervised send for the session identified by gen.
// Late callbacks from a superseded session are discarded by the gen check.
func (c *Controller) performSend(ctx context.Context, gen uint64, optimistic models.Message) {
	req := assistant.Request{
		VehicleID:       c.opts.Key.VehicleID,
		Message:         optimistic.Content,
		UserID:          c.opts.Key.UserID,
		ClientTimestamp: optimistic.CreatedAt,
	}
	if c.opts.LiveContext != nil {
		req.LiveContext = c.opts.LiveContext()
	}

	var previewMu sync.Mutex
	var preview strings.Builder
	fn := func(delta string) error {
		if !c.sessionCurrent(gen) {
			return context.Canceled
		}
		previewMu.Lock()
		preview.WriteString(delta)
		text := preview.String()
		previewMu.Unlock()
		c.notifyDelta(text)
		return nil
	}

	c.mu.Lock()
	c.retryReset = func() {
		previewMu.Lock()
		preview.Reset()
		previewMu.Unlock()
	}
	c.mu.Unlock()

	_, err := c.opts.Sender.Send(ctx, req, fn)

	c.mu.Lock()
	current := c.sendGen == gen && c.state != StateClosed
	if current {
		c.sendCancel = nil
		if c.state == StateSending {
			c.setStateLocked(StateReady)
		}
	}
	closed := c.state == StateClosed
	c.mu.Unlock()

	if closed || !current {
		return
	}

	if err == nil {
		// The confirmed pair arrives via the push channel; the optimistic
		// entry stays visible until reconciliation collapses it.
		return
	}

	// Terminal failure: the optimistic message disappears rather than
	// lingering in a failed state.
	c.store.Remove(optimistic.ID)
	c.notifyMessages()

	if errors.Is(err, context.Canceled) {
		return
	}

	c.opts.Logger.Error("send failed", "conversation", c.opts.Key, "error", err)
	var ae *assistant.Error
	if errors.As(err, &ae) {
		c.notifyNotice(ae.UserMessage())
	} else {
		c.notifyNotice("could not send your message")
	}
}

func (c *Controller) sessionCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendGen == gen && c.state != StateClosed
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
}

func (c *Controller) notifyMessages() {
	c.mu.Lock()
	ok := c.state != StateClosed && c.opts.Hooks.OnMessages != nil
	c.mu.Unlock()
	if ok {
		c.opts.Hooks.OnMessages(c.store.Messages())
	}
}

func (c *Controller) notifyDelta(accumulated string) {
	c.mu.Lock()
	ok := c.state != StateClosed && c.opts.Hooks.OnDelta != nil
	c.mu.Unlock()
	if ok {
		c.opts.Hooks.OnDelta(accumulated)
	}
}

func (c *Controller) notifyNotice(text string) {
	c.mu.Lock()
	ok := c.state != StateClosed && c.opts.Hooks.OnNotice != nil
	c.mu.Unlock()
	if ok {
		c.opts.Hooks.OnNotice(text)
	}
}
