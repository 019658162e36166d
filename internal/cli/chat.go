package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"github.com/routeworks/fleetpilot/internal/assistant"
	"github.com/routeworks/fleetpilot/internal/chat"
	"github.com/routeworks/fleetpilot/internal/metrics"
	"github.com/routeworks/fleetpilot/internal/models"
	"github.com/routeworks/fleetpilot/internal/push"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	chatMessage     string
	chatNoSupersede bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <vehicle-id>",
	Short: "Open a conversation about a vehicle",
	Long: `Open an interactive conversation about one vehicle. Recent history is
loaded first, answers stream in live, and messages confirmed by the
backend replace their optimistic placeholders as they arrive.

Sending while an answer is still streaming cancels that answer and
submits the new message. Pass --no-supersede to refuse the new message
instead.

Examples:
  fleetpilot chat TRK-0042
  fleetpilot chat TRK-0042 -m "where was the last stop?"`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send a single message and print the answer")
	chatCmd.Flags().BoolVar(&chatNoSupersede, "no-supersede", false, "reject a new message while one is in flight")
}

func runChat(cmd *cobra.Command, args []string) error {
	key := models.ConversationKey{VehicleID: args[0], UserID: cfg.UserID}
	if err := key.Validate(); err != nil {
		return err
	}

	client := newAssistantClient()
	collector := metrics.NewCollector()
	sup := assistant.NewSupervisor(client, assistant.DefaultRetryPolicy(), logger, collector)

	if chatMessage != "" {
		return runChatOnce(sup, key, chatMessage)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive chat needs a terminal; use --message for scripted use")
	}

	events := make(chan tea.Msg, 64)
	ctrl, err := chat.NewController(chat.Options{
		Key:     key,
		Sender:  sup,
		History: client,
		Push:    push.NewSubscriber(cfg.AssistantURL, assistant.StaticCredential(cfg.AssistantToken), logger),
		Hooks: chat.Hooks{
			OnMessages: func(msgs []models.Message) { events <- messagesMsg(msgs) },
			OnDelta:    func(accumulated string) { events <- deltaMsg(accumulated) },
			OnNotice:   func(text string) { events <- noticeMsg(text) },
		},
		Logger:       logger,
		Metrics:      collector,
		HistoryLimit: cfg.HistoryLimit,
		NoSupersede:  chatNoSupersede,
	})
	if err != nil {
		return err
	}
	if err := ctrl.Start(context.Background()); err != nil {
		return err
	}

	model := newChatModel(ctrl, key, events)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		ctrl.Close()
		return fmt.Errorf("chat UI error: %w", err)
	}

	if m, ok := finalModel.(chatModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

// runChatOnce sends one message and streams the raw answer to stdout.
func runChatOnce(sup *assistant.Supervisor, key models.ConversationKey, text string) error {
	sup.OnRetry = func(attempt int, err error) {
		fmt.Fprintf(os.Stderr, "\n(attempt %d failed: %v, retrying)\n", attempt, err)
	}

	req := assistant.Request{
		VehicleID:       key.VehicleID,
		UserID:          key.UserID,
		Message:         text,
		ClientTimestamp: time.Now(),
	}
	_, err := sup.Send(context.Background(), req, func(delta string) error {
		fmt.Print(delta)
		return nil
	})
	fmt.Println()
	if err != nil {
		var ae *assistant.Error
		if errors.As(err, &ae) {
			exitWithError("%s", ae.UserMessage())
		}
		return err
	}
	return nil
}

// Messages bridged from controller hooks into the UI loop.
type (
	messagesMsg []models.Message
	deltaMsg    string
	noticeMsg   string
	closedMsg   struct{}
)

// chatModel is the bubbletea model for the interactive conversation.
type chatModel struct {
	ctrl   *chat.Controller
	key    models.ConversationKey
	events chan tea.Msg
	theme  Theme
	spin   spinner.Model

	msgs    []models.Message
	preview string
	notice  string
	input   []rune
	closing bool
	err     error
}

// newChatModel creates the initial UI state.
func newChatModel(ctrl *chat.Controller, key models.ConversationKey, events chan tea.Msg) chatModel {
	s := spinner.New()
	s.Spinner = spinner.Dot

	return chatModel{
		ctrl:   ctrl,
		key:    key,
		events: events,
		theme:  defaultTheme,
		spin:   s,
	}
}

// Init starts the spinner and the hook event pump.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.nextEvent())
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case messagesMsg:
		m.msgs = msg
		// The streamed preview is superseded once a confirmed assistant
		// message lands.
		if n := len(m.msgs); n > 0 && m.msgs[n-1].Role == models.RoleAssistant {
			m.preview = ""
		}
		return m, m.nextEvent()

	case deltaMsg:
		m.preview = string(msg)
		return m, m.nextEvent()

	case noticeMsg:
		m.notice = string(msg)
		m.preview = ""
		return m, m.nextEvent()

	case closedMsg:
		return m, tea.Quit
	}

	return m, nil
}

// handleKey processes one key press.
func (m chatModel) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	if m.closing {
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "esc":
		m.closing = true
		return m, m.closeSession()

	case "enter":
		text := strings.TrimSpace(string(m.input))
		if text == "" {
			return m, nil
		}
		m.input = m.input[:0]
		m.notice = ""
		if err := m.ctrl.Send(text); err != nil {
			switch {
			case errors.Is(err, chat.ErrSendInProgress):
				m.notice = "still sending the previous message"
			case errors.Is(err, chat.ErrClosed):
				m.closing = true
				return m, m.closeSession()
			default:
				m.err = err
				m.closing = true
				return m, m.closeSession()
			}
		}
		return m, nil

	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	}

	if msg.Text != "" {
		m.input = append(m.input, []rune(msg.Text)...)
	}
	return m, nil
}

// closeSession shuts the controller down off the UI loop. A drainer keeps
// hook deliveries from blocking while the controller winds down.
func (m chatModel) closeSession() tea.Cmd {
	events := m.events
	ctrl := m.ctrl
	return func() tea.Msg {
		go func() {
			for range events {
			}
		}()
		ctrl.Close()
		return closedMsg{}
	}
}

// nextEvent waits for the next controller hook delivery.
func (m chatModel) nextEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		return <-events
	}
}

// View renders the conversation.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m chatModel) renderContent() string {
	var b strings.Builder

	b.WriteString(m.theme.assistantStyle().Render("fleet assistant"))
	b.WriteString(m.theme.hintStyle().Render(fmt.Sprintf("  %s\n\n", m.key.VehicleID)))

	if m.ctrl.State() == chat.StateAwaitingHistory {
		b.WriteString(m.spin.View())
		b.WriteString(" Loading conversation...\n")
		return b.String()
	}

	for _, msg := range m.msgs {
		b.WriteString(m.theme.renderMessage(msg))
		b.WriteString("\n")
	}

	if m.preview != "" {
		b.WriteString(m.theme.assistantStyle().Render("assistant"))
		b.WriteString(" ")
		b.WriteString(m.spin.View())
		b.WriteString("\n")
		b.WriteString(m.theme.renderBody(m.preview))
		b.WriteString("\n\n")
	} else if m.ctrl.State() == chat.StateSending {
		b.WriteString(m.spin.View())
		b.WriteString(m.theme.hintStyle().Render(" waiting for the assistant\n\n"))
	}

	if m.notice != "" {
		b.WriteString(m.theme.noticeStyle().Render(m.notice))
		b.WriteString("\n\n")
	}

	if m.closing {
		b.WriteString(m.theme.hintStyle().Render("Closing...\n"))
		return b.String()
	}

	b.WriteString("> ")
	b.WriteString(string(m.input))
	b.WriteString("▌\n")
	b.WriteString(m.theme.hintStyle().Render("Enter to send · Ctrl+C to quit\n"))

	return b.String()
}
