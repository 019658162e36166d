// Package llm provides streaming answer generation using langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/routeworks/fleetpilot/internal/config"
	"github.com/routeworks/fleetpilot/internal/models"
)

// ErrFatalAPI marks provider errors that retrying cannot fix: bad
// credentials, exhausted quota, billing problems.
var ErrFatalAPI = errors.New("fatal LLM API error")

// Generator produces a streamed answer for one conversation turn.
type Generator interface {
	// Stream generates an answer for question given the prior turns,
	// invoking fn for each text fragment. Returns the full answer.
	Stream(ctx context.Context, history []models.Message, question, liveContext string, fn func(chunk string) error) (string, error)
}

const systemPrompt = `You are a fleet operations assistant. Answer the driver's or dispatcher's question about their vehicle using the conversation so far and any live vehicle context provided.
When referring to a place, emit an inline marker of the form [LOCATION: <lat>, <lon>, "<label>"].
When presenting tabular trip data, emit [TRIP_TABLE: <pipe-delimited rows>].
Be concise.`

// Model wraps a langchaingo LLM for answer generation.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates the generator selected by configuration. Bedrock is
// handled separately, see NewBedrockModel.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{llm: model, modelName: cfg.LLMModel}, nil
}

// Model returns the configured model name.
func (m *Model) Model() string {
	return m.modelName
}

// Stream implements Generator.
func (m *Model) Stream(ctx context.Context, history []models.Message, question, liveContext string, fn func(chunk string) error) (string, error) {
	messages := buildMessages(history, question, liveContext)

	var sb strings.Builder
	_, err := m.llm.GenerateContent(ctx, messages,
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			sb.Write(chunk)
			if fn != nil {
				return fn(string(chunk))
			}
			return nil
		}),
	)
	if err != nil {
		return sb.String(), wrapFatalError(fmt.Errorf("generate: %w", err))
	}
	return sb.String(), nil
}

// buildMessages assembles the provider message sequence: system prompt,
// prior turns, then the new question with optional live context.
func buildMessages(history []models.Message, question, liveContext string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))

	for _, msg := range history {
		role := llms.ChatMessageTypeHuman
		if msg.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, msg.Content))
	}

	turn := question
	if liveContext != "" {
		turn = fmt.Sprintf("Live vehicle context: %s\n\n%s", liveContext, question)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, turn))
	return messages
}

// fatalPatterns are substrings of provider errors that no retry can fix.
var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI so callers
// can stop instead of retrying.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
