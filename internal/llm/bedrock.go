package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/routeworks/fleetpilot/internal/models"
)

// BedrockModel generates answers through Amazon Bedrock's Converse API.
// Credentials and region come from the standard AWS environment.
type BedrockModel struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockModel creates a Bedrock-backed generator for the given model id.
func NewBedrockModel(ctx context.Context, modelID string) (*BedrockModel, error) {
	if modelID == "" {
		return nil, fmt.Errorf("bedrock model id required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockModel{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: modelID,
	}, nil
}

// Model returns the Bedrock model id.
func (m *BedrockModel) Model() string {
	return m.modelID
}

// Stream implements Generator over ConverseStream.
func (m *BedrockModel) Stream(ctx context.Context, history []models.Message, question, liveContext string, fn func(chunk string) error) (string, error) {
	out, err := m.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(m.modelID),
		System:   []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}},
		Messages: bedrockMessages(history, question, liveContext),
	})
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("converse stream: %w", err))
	}

	stream := out.GetStream()
	defer stream.Close()

	var sb strings.Builder
	for event := range stream.Events() {
		block, ok := event.(*types.ConverseStreamOutputMemberContentBlockDelta)
		if !ok {
			continue
		}
		text, ok := block.Value.Delta.(*types.ContentBlockDeltaMemberText)
		if !ok || text.Value == "" {
			continue
		}
		sb.WriteString(text.Value)
		if fn != nil {
			if err := fn(text.Value); err != nil {
				return sb.String(), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return sb.String(), wrapFatalError(fmt.Errorf("converse stream: %w", err))
	}
	return sb.String(), nil
}

// bedrockMessages converts the conversation to Converse API messages.
// Bedrock requires strictly alternating roles starting with user, so
// leading assistant turns are folded into the first user message.
func bedrockMessages(history []models.Message, question, liveContext string) []types.Message {
	msgs := make([]types.Message, 0, len(history)+1)
	for _, msg := range history {
		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		msgs = append(msgs, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
		})
	}

	turn := question
	if liveContext != "" {
		turn = fmt.Sprintf("Live vehicle context: %s\n\n%s", liveContext, question)
	}
	msgs = append(msgs, types.Message{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: turn}},
	})

	return normalizeAlternation(msgs)
}

// normalizeAlternation merges consecutive same-role messages and drops a
// leading assistant turn, both rejected by the Converse API.
func normalizeAlternation(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if len(out) == 0 {
			if m.Role == types.ConversationRoleAssistant {
				continue
			}
			out = append(out, m)
			continue
		}
		last := &out[len(out)-1]
		if last.Role == m.Role {
			last.Content = append(last.Content, m.Content...)
			continue
		}
		out = append(out, m)
	}
	return out
}
