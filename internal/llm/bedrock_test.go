package llm

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/routeworks/fleetpilot/internal/models"
)

func textOf(t *testing.T, m types.Message) string {
	t.Helper()
	out := ""
	for _, c := range m.Content {
		text, ok := c.(*types.ContentBlockMemberText)
		if !ok {
			t.Fatalf("expected text block, got %T", c)
		}
		out += text.Value
	}
	return out
}

func TestBedrockMessagesAlternation(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleAssistant, Content: "welcome back"},
		{Role: models.RoleUser, Content: "where is the truck"},
		{Role: models.RoleUser, Content: "any stops today?"},
		{Role: models.RoleAssistant, Content: "two stops"},
	}

	msgs := bedrockMessages(history, "thanks, how far from Reno?", "")

	// Leading assistant turn dropped, consecutive user turns merged,
	// final user question appended.
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != types.ConversationRoleUser {
		t.Errorf("first message must be user, got %s", msgs[0].Role)
	}
	if got := textOf(t, msgs[0]); got != "where is the truckany stops today?" {
		t.Errorf("merged user turn mismatch: %q", got)
	}
	if msgs[1].Role != types.ConversationRoleAssistant {
		t.Errorf("second message should be assistant, got %s", msgs[1].Role)
	}
	if msgs[2].Role != types.ConversationRoleUser {
		t.Errorf("final message should be user, got %s", msgs[2].Role)
	}
}

func TestBedrockMessagesLiveContext(t *testing.T) {
	msgs := bedrockMessages(nil, "status?", "speed=60km/h")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if got := textOf(t, msgs[0]); got != "Live vehicle context: speed=60km/h\n\nstatus?" {
		t.Errorf("unexpected turn text: %q", got)
	}
}

func TestNewBedrockModelRequiresID(t *testing.T) {
	if _, err := NewBedrockModel(t.Context(), ""); err == nil {
		t.Fatal("expected error for empty model id")
	}
}
