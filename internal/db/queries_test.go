package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/routeworks/fleetpilot/internal/models"
)

func testConversation(n int) models.ConversationKey {
	return models.ConversationKey{
		VehicleID: fmt.Sprintf("veh-%d", n),
		UserID:    "user-test",
	}
}

func TestInsertAndRecentMessages(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	key := testConversation(1)
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	inserted, err := testDB.QueryInsertMessage(ctx, key, models.RoleUser, "where is the truck", t0)
	if err != nil {
		t.Fatalf("QueryInsertMessage failed: %v", err)
	}
	if inserted.ID == "" {
		t.Error("Expected server-assigned id, got empty")
	}
	if inserted.Role != models.RoleUser {
		t.Errorf("Expected role user, got %q", inserted.Role)
	}
	if inserted.Provisional() {
		t.Error("Stored message must not look provisional")
	}

	if _, err := testDB.QueryInsertMessage(ctx, key, models.RoleAssistant, "on I-80 near Reno", t0.Add(time.Second)); err != nil {
		t.Fatalf("QueryInsertMessage failed: %v", err)
	}

	msgs, err := testDB.QueryRecentMessages(ctx, key, 50)
	if err != nil {
		t.Fatalf("QueryRecentMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("Expected ascending order user then assistant, got %q then %q", msgs[0].Role, msgs[1].Role)
	}
	if msgs[0].Content != "where is the truck" {
		t.Errorf("Unexpected content %q", msgs[0].Content)
	}
}

func TestRecentMessagesLimitKeepsNewest(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	key := testConversation(2)
	t0 := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("message %d", i)
		if _, err := testDB.QueryInsertMessage(ctx, key, models.RoleUser, content, t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("QueryInsertMessage failed: %v", err)
		}
	}

	msgs, err := testDB.QueryRecentMessages(ctx, key, 3)
	if err != nil {
		t.Fatalf("QueryRecentMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	// The newest three, still oldest first.
	for i, want := range []string{"message 2", "message 3", "message 4"} {
		if msgs[i].Content != want {
			t.Errorf("Position %d: expected %q, got %q", i, want, msgs[i].Content)
		}
	}
}

func TestRecentMessagesScopedToConversation(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	keyA := testConversation(3)
	keyB := testConversation(4)
	if _, err := testDB.QueryInsertMessage(ctx, keyA, models.RoleUser, "only for A", t0); err != nil {
		t.Fatalf("QueryInsertMessage failed: %v", err)
	}
	if _, err := testDB.QueryInsertMessage(ctx, keyB, models.RoleUser, "only for B", t0); err != nil {
		t.Fatalf("QueryInsertMessage failed: %v", err)
	}

	msgs, err := testDB.QueryRecentMessages(ctx, keyA, 50)
	if err != nil {
		t.Fatalf("QueryRecentMessages failed: %v", err)
	}
	for _, m := range msgs {
		if m.Content == "only for B" {
			t.Error("Conversation A sees conversation B's message")
		}
	}
}

func TestRecentMessagesEmptyConversation(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	msgs, err := testDB.QueryRecentMessages(ctx, testConversation(99), 50)
	if err != nil {
		t.Fatalf("QueryRecentMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Expected no messages, got %d", len(msgs))
	}
}

func TestCountMessages(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	key := testConversation(5)
	t0 := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := testDB.QueryInsertMessage(ctx, key, models.RoleAssistant, "count me", t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("QueryInsertMessage failed: %v", err)
		}
	}

	scoped, err := testDB.QueryCountMessages(ctx, &key)
	if err != nil {
		t.Fatalf("QueryCountMessages failed: %v", err)
	}
	if scoped != 3 {
		t.Errorf("Expected 3 scoped messages, got %d", scoped)
	}

	total, err := testDB.QueryCountMessages(ctx, nil)
	if err != nil {
		t.Fatalf("QueryCountMessages failed: %v", err)
	}
	if total < scoped {
		t.Errorf("Total %d less than scoped count %d", total, scoped)
	}
}

func TestInsertRejectsUnknownRole(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	_, err := testDB.QueryInsertMessage(ctx, testConversation(6), models.Role("system"), "nope", time.Now().UTC())
	if err == nil {
		t.Fatal("Expected schema to reject unknown role")
	}
}
