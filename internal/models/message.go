// Package models defines data structures shared by the fleetpilot chat client.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// provisionalPrefix marks client-assigned identifiers that have not been
// confirmed by the backend yet.
const provisionalPrefix = "local-"

// Message is one turn in a conversation between a user and a vehicle
// assistant. Messages with a provisional ID exist only in client memory
// until the backend confirms them with a durable identifier.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewProvisional creates an optimistic message with a client-assigned
// identifier, inserted into the visible log before backend confirmation.
func NewProvisional(role Role, content string, at time.Time) Message {
	return Message{
		ID:        provisionalPrefix + uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

// Provisional reports whether the message carries a client-assigned
// identifier pending confirmation.
func (m Message) Provisional() bool {
	return strings.HasPrefix(m.ID, provisionalPrefix)
}

// SameTurn reports whether two messages describe the same conversation
// turn: identical role and identical content. Reconciliation uses this to
// collapse a provisional/confirmed pair into one visible entry.
func (m Message) SameTurn(other Message) bool {
	return m.Role == other.Role && m.Content == other.Content
}
