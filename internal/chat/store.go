// Package chat maintains the client-side view of a conversation: the
// reconciliation store merging optimistic, streamed, and pushed messages,
// and the session controller orchestrating sends.
package chat

import (
	"sync"

	"github.com/routeworks/fleetpilot/internal/models"
)

// entry pairs a message with its insertion sequence number, the stable
// tie-break for identical timestamps.
type entry struct {
	msg models.Message
	seq uint64
}

// Store holds the ordered, duplicate-free message sequence for one
// conversation. It reconciles three writers: local optimistic appends,
// history loads, and confirmations pushed from the backend. Push delivery
// is at-least-once and unordered, so Merge is idempotent.
type Store struct {
	mu      sync.Mutex
	entries []entry
	nextSeq uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// SetHistory initializes the store from the durable log, replacing any
// previous contents. Input is expected in ascending timestamp order; the
// insertion sequence preserves that order for equal timestamps.
func (s *Store) SetHistory(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = s.entries[:0]
	for _, m := range msgs {
		s.insertLocked(m)
	}
}

// Append inserts a locally created message, keeping chronological order.
func (s *Store) Append(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(msg)
}

// Merge reconciles a confirmed message into the view. Duplicate durable
// ids are ignored; a provisional message for the same turn is collapsed
// into the confirmed entry. Returns true if the visible sequence changed.
func (s *Store) Merge(confirmed models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.msg.ID == confirmed.ID {
			return false
		}
	}

	// Optimistic replace: drop the matching provisional entry first so
	// the turn never appears twice.
	for i, e := range s.entries {
		if e.msg.Provisional() && e.msg.SameTurn(confirmed) {
			s.removeAtLocked(i)
			break
		}
	}

	s.insertLocked(confirmed)
	return true
}

// Remove deletes the message with the given id. It returns true if an
// entry was removed. Callers remove exactly the provisional entry of a
// failed send, never a confirmed one.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.msg.ID == id {
			s.removeAtLocked(i)
			return true
		}
	}
	return false
}

// Messages returns a copy of the current ordered sequence.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of visible messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// insertLocked places msg before the first entry with a later timestamp,
// so equal timestamps stay ordered by insertion. Only the tail beyond the
// insertion point moves; unrelated entries are never reordered.
func (s *Store) insertLocked(msg models.Message) {
	e := entry{msg: msg, seq: s.nextSeq}
	s.nextSeq++

	pos := len(s.entries)
	for i, existing := range s.entries {
		if existing.msg.CreatedAt.After(msg.CreatedAt) {
			pos = i
			break
		}
	}

	s.entries = append(s.entries, entry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = e
}

func (s *Store) removeAtLocked(i int) {
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
}
