// Package ledger keeps the bounded conversation history shared by all providers.
package ledger

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of turns kept when no capacity is configured.
const DefaultCapacity = 10

// Turn is one successful prompt/response exchange. Turns are values and are
// never modified after they are appended.
type Turn struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger is a fixed-capacity FIFO of turns. The oldest turn is evicted when an
// append would exceed the capacity. It is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	turns    []Turn
}

func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		capacity: capacity,
		turns:    make([]Turn, 0, capacity),
	}
}

// Append records t and returns the ledger length after eviction.
func (l *Ledger) Append(t Turn) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.turns) == l.capacity {
		copy(l.turns, l.turns[1:])
		l.turns[len(l.turns)-1] = t
		return len(l.turns)
	}
	l.turns = append(l.turns, t)
	return len(l.turns)
}

// Snapshot returns a copy of every turn, oldest first.
func (l *Ledger) Snapshot() []Turn {
	return l.Tail(l.capacity)
}

// Tail returns a copy of the last n turns, oldest first.
func (l *Ledger) Tail(n int) []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || len(l.turns) == 0 {
		return nil
	}
	if n > len(l.turns) {
		n = len(l.turns)
	}
	out := make([]Turn, n)
	copy(out, l.turns[len(l.turns)-n:])
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

func (l *Ledger) Cap() int {
	return l.capacity
}

// Clear drops every turn.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = l.turns[:0]
}

// Last returns the most recent turn.
func (l *Ledger) Last() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}
