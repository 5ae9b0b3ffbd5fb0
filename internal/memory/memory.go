// Package memory holds the per-session conversation log. Each completed
// question/answer exchange is recorded as a Turn and injected into subsequent
// prompts so follow-up questions can be resolved.
package memory

import (
	"sync"
	"time"
)

// Turn represents one completed question/answer exchange. SQL and
// ResultSummary are empty when the turn never reached execution (for example
// a validation refusal). Turns are never mutated after being appended.
type Turn struct {
	Question      string
	SQL           string
	ResultSummary string
	Answer        string
	Timestamp     time.Time
}

// Memory is a bounded, ordered log of conversation turns. When the capacity
// is exceeded the oldest turn is evicted.
type Memory struct {
	mu       sync.Mutex
	capacity int
	turns    []Turn
}

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 10

// New creates a conversation memory holding at most capacity turns
func New(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Memory{
		capacity: capacity,
		turns:    make([]Turn, 0, capacity),
	}
}

// Append records a completed turn, evicting the oldest turn if full
func (m *Memory) Append(turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	if len(m.turns) >= m.capacity {
		m.turns = m.turns[1:]
	}

	m.turns = append(m.turns, turn)
}

// Recent returns up to n most recent turns, oldest first. Asking for more
// turns than are stored returns everything.
func (m *Memory) Recent(n int) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 {
		return nil
	}

	start := len(m.turns) - n
	if start < 0 {
		start = 0
	}

	out := make([]Turn, len(m.turns)-start)
	copy(out, m.turns[start:])

	return out
}

// Len returns the number of stored turns
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.turns)
}

// Capacity returns the maximum number of stored turns
func (m *Memory) Capacity() int {
	return m.capacity
}

// Clear removes all stored turns
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = m.turns[:0]
}
