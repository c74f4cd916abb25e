package command

import "sync"

// DecisionType tells the caller what BeginOrQueue did with a prompt.
type DecisionType string

const (
	DecisionStart  DecisionType = "start"
	DecisionQueued DecisionType = "queued"
)

// Decision is the result of BeginOrQueue.
type Decision struct {
	Type DecisionType
	// Prompt is set for DecisionStart.
	Prompt string
	// Position is the 1-based queue position for DecisionQueued.
	Position int
}

// TurnQueue tracks the active turn and the prompts waiting behind it.
type TurnQueue struct {
	mu      sync.Mutex
	active  bool
	pending []string
}

// NewTurnQueue returns an idle queue.
func NewTurnQueue() *TurnQueue {
	return &TurnQueue{}
}

// BeginOrQueue starts prompt when idle, otherwise queues it.
func (q *TurnQueue) BeginOrQueue(prompt string) Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active {
		q.pending = append(q.pending, prompt)
		return Decision{Type: DecisionQueued, Position: len(q.pending)}
	}
	q.active = true
	return Decision{Type: DecisionStart, Prompt: prompt}
}

// SettleActive marks the active turn finished and returns the next pending
// prompt, which becomes active. ok is false when nothing is pending.
func (q *TurnQueue) SettleActive() (next string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.active = false
	if len(q.pending) == 0 {
		return "", false
	}
	next = q.pending[0]
	q.pending = q.pending[1:]
	q.active = true
	return next, true
}

// HasActive reports whether a turn is running.
func (q *TurnQueue) HasActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// PendingCount returns the number of queued prompts.
func (q *TurnQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// ClearPending drops every queued prompt.
func (q *TurnQueue) ClearPending() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}
