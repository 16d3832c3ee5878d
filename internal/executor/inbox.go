package executor

import (
	"sync"

	"github.com/planexec/executor/internal/mutation"
)

// evaluationInbox holds evaluation-callback bodies the HTTP layer has
// received but the driver has not yet consumed. Ordering between the
// callback write and the driver's read after subprocess exit is guaranteed
// by the agent protocol (the agent POSTs its evaluation before it shuts
// down), but the inbox is still mutex-guarded rather than relying on that
// alone, since the driver polls it from a different goroutine than the
// one running the HTTP handler.
type evaluationInbox struct {
	mu      sync.Mutex
	pending map[string]mutation.Evaluation
}

func newEvaluationInbox() *evaluationInbox {
	return &evaluationInbox{pending: make(map[string]mutation.Evaluation)}
}

// Record stores an evaluation-callback body for a node, overwriting any
// prior body (callbacks are idempotent, last write wins).
func (b *evaluationInbox) Record(nodeID string, eval mutation.Evaluation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[nodeID] = eval
}

// Take removes and returns the pending evaluation for a node, if any.
func (b *evaluationInbox) Take(nodeID string) (mutation.Evaluation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[nodeID]
	if ok {
		delete(b.pending, nodeID)
	}
	return e, ok
}
