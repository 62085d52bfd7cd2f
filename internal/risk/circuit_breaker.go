package risk

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/pkg/logger"
)

// CircuitBreaker tracks consecutive same-action, same-failure cycles for one
// agent (§4.1). It never clears itself on a timer — recovery requires
// operator intervention (re-enabling the strategy row), which is why Reset
// is the only path back to closed, unlike the teacher's cooldown-based
// breaker.
type CircuitBreaker struct {
	mu               sync.RWMutex
	tokenID          string
	maxConsecutive   int
	lastAction       string
	consecutiveFails int
	tripped          bool
	tripReason       string
}

func NewCircuitBreaker(tokenID string, maxConsecutive int) *CircuitBreaker {
	return &CircuitBreaker{tokenID: tokenID, maxConsecutive: maxConsecutive}
}

// IsTripped reports whether the breaker is currently open.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.tripped
}

// RecordOutcome updates the consecutive-failure streak for one cycle. A
// successful run, or a run with a different action, clears the streak.
func (cb *CircuitBreaker) RecordOutcome(action string, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.consecutiveFails = 0
		cb.lastAction = action
		return
	}

	if action == cb.lastAction {
		cb.consecutiveFails++
	} else {
		cb.consecutiveFails = 1
		cb.lastAction = action
	}

	if cb.consecutiveFails >= cb.maxConsecutive && !cb.tripped {
		cb.tripped = true
		cb.tripReason = "max consecutive same-action failures reached"
		logger.Error("circuit breaker tripped",
			zap.String("token_id", cb.tokenID),
			zap.String("action", action),
			zap.Int("consecutive_fails", cb.consecutiveFails),
		)
	}
}

// Reset closes the breaker. Called only by an explicit operator action
// (strategy re-enable), never automatically.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tripped = false
	cb.consecutiveFails = 0
	cb.tripReason = ""
	logger.Info("circuit breaker reset by operator", zap.String("token_id", cb.tokenID))
}

// Status reports the breaker's current state for the fleet status endpoint.
type Status struct {
	Tripped          bool   `json:"tripped"`
	ConsecutiveFails int    `json:"consecutiveFails"`
	Reason           string `json:"reason,omitempty"`
}

func (cb *CircuitBreaker) Status() Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Status{Tripped: cb.tripped, ConsecutiveFails: cb.consecutiveFails, Reason: cb.tripReason}
}
