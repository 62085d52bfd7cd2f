package runner

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/internal/lock"
	"github.com/nfa-labs/agentrunner/internal/metrics"
	"github.com/nfa-labs/agentrunner/internal/notify"
	"github.com/nfa-labs/agentrunner/internal/risk"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/logger"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// SchedulerConfig carries the driver-loop knobs of §4.1 and §5.
type SchedulerConfig struct {
	ChainID                      int64
	PollInterval                 time.Duration
	MinIntervalMs                int64
	MaxBackoff                   time.Duration
	MaxConcurrentCycles          int
	GracefulShutdown             time.Duration
	CircuitBreakerMaxConsecutive int
	MaxRunRecords                int
}

// Scheduler is the single long-lived driver of §4.1: it polls for runnable
// agents, enforces per-agent singleflight, runs one cognitive cycle per
// agent under a bounded concurrency semaphore, and advances nextCheckAt.
type Scheduler struct {
	cfg         SchedulerConfig
	store       store.Store
	chainReader chainsvc.AgentDataReader
	factory     *AgentFactory
	cycle       *Cycle
	lockFactory lock.Factory
	notifier    notify.Notifier

	mu             sync.Mutex
	localLocks     map[string]struct{}
	breakers       map[string]*risk.CircuitBreaker
	backoffStreaks map[string]int

	sem chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, st store.Store, chainReader chainsvc.AgentDataReader, factory *AgentFactory, cycle *Cycle, lockFactory lock.Factory, notifier notify.Notifier) *Scheduler {
	if cfg.MaxConcurrentCycles < 1 {
		cfg.MaxConcurrentCycles = 1
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Scheduler{
		cfg:            cfg,
		store:          st,
		chainReader:    chainReader,
		factory:        factory,
		cycle:          cycle,
		lockFactory:    lockFactory,
		notifier:       notifier,
		localLocks:     make(map[string]struct{}),
		breakers:       make(map[string]*risk.CircuitBreaker),
		backoffStreaks: make(map[string]int),
		sem:            make(chan struct{}, cfg.MaxConcurrentCycles),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start runs the driver loop until Stop is called. Blocking; call in its
// own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.wg.Wait()
			return
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals graceful shutdown: no new cycles are started; in-flight
// cycles are given GracefulShutdown to finish before their context is
// canceled at the next suspension point (§4.1, §5).
func (s *Scheduler) Stop() {
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(s.cfg.GracefulShutdown):
		logger.Warn("graceful shutdown window elapsed; in-flight cycles will be canceled")
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	tokenIDs, err := s.store.SelectRunnable(ctx, time.Now(), s.cfg.ChainID)
	if err != nil {
		logger.Error("selectRunnable failed", zap.Error(err))
		return
	}
	metrics.FleetSize.Set(float64(len(tokenIDs)))

	for _, tokenID := range tokenIDs {
		key := tokenID.String()
		if !s.tryAcquireLocal(key) {
			continue
		}
		if breaker := s.breakerFor(key); breaker.IsTripped() {
			s.releaseLocal(key)
			s.recordCircuitBreakerBlock(ctx, tokenID)
			continue
		}

		agentLock := s.lockFactory.CreateAgentLock(key)
		ok, err := agentLock.TryAcquire(ctx)
		if err != nil || !ok {
			s.releaseLocal(key)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			// at capacity this tick; release both locks and retry next poll
			_ = agentLock.Release(ctx)
			s.releaseLocal(key)
			continue
		}

		s.wg.Add(1)
		go s.runOne(ctx, tokenID, agentLock)
	}
}

func (s *Scheduler) runOne(ctx context.Context, tokenID *big.Int, agentLock lock.AgentLock) {
	key := tokenID.String()
	metrics.InflightCycles.Inc()
	defer func() {
		metrics.InflightCycles.Dec()
		<-s.sem
		_ = agentLock.Release(context.Background())
		s.releaseLocal(key)
		s.wg.Done()
		if r := recover(); r != nil {
			logger.Error("cycle panicked", zap.Any("recover", r), zap.String("token_id", key))
		}
	}()

	data, err := s.chainReader.ReadAgentData(ctx, s.cfg.ChainID, tokenID)
	if err != nil {
		s.advanceOnFailure(ctx, tokenID, err)
		return
	}

	// The registry read carries identity (owner/renter/vault/agentType)
	// but not the off-chain strategyParams a brain factory needs — those
	// live on the persisted StrategyConfig row (§3).
	if strategy, err := s.store.GetStrategy(ctx, s.cfg.ChainID, tokenID); err == nil && strategy != nil {
		data.StrategyParams = strategy.StrategyParams
	}

	agent, err := s.factory.Build(ctx, *data)
	if err != nil {
		s.advanceOnFailure(ctx, tokenID, err)
		return
	}

	rc := &models.RuntimeContext{
		Vault:   agent.Vault,
		TokenID: agent.TokenID,
	}

	run, err := s.cycle.Run(ctx, agent, rc)
	if err != nil {
		s.advanceOnFailure(ctx, tokenID, err)
		return
	}

	success := run.Error == ""
	action := run.ActionType
	if action == "" {
		action = "wait"
	}

	cat := failure.InfrastructureError
	if run.FailureCategory != nil {
		cat = *run.FailureCategory
	}
	metrics.CyclesTotal.WithLabelValues(resultLabel(success, cat)).Inc()

	breaker := s.breakerFor(key)
	wasTripped := breaker.IsTripped()
	breaker.RecordOutcome(action, success)
	if !wasTripped && breaker.IsTripped() {
		metrics.CircuitBreakerTripsTotal.WithLabelValues(key).Inc()
		s.notifier.CircuitBreakerTripped(ctx, key, action, breaker.Status().Reason)
	}

	s.checkFailureBudget(ctx, tokenID, run)

	if success {
		s.mu.Lock()
		s.backoffStreaks[key] = 0
		s.mu.Unlock()
		s.advanceNextCheck(ctx, tokenID, time.Duration(s.cfg.MinIntervalMs)*time.Millisecond)
		return
	}

	if failure.Retryable(cat) {
		s.advanceOnFailure(ctx, tokenID, nil)
	} else {
		// business_rejected / model_output_error: not retryable, but the
		// agent still needs its clock advanced so it isn't picked again
		// until minIntervalMs has passed.
		s.advanceNextCheck(ctx, tokenID, time.Duration(s.cfg.MinIntervalMs)*time.Millisecond)
	}
}

func resultLabel(success bool, cat failure.Category) string {
	if success {
		return "ok"
	}
	return string(cat)
}

// checkFailureBudget enforces "failureCount ≤ maxFailures while enabled":
// once the cycle's counter update pushes failureCount past maxFailures,
// the scheduler (not the cycle) is the one that flips the strategy off,
// since only the scheduler's caller owns the operator-facing disable path.
func (s *Scheduler) checkFailureBudget(ctx context.Context, tokenID *big.Int, run *models.RunRecord) {
	cfg, err := s.store.GetStrategy(ctx, s.cfg.ChainID, tokenID)
	if err != nil || cfg == nil || !cfg.Enabled {
		return
	}
	if cfg.FailureCount <= cfg.MaxFailures {
		return
	}
	cfg.Enabled = false
	if run.Error != "" {
		cfg.LastError = run.Error
	}
	if err := s.store.UpsertStrategy(ctx, s.cfg.ChainID, cfg); err != nil {
		logger.Error("disabling strategy past failure budget", zap.Error(err), zap.String("token_id", tokenID.String()))
		return
	}
	s.notifier.AgentDisabled(ctx, tokenID.String(), cfg.LastError)
}

// advanceNextCheck sets nextCheckAt to now + max(minIntervalMs, interval).
func (s *Scheduler) advanceNextCheck(ctx context.Context, tokenID *big.Int, interval time.Duration) {
	floor := time.Duration(s.cfg.MinIntervalMs) * time.Millisecond
	if interval < floor {
		interval = floor
	}
	cfg, err := s.store.GetStrategy(ctx, s.cfg.ChainID, tokenID)
	if err != nil || cfg == nil {
		return
	}
	cfg.NextCheckAt = time.Now().Add(interval)
	if err := s.store.UpsertStrategy(ctx, s.cfg.ChainID, cfg); err != nil {
		logger.Error("advancing nextCheckAt", zap.Error(err), zap.String("token_id", tokenID.String()))
	}
}

// advanceOnFailure applies minIntervalMs plus exponential backoff, capped
// at maxBackoff, and increments the per-tokenId backoff streak.
func (s *Scheduler) advanceOnFailure(ctx context.Context, tokenID *big.Int, err error) {
	if err != nil {
		logger.Error("cycle failed before producing a run record", zap.Error(err), zap.String("token_id", tokenID.String()))
	}
	key := tokenID.String()
	s.mu.Lock()
	s.backoffStreaks[key]++
	streak := s.backoffStreaks[key]
	s.mu.Unlock()

	backoff := time.Duration(s.cfg.MinIntervalMs) * time.Millisecond
	for i := 1; i < streak; i++ {
		backoff *= 2
		if backoff >= s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
			break
		}
	}
	s.advanceNextCheck(ctx, tokenID, backoff)
}

// recordCircuitBreakerBlock persists the breaker short-circuit as a blocked
// RunRecord — spec.md §1's "persists every decision and execution" covers a
// tripped breaker the same as any other blocked outcome; it must not vanish
// from the audit trail just because the cycle never ran.
func (s *Scheduler) recordCircuitBreakerBlock(ctx context.Context, tokenID *big.Int) {
	logger.Warn("circuit breaker open, skipping cycle", zap.String("token_id", tokenID.String()))

	cat, code := failure.BusinessRejected, failure.CodeCircuitBreaker
	reason := s.breakerFor(tokenID.String()).Status().Reason
	run := &models.RunRecord{
		ID:              uuid.New().String(),
		CreatedAt:       time.Now(),
		ChainID:         s.cfg.ChainID,
		TokenID:         tokenID,
		RunMode:         models.RunPrimary,
		IntentType:      "blocked",
		Error:           reason,
		FailureCategory: &cat,
		ErrorCode:       &code,
	}
	if err := s.store.RecordRun(ctx, run, s.cfg.MaxRunRecords); err != nil {
		logger.Error("recording circuit breaker block", zap.Error(err), zap.String("token_id", tokenID.String()))
	}

	s.advanceNextCheck(ctx, tokenID, time.Duration(s.cfg.MinIntervalMs)*time.Millisecond)
}

func (s *Scheduler) breakerFor(key string) *risk.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = risk.NewCircuitBreaker(key, s.cfg.CircuitBreakerMaxConsecutive)
		s.breakers[key] = b
	}
	return b
}

// ResetBreaker closes a tripped agent's circuit breaker; called only from
// the control-plane strategy re-enable path (§4.1: "recovery requires
// operator intervention").
func (s *Scheduler) ResetBreaker(tokenID string) {
	s.mu.Lock()
	b, ok := s.breakers[tokenID]
	s.mu.Unlock()
	if ok {
		b.Reset()
	}
}

// tryAcquireLocal is the in-process half of per-agent singleflight (§9):
// the map mutex is held only long enough to test-and-set, never across I/O.
func (s *Scheduler) tryAcquireLocal(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.localLocks[key]; running {
		return false
	}
	s.localLocks[key] = struct{}{}
	return true
}

func (s *Scheduler) releaseLocal(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.localLocks, key)
}
