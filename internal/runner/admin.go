package runner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// AgentStatus is the fleet-view projection the control plane renders for
// GET /status and /status/all: strategy state joined with the scheduler's
// in-memory circuit-breaker state and recent run history.
type AgentStatus struct {
	Strategy *models.StrategyConfig `json:"strategy"`
	Breaker  interface{}            `json:"breaker"`
	Runs     []*models.RunRecord    `json:"runs,omitempty"`
}

// Status is the admin read path for one agent (§6 GET /status). It never
// touches internal/store directly from the caller's perspective — the
// control plane depends only on this method.
func (s *Scheduler) Status(ctx context.Context, tokenID *big.Int, runsLimit int) (*AgentStatus, error) {
	cfg, err := s.store.GetStrategy(ctx, s.cfg.ChainID, tokenID)
	if err != nil {
		return nil, err
	}
	var runs []*models.RunRecord
	if runsLimit > 0 {
		runs, err = s.store.ListRuns(ctx, s.cfg.ChainID, tokenID, runsLimit)
		if err != nil {
			return nil, err
		}
	}
	return &AgentStatus{
		Strategy: cfg,
		Breaker:  s.breakerFor(tokenID.String()).Status(),
		Runs:     runs,
	}, nil
}

// StatusAll backs both /status/all and /autopilots: both are fleet-wide
// views over the same token_strategies rows (§6's persisted-state layout
// names them separately, but neither spec nor the data model defines a
// distinct "autopilot" entity beyond StrategyConfig — see DESIGN.md).
func (s *Scheduler) StatusAll(ctx context.Context) ([]*AgentStatus, error) {
	strategies, err := s.store.ListStrategies(ctx, s.cfg.ChainID)
	if err != nil {
		return nil, err
	}
	out := make([]*AgentStatus, len(strategies))
	for i, cfg := range strategies {
		out[i] = &AgentStatus{
			Strategy: cfg,
			Breaker:  s.breakerFor(cfg.TokenID.String()).Status(),
		}
	}
	return out, nil
}

// EnableStrategy flips a strategy to enabled, resets its failure streak
// and circuit breaker, and clears lastError — the only path back to
// running after an auto-disable (§4.1: "recovery requires operator
// intervention").
func (s *Scheduler) EnableStrategy(ctx context.Context, tokenID *big.Int) error {
	cfg, err := s.store.GetStrategy(ctx, s.cfg.ChainID, tokenID)
	if err != nil {
		return err
	}
	cfg.Enabled = true
	cfg.FailureCount = 0
	cfg.LastError = ""
	cfg.NextCheckAt = time.Now()
	if err := s.store.UpsertStrategy(ctx, s.cfg.ChainID, cfg); err != nil {
		return err
	}
	s.ResetBreaker(tokenID.String())
	return nil
}

// DisableStrategy is the operator (or mode=local) disable path.
func (s *Scheduler) DisableStrategy(ctx context.Context, tokenID *big.Int, reason string) error {
	cfg, err := s.store.GetStrategy(ctx, s.cfg.ChainID, tokenID)
	if err != nil {
		return err
	}
	cfg.Enabled = false
	if reason != "" {
		cfg.LastError = reason
	}
	return s.store.UpsertStrategy(ctx, s.cfg.ChainID, cfg)
}

// UpsertStrategy is the POST /strategy/upsert path: the caller supplies a
// fully-formed StrategyConfig (creation defaults — NextCheckAt, BudgetDay —
// are the control plane's responsibility, not the scheduler's).
func (s *Scheduler) UpsertStrategy(ctx context.Context, cfg *models.StrategyConfig) error {
	if cfg.ChainID == 0 {
		cfg.ChainID = s.cfg.ChainID
	}
	return s.store.UpsertStrategy(ctx, cfg.ChainID, cfg)
}

// IngestMarketSignal is the POST /market/signal path.
func (s *Scheduler) IngestMarketSignal(ctx context.Context, signal *models.MarketSignal) error {
	return s.store.UpsertMarketSignal(ctx, signal)
}

// IngestMarketSignals is the POST /market/signal/batch path.
func (s *Scheduler) IngestMarketSignals(ctx context.Context, signals []*models.MarketSignal) error {
	return s.store.BatchUpsertMarketSignals(ctx, signals)
}

// ShadowMetrics is the GET /shadow/metrics path.
func (s *Scheduler) ShadowMetrics(ctx context.Context, since time.Time, tokenID *big.Int) (*store.ShadowMetrics, error) {
	return s.store.GetShadowMetrics(ctx, since, tokenID)
}

// SafetyMetrics is the GET /v3/safety/:tokenId/metrics path.
func (s *Scheduler) SafetyMetrics(ctx context.Context, tokenID *big.Int, since time.Time) (*store.SafetyMetrics, error) {
	return s.store.GetSafetyMetrics(ctx, s.cfg.ChainID, tokenID, since)
}

// SafetyTimeline is the GET /v3/safety/:tokenId/timeline path.
func (s *Scheduler) SafetyTimeline(ctx context.Context, tokenID *big.Int, since time.Time, bucket time.Duration) ([]store.SafetyTimelineBucket, error) {
	return s.store.GetSafetyTimeline(ctx, s.cfg.ChainID, tokenID, since, bucket)
}

// SafetyViolations is the GET /v3/safety/:tokenId/violations path.
func (s *Scheduler) SafetyViolations(ctx context.Context, tokenID *big.Int, since time.Time, limit int) ([]*models.RunRecord, error) {
	return s.store.GetSafetyViolations(ctx, s.cfg.ChainID, tokenID, since, limit)
}

// Health is the GET /health path: reports the persistence layer's health
// alongside the scheduler's own liveness (it is always "up" if this call
// returns at all).
func (s *Scheduler) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

// ParseTokenID is a small shared helper so httpapi handlers don't each
// reimplement the big.Int parse-or-400 dance.
func ParseTokenID(raw string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid tokenId %q", raw)
	}
	return id, nil
}
