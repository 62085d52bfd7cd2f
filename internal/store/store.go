package store

import (
	"context"
	"math/big"
	"time"

	"github.com/nfa-labs/agentrunner/pkg/models"
)

// Store is the narrow persistence contract (§4.5) the scheduler, cycle, and
// guardrails depend on. No caller outside this package touches *sqlx.DB.
type Store interface {
	// SelectRunnable returns tokenIds whose strategy is enabled, whose
	// autopilots row (if any) is not marked paused, and whose nextCheckAt
	// has elapsed.
	SelectRunnable(ctx context.Context, now time.Time, chainID int64) ([]*big.Int, error)

	GetStrategy(ctx context.Context, chainID int64, tokenID *big.Int) (*models.StrategyConfig, error)
	UpsertStrategy(ctx context.Context, chainID int64, cfg *models.StrategyConfig) error
	ListStrategies(ctx context.Context, chainID int64) ([]*models.StrategyConfig, error)

	// RecordRun appends a run and, in the same transaction, trims the
	// chain-scoped run table down to maxRunRecords. Strategy counters are
	// not touched here.
	RecordRun(ctx context.Context, run *models.RunRecord, maxRunRecords int) error
	ListRuns(ctx context.Context, chainID int64, tokenID *big.Int, limit int) ([]*models.RunRecord, error)

	AppendMemory(ctx context.Context, chainID int64, tokenID *big.Int, entry *models.MemoryEntry) error
	RecallMemory(ctx context.Context, chainID int64, tokenID *big.Int, limit int) ([]*models.MemoryEntry, error)

	UpsertMarketSignal(ctx context.Context, signal *models.MarketSignal) error
	BatchUpsertMarketSignals(ctx context.Context, signals []*models.MarketSignal) error
	GetMarketSignal(ctx context.Context, chainID int64, pair string) (*models.MarketSignal, error)

	GetShadowMetrics(ctx context.Context, since time.Time, tokenID *big.Int) (*ShadowMetrics, error)

	GetSafetyConfig(ctx context.Context, chainID int64, tokenID *big.Int) (*models.SafetyConfig, error)
	UpsertSafetyConfig(ctx context.Context, chainID int64, cfg *models.SafetyConfig) error
	GetSafetyMetrics(ctx context.Context, chainID int64, tokenID *big.Int, since time.Time) (*SafetyMetrics, error)
	GetSafetyTimeline(ctx context.Context, chainID int64, tokenID *big.Int, since time.Time, bucket time.Duration) ([]SafetyTimelineBucket, error)
	GetSafetyViolations(ctx context.Context, chainID int64, tokenID *big.Int, since time.Time, limit int) ([]*models.RunRecord, error)

	GetBlueprint(ctx context.Context, agentType string) (*models.Blueprint, error)
	UpsertBlueprint(ctx context.Context, blueprint *models.Blueprint) error

	Health(ctx context.Context) error
	Close() error
}

// ShadowMetrics aggregates primary-vs-shadow divergence counts (§4.7).
type ShadowMetrics struct {
	Since          time.Time `json:"since"`
	TotalCompared  int64     `json:"totalCompared"`
	Diverged       int64     `json:"diverged"`
	DivergenceRate float64   `json:"divergenceRate"`
}

// SafetyMetrics summarizes guardrail outcomes for an agent over a window.
type SafetyMetrics struct {
	TokenID          *big.Int `json:"tokenId"`
	TotalRuns        int64    `json:"totalRuns"`
	Blocked          int64    `json:"blocked"`
	SoftViolations   int64    `json:"softViolations"`
	HardViolations   int64    `json:"hardViolations"`
	InfraFailures    int64    `json:"infraFailures"`
}

// SafetyTimelineBucket is one bucketed slice of a safety timeline.
type SafetyTimelineBucket struct {
	BucketStart time.Time `json:"bucketStart"`
	Runs        int64     `json:"runs"`
	Blocked     int64     `json:"blocked"`
}
