package runner

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// fakeAdminStore implements only what the admin facade and failure-budget
// check call, following the established fake-embedding pattern.
type fakeAdminStore struct {
	store.Store
	mu         sync.Mutex
	strategies map[string]*models.StrategyConfig
	runs       []*models.RunRecord
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{strategies: make(map[string]*models.StrategyConfig)}
}

func (f *fakeAdminStore) GetStrategy(ctx context.Context, chainID int64, tokenID *big.Int) (*models.StrategyConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.strategies[tokenID.String()]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (f *fakeAdminStore) UpsertStrategy(ctx context.Context, chainID int64, cfg *models.StrategyConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cfg
	f.strategies[cfg.TokenID.String()] = &cp
	return nil
}

func (f *fakeAdminStore) ListStrategies(ctx context.Context, chainID int64) ([]*models.StrategyConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.StrategyConfig, 0, len(f.strategies))
	for _, cfg := range f.strategies {
		cp := *cfg
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeAdminStore) Health(ctx context.Context) error { return nil }

func (f *fakeAdminStore) RecordRun(ctx context.Context, run *models.RunRecord, maxRunRecords int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	disabled []string
	tripped  []string
}

func (n *fakeNotifier) CircuitBreakerTripped(ctx context.Context, tokenID, action, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tripped = append(n.tripped, tokenID)
}

func (n *fakeNotifier) AgentDisabled(ctx context.Context, tokenID, lastError string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disabled = append(n.disabled, tokenID)
}

func newTestScheduler(st store.Store, notifier *fakeNotifier) *Scheduler {
	return NewScheduler(SchedulerConfig{
		ChainID:                      1,
		MinIntervalMs:                1000,
		MaxConcurrentCycles:          4,
		CircuitBreakerMaxConsecutive: 3,
	}, st, nil, nil, nil, nil, notifier)
}

func TestScheduler_LocalSingleflight(t *testing.T) {
	sched := newTestScheduler(newFakeAdminStore(), nil)

	assert.True(t, sched.tryAcquireLocal("1"))
	assert.False(t, sched.tryAcquireLocal("1"), "a second acquire for the same key must fail while the first holds it")
	sched.releaseLocal("1")
	assert.True(t, sched.tryAcquireLocal("1"), "release must free the key for re-acquire")
}

func TestScheduler_LocalSingleflight_ConcurrentDistinctKeys(t *testing.T) {
	sched := newTestScheduler(newFakeAdminStore(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := big.NewInt(int64(n)).String()
			if sched.tryAcquireLocal(key) {
				time.Sleep(time.Millisecond)
				sched.releaseLocal(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestScheduler_CheckFailureBudget_DisablesPastMaxFailures(t *testing.T) {
	st := newFakeAdminStore()
	tokenID := big.NewInt(42)
	st.strategies[tokenID.String()] = &models.StrategyConfig{
		TokenID:      tokenID,
		ChainID:      1,
		Enabled:      true,
		MaxFailures:  2,
		FailureCount: 3,
	}
	notifier := &fakeNotifier{}
	sched := newTestScheduler(st, notifier)

	sched.checkFailureBudget(context.Background(), tokenID, &models.RunRecord{Error: "rpc timeout"})

	cfg, err := st.GetStrategy(context.Background(), 1, tokenID)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "rpc timeout", cfg.LastError)
	assert.Equal(t, []string{"42"}, notifier.disabled)
}

func TestScheduler_CheckFailureBudget_LeavesEnabledUnderBudget(t *testing.T) {
	st := newFakeAdminStore()
	tokenID := big.NewInt(7)
	st.strategies[tokenID.String()] = &models.StrategyConfig{
		TokenID:      tokenID,
		ChainID:      1,
		Enabled:      true,
		MaxFailures:  5,
		FailureCount: 1,
	}
	notifier := &fakeNotifier{}
	sched := newTestScheduler(st, notifier)

	sched.checkFailureBudget(context.Background(), tokenID, &models.RunRecord{})

	cfg, err := st.GetStrategy(context.Background(), 1, tokenID)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Empty(t, notifier.disabled)
}

func TestScheduler_EnableStrategy_ResetsFailureStateAndBreaker(t *testing.T) {
	st := newFakeAdminStore()
	tokenID := big.NewInt(9)
	st.strategies[tokenID.String()] = &models.StrategyConfig{
		TokenID:      tokenID,
		ChainID:      1,
		Enabled:      false,
		FailureCount: 4,
		LastError:    "circuit breaker tripped",
	}
	sched := newTestScheduler(st, nil)
	sched.breakerFor(tokenID.String()).RecordOutcome("swap", false)
	sched.breakerFor(tokenID.String()).RecordOutcome("swap", false)
	sched.breakerFor(tokenID.String()).RecordOutcome("swap", false)
	require.True(t, sched.breakerFor(tokenID.String()).IsTripped())

	require.NoError(t, sched.EnableStrategy(context.Background(), tokenID))

	cfg, err := st.GetStrategy(context.Background(), 1, tokenID)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 0, cfg.FailureCount)
	assert.Empty(t, cfg.LastError)
	assert.False(t, sched.breakerFor(tokenID.String()).IsTripped())
}

func TestScheduler_StatusAll_ReturnsEveryStrategy(t *testing.T) {
	st := newFakeAdminStore()
	st.strategies["1"] = &models.StrategyConfig{TokenID: big.NewInt(1), ChainID: 1}
	st.strategies["2"] = &models.StrategyConfig{TokenID: big.NewInt(2), ChainID: 1}
	sched := newTestScheduler(st, nil)

	statuses, err := sched.StatusAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
}

func TestScheduler_RecordCircuitBreakerBlock_PersistsBlockedRun(t *testing.T) {
	st := newFakeAdminStore()
	tokenID := big.NewInt(77)
	st.strategies[tokenID.String()] = &models.StrategyConfig{TokenID: tokenID, ChainID: 1}
	sched := newTestScheduler(st, nil)
	sched.breakerFor(tokenID.String()).RecordOutcome("swap", false)
	sched.breakerFor(tokenID.String()).RecordOutcome("swap", false)
	sched.breakerFor(tokenID.String()).RecordOutcome("swap", false)
	require.True(t, sched.breakerFor(tokenID.String()).IsTripped())

	sched.recordCircuitBreakerBlock(context.Background(), tokenID)

	require.Len(t, st.runs, 1, "a tripped breaker must still leave a blocked RunRecord in the audit trail")
	run := st.runs[0]
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, tokenID, run.TokenID)
	assert.Equal(t, "blocked", run.IntentType)
	require.NotNil(t, run.FailureCategory)
	assert.Equal(t, failure.BusinessRejected, *run.FailureCategory)
	require.NotNil(t, run.ErrorCode)
	assert.Equal(t, failure.CodeCircuitBreaker, *run.ErrorCode)
}
