package runner

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// --- fakes, scoped to this file, standing in for the capability traits a
// real Agent wires from the registry/factory. ---

type fakeCycleStore struct {
	store.Store
	strategy *models.StrategyConfig
	runs     []*models.RunRecord
}

func (f *fakeCycleStore) GetStrategy(ctx context.Context, chainID int64, tokenID *big.Int) (*models.StrategyConfig, error) {
	return f.strategy, nil
}

func (f *fakeCycleStore) UpsertStrategy(ctx context.Context, chainID int64, cfg *models.StrategyConfig) error {
	f.strategy = cfg
	return nil
}

func (f *fakeCycleStore) RecordRun(ctx context.Context, run *models.RunRecord, maxRunRecords int) error {
	f.runs = append(f.runs, run)
	return nil
}

type fakePerception struct {
	obs *models.Observation
	err error
}

func (p *fakePerception) Observe(ctx context.Context, rc *models.RuntimeContext) (*models.Observation, error) {
	return p.obs, p.err
}

type fakeMemory struct {
	entries []*models.MemoryEntry
}

func (m *fakeMemory) Recall(ctx context.Context, limit int) ([]*models.MemoryEntry, error) {
	return m.entries, nil
}

func (m *fakeMemory) Append(ctx context.Context, entry *models.MemoryEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

type fakeGuardrails struct {
	verdict *GuardVerdict
	err     error
}

func (g *fakeGuardrails) Check(ctx context.Context, chainID int64, ec *models.ExecutionContext) (*GuardVerdict, error) {
	return g.verdict, g.err
}

type fakeBrain struct {
	decision *models.Decision
}

func (b *fakeBrain) Think(ctx context.Context, obs *models.Observation, memories []*models.MemoryEntry, actions []Action) (*models.Decision, error) {
	return b.decision, nil
}

type fakeChain struct {
	simResult *chainsvc.SimulateResult
	simErr    error
	txHash    common.Hash
	submitErr error
	receipt   *chainsvc.Receipt
	receiptErr error

	// simFailTimes/simFailErr script Simulate to return simFailErr for the
	// first simFailTimes calls, then fall through to simResult/simErr —
	// used to exercise retry.Do's "fails twice then succeeds" path.
	simCalls     int
	simFailTimes int
	simFailErr   error
}

func (c *fakeChain) Simulate(ctx context.Context, payload *chainsvc.Payload) (*chainsvc.SimulateResult, error) {
	c.simCalls++
	if c.simCalls <= c.simFailTimes {
		return nil, c.simFailErr
	}
	return c.simResult, c.simErr
}

func (c *fakeChain) Submit(ctx context.Context, payload *chainsvc.Payload) (common.Hash, error) {
	return c.txHash, c.submitErr
}

func (c *fakeChain) Receipt(ctx context.Context, txHash common.Hash) (*chainsvc.Receipt, error) {
	return c.receipt, c.receiptErr
}

func (c *fakeChain) ValidateHard(ctx context.Context, validatorAddr common.Address, tokenID *big.Int, vault, target common.Address, data []byte, value *big.Int, actionTokens []common.Address) (*chainsvc.ValidateResult, error) {
	return &chainsvc.ValidateResult{OK: true}, nil
}

// swapStub is a minimal write Action standing in for the real swap
// capability without importing internal/capabilities (which itself imports
// this package).
type swapStub struct{}

func (swapStub) Name() string   { return "swap" }
func (swapStub) Readonly() bool { return false }
func (swapStub) ParametersSchema() []ParamField {
	return []ParamField{
		{Name: "tokenIn", Type: ParamAddress, Required: true},
		{Name: "tokenOut", Type: ParamAddress, Required: true},
		{Name: "amountIn", Type: ParamNumber, Required: true},
		{Name: "minOut", Type: ParamNumber, Required: true},
	}
}

func (swapStub) Execute(ctx context.Context, params map[string]any, rc *models.RuntimeContext) (*models.ExecutionResult, error) {
	return nil, assertNever("swap is a write action")
}

func (swapStub) Encode(params map[string]any, rc *models.RuntimeContext) (common.Address, []byte, *big.Int, error) {
	return common.HexToAddress("0x5555555555555555555555555555555555555555"), []byte{0x01}, big.NewInt(0), nil
}

func assertNever(msg string) error { return &stubError{msg} }

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }

func newTestAgent(tokenID *big.Int) *Agent {
	return &Agent{
		TokenID:   tokenID,
		ChainID:   1,
		AgentType: "hotpump_watchlist",
		Vault:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Actions:   []Action{swapStub{}},
	}
}

func baseObservation() *models.Observation {
	return &models.Observation{
		NativeBalance: big.NewInt(1_000_000),
		GasPrice:      big.NewInt(1),
		BlockNumber:   100,
		Paused:        false,
	}
}

func TestCycle_HitPath_SwapSimulatesAndSubmits(t *testing.T) {
	st := &fakeCycleStore{strategy: &models.StrategyConfig{Enabled: true, ChainID: 1}}
	chain := &fakeChain{
		simResult: &chainsvc.SimulateResult{OK: true, GasEstimate: 21000},
		txHash:    common.HexToHash("0xabc"),
		receipt:   &chainsvc.Receipt{Status: 1, GasUsed: 21000},
	}
	c := NewCycle(st, chain, CycleConfig{MemoryRecallLimit: 10, MaxRunRecords: 100})
	agent := newTestAgent(big.NewInt(1))
	agent.Perception = &fakePerception{obs: baseObservation()}
	agent.Memory = &fakeMemory{}
	agent.Guardrails = &fakeGuardrails{verdict: &GuardVerdict{OK: true}}
	agent.Brain = &fakeBrain{decision: &models.Decision{
		Action: "swap",
		Params: map[string]any{
			"tokenIn":  "0x3333333333333333333333333333333333333333",
			"tokenOut": "0x4444444444444444444444444444444444444444",
			"amountIn": "1000000000000000000",
			"minOut":   "900000000000000000",
		},
		Confidence: 1,
	}}

	run, err := c.Run(context.Background(), agent, &models.RuntimeContext{Vault: agent.Vault})
	require.NoError(t, err)
	assert.Equal(t, "write", run.IntentType)
	assert.True(t, run.SimulateOk)
	require.NotNil(t, run.TxHash)
	assert.Equal(t, chain.txHash, *run.TxHash)
	assert.Empty(t, run.Error)
}

func TestCycle_MissPath_WaitProducesNoAction(t *testing.T) {
	st := &fakeCycleStore{strategy: &models.StrategyConfig{Enabled: true, ChainID: 1}}
	chain := &fakeChain{}
	c := NewCycle(st, chain, CycleConfig{MemoryRecallLimit: 10, MaxRunRecords: 100})
	agent := newTestAgent(big.NewInt(2))
	agent.Perception = &fakePerception{obs: baseObservation()}
	agent.Memory = &fakeMemory{}
	agent.Guardrails = &fakeGuardrails{verdict: &GuardVerdict{OK: true}}
	agent.Brain = &fakeBrain{decision: &models.Decision{Action: "wait", Confidence: 1}}

	run, err := c.Run(context.Background(), agent, &models.RuntimeContext{Vault: agent.Vault})
	require.NoError(t, err)
	assert.Equal(t, "wait", run.IntentType)
	assert.Nil(t, run.TxHash)
	assert.False(t, run.SimulateOk)
}

func TestCycle_SoftPolicyBlock_RecordsViolationAndErrorCode(t *testing.T) {
	st := &fakeCycleStore{strategy: &models.StrategyConfig{Enabled: true, ChainID: 1}}
	chain := &fakeChain{}
	c := NewCycle(st, chain, CycleConfig{MemoryRecallLimit: 10, MaxRunRecords: 100})
	agent := newTestAgent(big.NewInt(3))
	agent.Perception = &fakePerception{obs: baseObservation()}
	agent.Memory = &fakeMemory{}
	violation := failure.SoftMaxTradeAmount
	agent.Guardrails = &fakeGuardrails{verdict: &GuardVerdict{OK: false, Reason: "trade exceeds max trade amount", Violation: &violation}}
	agent.Brain = &fakeBrain{decision: &models.Decision{
		Action: "swap",
		Params: map[string]any{
			"tokenIn":  "0x3333333333333333333333333333333333333333",
			"tokenOut": "0x4444444444444444444444444444444444444444",
			"amountIn": "10000000000000000",
			"minOut":   "9000000000000000",
		},
		Confidence: 1,
	}}

	run, err := c.Run(context.Background(), agent, &models.RuntimeContext{Vault: agent.Vault})
	require.NoError(t, err)
	require.NotNil(t, run.ViolationCode)
	assert.Equal(t, failure.SoftMaxTradeAmount, *run.ViolationCode)
	require.NotNil(t, run.ErrorCode)
	assert.Equal(t, failure.CodePolicyMaxTradeAmount, *run.ErrorCode)
	assert.False(t, run.SimulateOk)
}

func TestCycle_UnknownAction_BlockedWithModelOutputError(t *testing.T) {
	st := &fakeCycleStore{strategy: &models.StrategyConfig{Enabled: true, ChainID: 1}}
	chain := &fakeChain{}
	c := NewCycle(st, chain, CycleConfig{MemoryRecallLimit: 10, MaxRunRecords: 100})
	agent := newTestAgent(big.NewInt(4))
	agent.Perception = &fakePerception{obs: baseObservation()}
	agent.Memory = &fakeMemory{}
	agent.Guardrails = &fakeGuardrails{verdict: &GuardVerdict{OK: true}}
	agent.Brain = &fakeBrain{decision: &models.Decision{Action: "magicSwap", Confidence: 1}}

	run, err := c.Run(context.Background(), agent, &models.RuntimeContext{Vault: agent.Vault})
	require.NoError(t, err)
	require.NotNil(t, run.FailureCategory)
	assert.Equal(t, failure.ModelOutputError, *run.FailureCategory)
	require.NotNil(t, run.ErrorCode)
	assert.Equal(t, failure.CodeUnknownAction, *run.ErrorCode)
}

func TestCycle_ShadowDivergence_PrimaryBlockedLegacyWrite(t *testing.T) {
	st := &fakeCycleStore{strategy: &models.StrategyConfig{Enabled: true, ChainID: 1}}
	chain := &fakeChain{}
	c := NewCycle(st, chain, CycleConfig{MemoryRecallLimit: 10, MaxRunRecords: 100, ShadowEnabled: true})
	agent := newTestAgent(big.NewInt(5))
	agent.Perception = &fakePerception{obs: baseObservation()}
	agent.Memory = &fakeMemory{}
	agent.Guardrails = &fakeGuardrails{verdict: &GuardVerdict{OK: true}}
	// missing required "minOut" -> primary planner blocks on schema
	// validation; the legacy planner skips schema validation entirely, so
	// it plans the same decision as a write.
	agent.Brain = &fakeBrain{decision: &models.Decision{
		Action: "swap",
		Params: map[string]any{
			"tokenIn":  "0x3333333333333333333333333333333333333333",
			"tokenOut": "0x4444444444444444444444444444444444444444",
			"amountIn": "1000000000000000000",
		},
		Confidence: 1,
	}}

	run, err := c.Run(context.Background(), agent, &models.RuntimeContext{Vault: agent.Vault})
	require.NoError(t, err)
	require.NotNil(t, run.ShadowCompare)
	assert.True(t, run.ShadowCompare.Diverged)
	assert.Equal(t, models.PlanBlocked, run.ShadowCompare.PrimaryKind)
	assert.Equal(t, models.PlanWrite, run.ShadowCompare.LegacyKind)
	// only the primary (blocked) plan is ever persisted/executed
	assert.Nil(t, run.TxHash)
	assert.False(t, run.SimulateOk)
}

func TestCycle_PausedAgent_SkipsCycleAsBusinessBlock(t *testing.T) {
	st := &fakeCycleStore{strategy: &models.StrategyConfig{Enabled: true, ChainID: 1}}
	chain := &fakeChain{}
	c := NewCycle(st, chain, CycleConfig{MemoryRecallLimit: 10, MaxRunRecords: 100})
	agent := newTestAgent(big.NewInt(6))
	agent.Perception = &fakePerception{obs: &models.Observation{Paused: true}}
	agent.Memory = &fakeMemory{}
	agent.Guardrails = &fakeGuardrails{verdict: &GuardVerdict{OK: true}}
	agent.Brain = &fakeBrain{}

	run, err := c.Run(context.Background(), agent, &models.RuntimeContext{Vault: agent.Vault})
	require.NoError(t, err)
	assert.Equal(t, "agent paused on-chain", run.Error)
	assert.Equal(t, "wait", run.IntentType)
}

// TestCycle_SimulateRetriesThenSucceeds covers §8 scenario 5: an RPC 429
// twice then OK must resolve within one cycle, via withRetry, as a single
// successful RunRecord rather than a failed record per attempt.
func TestCycle_SimulateRetriesThenSucceeds(t *testing.T) {
	st := &fakeCycleStore{strategy: &models.StrategyConfig{Enabled: true, ChainID: 1}}
	chain := &fakeChain{
		simFailTimes: 2,
		simFailErr:   &stubError{"429 too many requests"},
		simResult:    &chainsvc.SimulateResult{OK: true, GasEstimate: 21000},
		txHash:       common.HexToHash("0xdef"),
		receipt:      &chainsvc.Receipt{Status: 1, GasUsed: 21000},
	}
	c := NewCycle(st, chain, CycleConfig{MemoryRecallLimit: 10, MaxRunRecords: 100, RetryMaxAttempts: 3})
	agent := newTestAgent(big.NewInt(7))
	agent.Perception = &fakePerception{obs: baseObservation()}
	agent.Memory = &fakeMemory{}
	agent.Guardrails = &fakeGuardrails{verdict: &GuardVerdict{OK: true}}
	agent.Brain = &fakeBrain{decision: &models.Decision{
		Action: "swap",
		Params: map[string]any{
			"tokenIn":  "0x3333333333333333333333333333333333333333",
			"tokenOut": "0x4444444444444444444444444444444444444444",
			"amountIn": "1000000000000000000",
			"minOut":   "900000000000000000",
		},
		Confidence: 1,
	}}

	run, err := c.Run(context.Background(), agent, &models.RuntimeContext{Vault: agent.Vault})
	require.NoError(t, err)
	assert.Equal(t, 3, chain.simCalls, "two failures plus the succeeding attempt")
	assert.True(t, run.SimulateOk)
	assert.Empty(t, run.Error)
	require.Len(t, st.runs, 1, "exactly one RunRecord for the whole cycle, not one per retry attempt")
	assert.True(t, st.runs[0].SimulateOk)
}
