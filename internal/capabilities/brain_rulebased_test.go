package capabilities

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// stubSwapAction is a minimal runner.Action double that only needs to
// report its name; the rule-based brain never calls Execute/Encode.
type stubSwapAction struct{}

func (stubSwapAction) Name() string                     { return "swap" }
func (stubSwapAction) Readonly() bool                   { return false }
func (stubSwapAction) ParametersSchema() []runner.ParamField { return nil }
func (stubSwapAction) Execute(ctx context.Context, params map[string]any, rc *models.RuntimeContext) (*models.ExecutionResult, error) {
	return nil, nil
}
func (stubSwapAction) Encode(params map[string]any, rc *models.RuntimeContext) (common.Address, []byte, *big.Int, error) {
	return common.Address{}, nil, nil, nil
}

// fakeSignalStore implements only the store.Store method the rule-based
// brain calls.
type fakeSignalStore struct {
	store.Store
	signal *models.MarketSignal
}

func (f *fakeSignalStore) GetMarketSignal(ctx context.Context, chainID int64, pair string) (*models.MarketSignal, error) {
	return f.signal, nil
}

func hotpumpParams() map[string]any {
	return map[string]any{
		"pair":             "WETH/USDC",
		"pumpThresholdBps": 10000,
		"uniqueTradersMin": 200,
		"minVolume5m":      "1000000000000000000",
		"tokenIn":          "0x0000000000000000000000000000000000000001",
		"tokenOut":         "0x0000000000000000000000000000000000000002",
		"tradeAmount":      "500000000000000000",
	}
}

func TestRuleBasedBrain_HitPath(t *testing.T) {
	fs := &fakeSignalStore{signal: &models.MarketSignal{
		ChainID:         1,
		Pair:            "WETH/USDC",
		PriceChangeBps:  10200,
		UniqueTraders5m: 220,
		Volume5m:        big.NewInt(1_000000000000000000),
	}}
	brain := NewRuleBasedBrain(fs, 1, hotpumpParams())

	decision, err := brain.Think(context.Background(), &models.Observation{}, nil, []runner.Action{stubSwapAction{}})
	require.NoError(t, err)
	assert.Equal(t, "swap", decision.Action)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", decision.Params["tokenIn"])
	assert.Equal(t, "0x0000000000000000000000000000000000000002", decision.Params["tokenOut"])
}

func TestRuleBasedBrain_MissPath(t *testing.T) {
	fs := &fakeSignalStore{signal: &models.MarketSignal{
		ChainID:         1,
		Pair:            "WETH/USDC",
		PriceChangeBps:  9999,
		UniqueTraders5m: 199,
		Volume5m:        big.NewInt(1_000000000000000000),
	}}
	brain := NewRuleBasedBrain(fs, 1, hotpumpParams())

	decision, err := brain.Think(context.Background(), &models.Observation{}, nil, []runner.Action{stubSwapAction{}})
	require.NoError(t, err)
	assert.Equal(t, "wait", decision.Action)
}

func TestRuleBasedBrain_NoSignalYet(t *testing.T) {
	fs := &fakeSignalStore{signal: nil}
	brain := NewRuleBasedBrain(fs, 1, hotpumpParams())

	decision, err := brain.Think(context.Background(), &models.Observation{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "wait", decision.Action)
}
