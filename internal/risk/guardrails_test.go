package risk

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// fakeStore implements only the store.Store methods the soft-policy layer
// calls; embedding the nil interface makes the rest panic if ever reached,
// which would signal a test writing to the wrong seam.
type fakeStore struct {
	store.Store
	safetyConfig *models.SafetyConfig
	memories     []*models.MemoryEntry
}

func (f *fakeStore) GetSafetyConfig(ctx context.Context, chainID int64, tokenID *big.Int) (*models.SafetyConfig, error) {
	return f.safetyConfig, nil
}

func (f *fakeStore) RecallMemory(ctx context.Context, chainID int64, tokenID *big.Int, limit int) ([]*models.MemoryEntry, error) {
	return f.memories, nil
}

type fakeChain struct {
	chainsvc.Chain
	validateOK     bool
	validateReason string
	validateErr    error
}

func (f *fakeChain) ValidateHard(ctx context.Context, validatorAddr common.Address, tokenID *big.Int, vault, target common.Address, data []byte, value *big.Int, actionTokens []common.Address) (*chainsvc.ValidateResult, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &chainsvc.ValidateResult{OK: f.validateOK, Reason: f.validateReason}, nil
}

func TestGuardrails_SoftViolationShortCircuitsHardLayer(t *testing.T) {
	fs := &fakeStore{
		safetyConfig: &models.SafetyConfig{
			TokenID:        big.NewInt(1),
			MaxTradeAmount: big.NewInt(100),
		},
	}
	fc := &fakeChain{validateOK: false, validateReason: "would never be reached"}

	g := NewGuardrails(fs, fc, "0x1111111111111111111111111111111111111111")

	ec := &models.ExecutionContext{
		TokenID:     big.NewInt(1),
		ActionName:  "swap",
		SpendAmount: big.NewInt(500),
		Timestamp:   time.Now(),
	}

	verdict, err := g.Check(context.Background(), 1, ec)
	require.NoError(t, err)
	assert.False(t, verdict.OK)
	require.NotNil(t, verdict.Violation)
	assert.Equal(t, failure.SoftMaxTradeAmount, *verdict.Violation)
}

func TestGuardrails_PassesToHardLayerWhenSoftPasses(t *testing.T) {
	fs := &fakeStore{safetyConfig: nil}
	fc := &fakeChain{validateOK: false, validateReason: "simulated revert"}

	g := NewGuardrails(fs, fc, "0x1111111111111111111111111111111111111111")

	ec := &models.ExecutionContext{
		TokenID:    big.NewInt(1),
		ActionName: "swap",
		Timestamp:  time.Now(),
	}

	verdict, err := g.Check(context.Background(), 1, ec)
	require.NoError(t, err)
	assert.False(t, verdict.OK)
	require.NotNil(t, verdict.Violation)
	assert.Equal(t, failure.HardPolicyRejected, *verdict.Violation)
}

func TestGuardrails_ZeroAddressValidatorIsNoop(t *testing.T) {
	fs := &fakeStore{safetyConfig: nil}
	fc := &fakeChain{validateOK: false} // would reject, but should never be called

	g := NewGuardrails(fs, fc, "0x0000000000000000000000000000000000000000")

	ec := &models.ExecutionContext{TokenID: big.NewInt(1), ActionName: "swap", Timestamp: time.Now()}
	verdict, err := g.Check(context.Background(), 1, ec)
	require.NoError(t, err)
	assert.True(t, verdict.OK)
}

func TestSoftPolicy_AllowedTokensSkipsAddressZero(t *testing.T) {
	fs := &fakeStore{
		safetyConfig: &models.SafetyConfig{
			TokenID:       big.NewInt(1),
			AllowedTokens: []common.Address{common.HexToAddress("0xabc0000000000000000000000000000000000a")},
		},
	}
	sp := NewSoftPolicy(fs)

	ec := &models.ExecutionContext{
		TokenID:      big.NewInt(1),
		ActionTokens: []common.Address{{}},
		Timestamp:    time.Now(),
	}

	verdict, err := sp.Check(context.Background(), 1, ec)
	require.NoError(t, err)
	assert.True(t, verdict.OK, "address-zero action tokens must be exempt from the allow-list check")
}
