package capabilities

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/pkg/models"
)

func TestSwapAction_EncodeProducesCallableCalldata(t *testing.T) {
	router := common.HexToAddress("0x1111111111111111111111111111111111111111")
	a := NewSwapAction(router)
	vault := common.HexToAddress("0x2222222222222222222222222222222222222222")

	params := map[string]any{
		"tokenIn":  "0x3333333333333333333333333333333333333333",
		"tokenOut": "0x4444444444444444444444444444444444444444",
		"amountIn": "1000000000000000000",
		"minOut":   "900000000000000000",
	}
	to, data, value, err := a.Encode(params, &models.RuntimeContext{Vault: vault})
	require.NoError(t, err)
	assert.Equal(t, router, to)
	assert.NotEmpty(t, data)
	assert.Equal(t, big.NewInt(0), value)

	// selector + 5 ABI-encoded words (tokenIn, tokenOut, amountIn, minOut, to)
	assert.Equal(t, 4+5*32, len(data))
}

func TestSwapAction_EncodeRejectsMissingAmount(t *testing.T) {
	a := NewSwapAction(common.Address{})
	params := map[string]any{
		"tokenIn":  "0x3333333333333333333333333333333333333333",
		"tokenOut": "0x4444444444444444444444444444444444444444",
	}
	_, _, _, err := a.Encode(params, &models.RuntimeContext{})
	assert.Error(t, err)
}

func TestSwapAction_EncodeRejectsNonBase10Amount(t *testing.T) {
	a := NewSwapAction(common.Address{})
	params := map[string]any{
		"tokenIn":  "0x3333333333333333333333333333333333333333",
		"tokenOut": "0x4444444444444444444444444444444444444444",
		"amountIn": "not-a-number",
		"minOut":   "1",
	}
	_, _, _, err := a.Encode(params, &models.RuntimeContext{})
	assert.Error(t, err)
}

func TestSwapAction_ExecuteAlwaysErrors(t *testing.T) {
	a := NewSwapAction(common.Address{})
	_, err := a.Execute(nil, nil, &models.RuntimeContext{})
	assert.Error(t, err, "write actions must be driven through Encode + Chain.Simulate/Submit, never Execute")
}

func TestSwapAction_NameAndSchema(t *testing.T) {
	a := NewSwapAction(common.Address{})
	assert.Equal(t, "swap", a.Name())
	assert.False(t, a.Readonly())
	assert.Len(t, a.ParametersSchema(), 4)
}
