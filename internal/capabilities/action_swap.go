package capabilities

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// swapABIJSON describes the router's swapExactTokensForTokens-shaped entry
// point: swap(tokenIn, tokenOut, amountIn, minOut, to).
const swapABIJSON = `[{
	"name": "swap",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "tokenIn", "type": "address"},
		{"name": "tokenOut", "type": "address"},
		{"name": "amountIn", "type": "uint256"},
		{"name": "minOut", "type": "uint256"},
		{"name": "to", "type": "address"}
	],
	"outputs": []
}]`

var swapABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(swapABIJSON))
	if err != nil {
		panic(fmt.Sprintf("capabilities: invalid swap ABI: %v", err))
	}
	swapABI = parsed
}

// SwapAction is the write capability the rule-based and LLM brains both
// target for the "hotpump_watchlist" scenario: a single-hop DEX swap routed
// through the agent's configured router/target address.
type SwapAction struct {
	router common.Address
}

func NewSwapAction(router common.Address) *SwapAction {
	return &SwapAction{router: router}
}

func (a *SwapAction) Name() string     { return "swap" }
func (a *SwapAction) Readonly() bool   { return false }

func (a *SwapAction) ParametersSchema() []runner.ParamField {
	return []runner.ParamField{
		{Name: "tokenIn", Type: runner.ParamAddress, Required: true},
		{Name: "tokenOut", Type: runner.ParamAddress, Required: true},
		{Name: "amountIn", Type: runner.ParamNumber, Required: true},
		{Name: "minOut", Type: runner.ParamNumber, Required: true},
	}
}

// Execute is a no-op for write actions: the cognitive cycle drives the
// on-chain side through Encode + Chain.Simulate/Submit, never this method.
func (a *SwapAction) Execute(ctx context.Context, params map[string]any, rc *models.RuntimeContext) (*models.ExecutionResult, error) {
	return nil, fmt.Errorf("swap: write action, execute via chain simulate/submit, not Execute")
}

func (a *SwapAction) Encode(params map[string]any, rc *models.RuntimeContext) (common.Address, []byte, *big.Int, error) {
	tokenIn, err := addressParam(params, "tokenIn")
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	tokenOut, err := addressParam(params, "tokenOut")
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	amountIn, err := bigParamStrict(params, "amountIn")
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	minOut, err := bigParamStrict(params, "minOut")
	if err != nil {
		return common.Address{}, nil, nil, err
	}

	to := rc.Vault
	data, err := swapABI.Pack("swap", tokenIn, tokenOut, amountIn, minOut, to)
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("swap: pack calldata: %w", err)
	}
	return a.router, data, big.NewInt(0), nil
}

func addressParam(params map[string]any, key string) (common.Address, error) {
	s, ok := params[key].(string)
	if !ok || s == "" {
		return common.Address{}, fmt.Errorf("swap: missing address param %q", key)
	}
	return common.HexToAddress(s), nil
}

func bigParamStrict(params map[string]any, key string) (*big.Int, error) {
	switch v := params[key].(type) {
	case string:
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("swap: param %q is not a base-10 integer", key)
		}
		return n, nil
	case float64:
		return big.NewInt(int64(v)), nil
	default:
		return nil, fmt.Errorf("swap: missing numeric param %q", key)
	}
}
