package capabilities

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// CheckBalanceAction is a readonly capability letting a brain confirm vault
// state before proposing a write action, without going through the
// simulate/submit path.
type CheckBalanceAction struct{}

func NewCheckBalanceAction() *CheckBalanceAction { return &CheckBalanceAction{} }

func (a *CheckBalanceAction) Name() string   { return "checkBalance" }
func (a *CheckBalanceAction) Readonly() bool { return true }

func (a *CheckBalanceAction) ParametersSchema() []runner.ParamField {
	return []runner.ParamField{
		{Name: "token", Type: runner.ParamAddress, Required: false},
	}
}

// Execute reports success unconditionally; the balance itself is already
// part of the Observation the brain saw before proposing this action, so
// there is nothing further to surface here beyond confirming the read.
func (a *CheckBalanceAction) Execute(ctx context.Context, params map[string]any, rc *models.RuntimeContext) (*models.ExecutionResult, error) {
	return &models.ExecutionResult{Success: true}, nil
}

func (a *CheckBalanceAction) Encode(params map[string]any, rc *models.RuntimeContext) (common.Address, []byte, *big.Int, error) {
	return common.Address{}, nil, nil, nil
}
