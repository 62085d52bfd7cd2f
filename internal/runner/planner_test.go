package runner

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// stubAction is a minimal Action used to exercise the planner in isolation.
type stubAction struct {
	name     string
	readonly bool
	schema   []ParamField
}

func (s stubAction) Name() string                  { return s.name }
func (s stubAction) Readonly() bool                 { return s.readonly }
func (s stubAction) ParametersSchema() []ParamField { return s.schema }
func (s stubAction) Execute(ctx context.Context, params map[string]any, rc *models.RuntimeContext) (*models.ExecutionResult, error) {
	return &models.ExecutionResult{Success: true}, nil
}
func (s stubAction) Encode(params map[string]any, rc *models.RuntimeContext) (common.Address, []byte, *big.Int, error) {
	return common.Address{}, nil, big.NewInt(0), nil
}

func swapAction() stubAction {
	return stubAction{
		name: "swap",
		schema: []ParamField{
			{Name: "tokenOut", Type: ParamAddress, Required: true},
			{Name: "amountIn", Type: ParamNumber, Required: true},
		},
	}
}

func TestPlanner_UnknownAction(t *testing.T) {
	p := NewPlanner()
	decision := &models.Decision{Action: "magicSwap", Reasoning: "do something"}

	plan := p.BuildExecutionPlan(decision, []Action{swapAction()})

	assert.Equal(t, models.PlanBlocked, plan.Kind)
	require.NotNil(t, plan.ErrorCode)
	assert.Equal(t, failure.CodeUnknownAction, *plan.ErrorCode)
	require.NotNil(t, plan.FailureCategory)
	assert.Equal(t, failure.ModelOutputError, *plan.FailureCategory)
}

func TestPlanner_Wait_OnDoneOrEmptyAction(t *testing.T) {
	p := NewPlanner()

	plan := p.BuildExecutionPlan(&models.Decision{Done: true}, nil)
	assert.Equal(t, models.PlanWait, plan.Kind)

	plan = p.BuildExecutionPlan(&models.Decision{Action: ""}, nil)
	assert.Equal(t, models.PlanWait, plan.Kind)
}

func TestPlanner_Blocked_PropagatesReason(t *testing.T) {
	p := NewPlanner()
	reason := "agent paused on-chain"
	decision := &models.Decision{Blocked: true, BlockReason: &reason}

	plan := p.BuildExecutionPlan(decision, nil)

	assert.Equal(t, models.PlanBlocked, plan.Kind)
	require.NotNil(t, plan.ErrorCode)
	assert.Equal(t, failure.CodeAgentPaused, *plan.ErrorCode)
	require.NotNil(t, plan.FailureCategory)
	assert.Equal(t, failure.BusinessRejected, *plan.FailureCategory)
}

func TestPlanner_SchemaValidation_MissingRequiredParam(t *testing.T) {
	p := NewPlanner()
	decision := &models.Decision{
		Action: "swap",
		Params: map[string]any{"tokenOut": "0xabc"},
	}

	plan := p.BuildExecutionPlan(decision, []Action{swapAction()})

	assert.Equal(t, models.PlanBlocked, plan.Kind)
	require.NotNil(t, plan.ErrorCode)
	assert.Equal(t, failure.CodeSchemaValidationFailed, *plan.ErrorCode)
}

func TestPlanner_SchemaValidation_ExemptsRuntimeInternalKeys(t *testing.T) {
	p := NewPlanner()
	decision := &models.Decision{
		Action: "swap",
		Params: map[string]any{
			"tokenOut":     "0xabc",
			"amountIn":     "1000000000000000000",
			"__vaultAddr":  "0xdeadbeef",
		},
	}

	plan := p.BuildExecutionPlan(decision, []Action{swapAction()})

	assert.Equal(t, models.PlanWrite, plan.Kind)
}

func TestPlanner_ReadonlyAction(t *testing.T) {
	p := NewPlanner()
	action := stubAction{name: "checkBalance", readonly: true}
	decision := &models.Decision{Action: "checkBalance"}

	plan := p.BuildExecutionPlan(decision, []Action{action})

	assert.Equal(t, models.PlanReadonly, plan.Kind)
}

func TestPlanner_Determinism(t *testing.T) {
	p := NewPlanner()
	decision := &models.Decision{
		Action: "swap",
		Params: map[string]any{"tokenOut": "0xabc", "amountIn": "100"},
	}
	actions := []Action{swapAction()}

	first := p.BuildExecutionPlan(decision, actions)
	second := p.BuildExecutionPlan(decision, actions)

	assert.Equal(t, first, second)
}

func TestLegacyPlanner_SkipsSchemaValidation(t *testing.T) {
	legacy := NewLegacyPlanner()
	decision := &models.Decision{
		Action: "swap",
		Params: map[string]any{"tokenOut": "0xabc"}, // missing required amountIn
	}

	plan := legacy.BuildExecutionPlan(decision, []Action{swapAction()})

	// The legacy planner never validated params, so this is a write plan
	// where the canonical planner would have blocked it — exactly the
	// shape of divergence the shadow runner is built to detect.
	assert.Equal(t, models.PlanWrite, plan.Kind)
}
