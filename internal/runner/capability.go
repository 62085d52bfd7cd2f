// Package runner assembles and drives the agent fleet: the capability
// registries and factory (§4.8), the planner (§4.3), the cognitive cycle
// (§4.2), the shadow runner (§4.7), and the scheduler (§4.1) all live here.
package runner

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// ParamType is the declared type of one Action parameter field.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBool    ParamType = "bool"
	ParamAddress ParamType = "address"
)

// ParamField describes one named, typed field of an Action's parameter schema.
type ParamField struct {
	Name     string
	Type     ParamType
	Enum     []string
	Required bool
}

// Brain proposes a Decision given the current observation, recalled
// memories, and the actions available to this agent (§9: capability trait).
type Brain interface {
	Think(ctx context.Context, obs *models.Observation, memories []*models.MemoryEntry, actions []Action) (*models.Decision, error)
}

// Perception produces the immutable per-cycle Observation.
type Perception interface {
	Observe(ctx context.Context, rc *models.RuntimeContext) (*models.Observation, error)
}

// Action is one callable capability an agent's brain may invoke. Param keys
// starting with "__" are runtime-internal and exempt from schema validation
// (§9's RuntimeContext redesign).
type Action interface {
	Name() string
	Readonly() bool
	ParametersSchema() []ParamField
	Execute(ctx context.Context, params map[string]any, rc *models.RuntimeContext) (*models.ExecutionResult, error)
	// Encode produces the on-chain call target, calldata, and value for a
	// write action. Readonly actions may return a zero common.Address,
	// nil data, and nil value.
	Encode(params map[string]any, rc *models.RuntimeContext) (to common.Address, data []byte, value *big.Int, err error)
}

// Memory is the per-agent append-only history capability.
type Memory interface {
	Recall(ctx context.Context, limit int) ([]*models.MemoryEntry, error)
	Append(ctx context.Context, entry *models.MemoryEntry) error
}

// Guardrails is the two-layer policy check capability (§4.4), implemented
// concretely by internal/risk.Guardrails.
type Guardrails interface {
	Check(ctx context.Context, chainID int64, ec *models.ExecutionContext) (*GuardVerdict, error)
}

// GuardVerdict mirrors risk.Verdict without this package depending on the
// concrete guardrail implementation package.
type GuardVerdict struct {
	Violation *failure.ViolationCode
	Reason    string
	OK        bool
}
