package runner

import (
	"context"

	"github.com/nfa-labs/agentrunner/pkg/models"
)

// BlueprintSource resolves an agentType to its assembly Blueprint. The
// concrete implementation reads from internal/store; tests supply a stub.
type BlueprintSource interface {
	GetBlueprint(ctx context.Context, agentType string) (*models.Blueprint, error)
}

// builtinBlueprints is the fallback table consulted when the persisted
// store has no row for an agentType yet — every agentType the fleet can
// see on-chain must resolve to something buildable, even brand new.
var builtinBlueprints = map[string]models.Blueprint{
	"dca": {
		AgentType:  "dca",
		Brain:      "rule-based",
		Perception: "onchain",
		Actions:    []string{"swap", "checkBalance"},
		Guardrails: "standard",
		Memory:     "postgres",
	},
	"rebalancer": {
		AgentType:  "rebalancer",
		Brain:      "rule-based",
		Perception: "onchain",
		Actions:    []string{"swap", "checkBalance"},
		Guardrails: "standard",
		Memory:     "postgres",
	},
	"hotpump_watchlist": {
		AgentType:  "hotpump_watchlist",
		Brain:      "rule-based",
		Perception: "onchain",
		Actions:    []string{"swap", "checkBalance"},
		Guardrails: "standard",
		Memory:     "postgres",
	},
	"llm-trader": {
		AgentType:  "llm-trader",
		Brain:      "llm",
		Perception: "onchain",
		Actions:    []string{"swap", "checkBalance"},
		Guardrails: "standard",
		Memory:     "postgres",
		LLMConfig:  &models.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.2},
	},
}

// resolveBlueprint is store-first-then-builtin-fallback (no cache): a persisted row
// always wins over the builtin table, so an operator can override any
// agentType's assembly without a code change.
func resolveBlueprint(ctx context.Context, src BlueprintSource, agentType string) (*models.Blueprint, error) {
	if src != nil {
		if bp, err := src.GetBlueprint(ctx, agentType); err == nil && bp != nil {
			return bp, nil
		}
	}
	if bp, ok := builtinBlueprints[agentType]; ok {
		return &bp, nil
	}
	return nil, ErrNoBlueprint{AgentType: agentType}
}

// ErrNoBlueprint reports an agentType with neither a persisted nor a
// builtin blueprint.
type ErrNoBlueprint struct {
	AgentType string
}

func (e ErrNoBlueprint) Error() string {
	return "runner: no blueprint for agentType " + e.AgentType
}
