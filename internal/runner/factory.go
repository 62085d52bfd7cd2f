package runner

import (
	"context"
	"fmt"

	"github.com/nfa-labs/agentrunner/pkg/models"
)

// AgentFactory builds a runnable Agent from on-chain agent data, resolving
// its Blueprint and wiring each capability from the Registry (§4.8). Errors
// from any one agent's build never stop the fleet — the scheduler logs and
// skips that tokenId for the cycle.
type AgentFactory struct {
	registry  *Registry
	blueprint BlueprintSource
}

func NewAgentFactory(registry *Registry, blueprint BlueprintSource) *AgentFactory {
	return &AgentFactory{registry: registry, blueprint: blueprint}
}

func (f *AgentFactory) Build(ctx context.Context, data models.ChainAgentData) (*Agent, error) {
	bp, err := resolveBlueprint(ctx, f.blueprint, data.AgentType)
	if err != nil {
		return nil, err
	}

	brain, err := f.registry.Brain(bp.Brain, BrainFactoryContext{
		StrategyParams: data.StrategyParams,
		LLMConfig:      bp.LLMConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("building brain for tokenId %s: %w", data.TokenID, err)
	}

	perception, err := f.registry.Perception(bp.Perception, data)
	if err != nil {
		return nil, fmt.Errorf("building perception for tokenId %s: %w", data.TokenID, err)
	}

	actions := make([]Action, 0, len(bp.Actions))
	for _, name := range bp.Actions {
		act, err := f.registry.Action(name, data)
		if err != nil {
			return nil, fmt.Errorf("building action %q for tokenId %s: %w", name, data.TokenID, err)
		}
		actions = append(actions, act)
	}

	memory, err := f.registry.Memory(bp.Memory, data)
	if err != nil {
		return nil, fmt.Errorf("building memory for tokenId %s: %w", data.TokenID, err)
	}

	guard, err := f.registry.GuardrailsOf(bp.Guardrails, data)
	if err != nil {
		return nil, fmt.Errorf("building guardrails for tokenId %s: %w", data.TokenID, err)
	}

	return &Agent{
		Brain:      brain,
		Perception: perception,
		Actions:    actions,
		Memory:     memory,
		Guardrails: guard,
		TokenID:    data.TokenID,
		ChainID:    data.ChainID,
		AgentType:  data.AgentType,
		Vault:      data.Vault,
		Owner:      data.Owner,
		Renter:     data.Renter,
	}, nil
}
