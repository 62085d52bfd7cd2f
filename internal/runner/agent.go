package runner

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Agent is one assembled, runnable instance of a tokenId's on-chain agent:
// its capability set, wired by the factory from a Blueprint, plus the
// identity fields the scheduler and cognitive cycle key off of.
type Agent struct {
	Brain       Brain
	Perception  Perception
	Actions     []Action
	Memory      Memory
	Guardrails  Guardrails
	TokenID     *big.Int
	ChainID     int64
	AgentType   string
	Vault       common.Address
	Owner       common.Address
	Renter      common.Address
}

// ActionNames returns the names of this agent's available actions, in
// registration order, for schema/lookup purposes in the planner.
func (a *Agent) ActionNames() []string {
	names := make([]string, len(a.Actions))
	for i, act := range a.Actions {
		names[i] = act.Name()
	}
	return names
}
