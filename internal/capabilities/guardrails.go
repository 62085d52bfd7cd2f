package capabilities

import (
	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/internal/risk"
	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/internal/store"
)

// NewStandardGuardrails builds the two-layer soft-then-hard guardrail
// pipeline (§4.4) as a runner.Guardrails capability. hardValidator is the
// zero address when no on-chain hard-policy validator is configured, in
// which case the hard layer is skipped.
func NewStandardGuardrails(st store.Store, chain chainsvc.Chain, hardValidator string) runner.Guardrails {
	return runner.NewRiskGuardrails(risk.NewGuardrails(st, chain, hardValidator))
}
