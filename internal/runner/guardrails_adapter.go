package runner

import (
	"context"

	"github.com/nfa-labs/agentrunner/internal/risk"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// riskGuardrails adapts the concrete two-layer risk.Guardrails pipeline to
// this package's Guardrails capability trait, so the cognitive cycle only
// ever depends on the trait, never the concrete implementation.
type riskGuardrails struct {
	inner *risk.Guardrails
}

// NewRiskGuardrails wraps a concrete guardrail pipeline as a Guardrails capability.
func NewRiskGuardrails(inner *risk.Guardrails) Guardrails {
	return &riskGuardrails{inner: inner}
}

func (g *riskGuardrails) Check(ctx context.Context, chainID int64, ec *models.ExecutionContext) (*GuardVerdict, error) {
	v, err := g.inner.Check(ctx, chainID, ec)
	if err != nil {
		return nil, err
	}
	return &GuardVerdict{Violation: v.Violation, Reason: v.Reason, OK: v.OK}, nil
}
