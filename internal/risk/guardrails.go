// Package risk implements the two-layer guardrail pipeline (§4.4): a local,
// DB-backed soft policy followed by an on-chain hard policy, composed so the
// first violation short-circuits the rest.
package risk

import (
	"context"
	"fmt"

	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// Verdict is the outcome of running both guardrail layers.
type Verdict struct {
	Violation *failure.ViolationCode
	Reason    string
	OK        bool
}

// Guardrails composes the soft and hard policy layers behind one entry point.
type Guardrails struct {
	soft *SoftPolicy
	hard *HardPolicy
}

func NewGuardrails(store store.Store, chain chainsvc.Chain, hardValidator string) *Guardrails {
	return &Guardrails{
		soft: NewSoftPolicy(store),
		hard: NewHardPolicy(chain, hardValidator),
	}
}

// Check runs the soft layer then, only if it passes, the hard layer. The
// first non-empty violation list wins (§4.4) — this package never
// accumulates violations across layers.
func (g *Guardrails) Check(ctx context.Context, chainID int64, ec *models.ExecutionContext) (*Verdict, error) {
	softVerdict, err := g.soft.Check(ctx, chainID, ec)
	if err != nil {
		return nil, fmt.Errorf("soft policy check: %w", err)
	}
	if !softVerdict.OK {
		return softVerdict, nil
	}

	hardVerdict, err := g.hard.Check(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("hard policy check: %w", err)
	}
	return hardVerdict, nil
}
