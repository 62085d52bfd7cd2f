package risk

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// HardPolicy is the on-chain simulation guardrail layer (§4.4). If the
// validator address is the zero address, Check is a no-op.
type HardPolicy struct {
	chain         chainsvc.Chain
	validatorAddr common.Address
}

func NewHardPolicy(chain chainsvc.Chain, validatorAddrHex string) *HardPolicy {
	return &HardPolicy{
		chain:         chain,
		validatorAddr: common.HexToAddress(validatorAddrHex),
	}
}

func (h *HardPolicy) Check(ctx context.Context, ec *models.ExecutionContext) (*Verdict, error) {
	if h.validatorAddr == (common.Address{}) {
		return &Verdict{OK: true}, nil
	}

	amountIn := ec.AmountIn
	if amountIn == nil {
		amountIn = ec.SpendAmount
	}

	result, err := h.chain.ValidateHard(ctx, h.validatorAddr, ec.TokenID, ec.Vault, ec.Target, nil, amountIn, ec.ActionTokens)
	if err != nil {
		// err != nil signals either a revert or an RPC-level failure; only
		// the former is a genuine hard-policy rejection. Route it through
		// the same classifier the rest of the cycle uses so a transient
		// timeout/rate-limit surfaces as an infra error (retryable) instead
		// of permanently blocking the action.
		if cat, _ := failure.FromError(err); cat == failure.InfrastructureError {
			return nil, err
		}
		v := failure.HardSimulationReverted
		return &Verdict{OK: false, Violation: &v, Reason: err.Error()}, nil
	}
	if !result.OK {
		v := failure.HardPolicyRejected
		return &Verdict{OK: false, Violation: &v, Reason: result.Reason}, nil
	}

	return &Verdict{OK: true}, nil
}
