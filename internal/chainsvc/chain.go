// Package chainsvc is the Chain service boundary (§1 Out of scope, §4.2
// stages simulate/execute/verify): wire-level RPC encoding is out of scope
// for this core, so Chain is specified only as the interface the cognitive
// cycle and hard-policy guardrail call through.
package chainsvc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Payload is the encoded on-chain call the cycle simulates, submits, and
// later reads a receipt for.
type Payload struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// SimulateResult is the outcome of a dry-run simulation.
type SimulateResult struct {
	RevertReason string
	OK           bool
	GasEstimate  uint64
}

// Receipt is the on-chain confirmation of a submitted transaction.
type Receipt struct {
	TxHash    common.Hash
	GasUsed   uint64
	BlockNum  uint64
	Status    uint64 // 1 = success, 0 = reverted, per go-ethereum receipt semantics
}

// ValidateResult is the hard-policy on-chain validator's verdict (§4.4).
type ValidateResult struct {
	Reason string
	OK     bool
}

// Chain is the boundary the cognitive cycle and hard-policy guardrail call
// through. Concrete RPC wiring (go-ethereum ethclient, batching, retries at
// the transport level) lives outside this core's scope.
type Chain interface {
	// Simulate dry-runs a payload without submitting it (cycle stage 6).
	Simulate(ctx context.Context, payload *Payload) (*SimulateResult, error)

	// Submit broadcasts a transaction and returns its hash (cycle stage 7).
	Submit(ctx context.Context, payload *Payload) (common.Hash, error)

	// Receipt waits for and returns the confirmed receipt (cycle stage 8).
	Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error)

	// ValidateHard invokes the on-chain "validate" view for the hard-policy
	// layer (§4.4). If validatorAddr is the zero address, callers should
	// treat the hard layer as a no-op rather than calling this.
	ValidateHard(ctx context.Context, validatorAddr common.Address, tokenID *big.Int, vault, target common.Address, data []byte, value *big.Int, actionTokens []common.Address) (*ValidateResult, error)
}
