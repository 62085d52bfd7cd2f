package capabilities

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// OnchainPerception builds one cycle's Observation (§4.2 stage 1) without
// querying the chain: token balances and prices are empty, gas price is
// zero, the native balance comes from the RuntimeContext when set, and
// Paused is never set.
type OnchainPerception struct {
	chain       chainsvc.Chain
	vault       common.Address
	watchTokens []common.Address
}

func NewOnchainPerception(chain chainsvc.Chain, vault common.Address, watchTokens []common.Address) *OnchainPerception {
	return &OnchainPerception{chain: chain, vault: vault, watchTokens: watchTokens}
}

// Observe returns the current snapshot. Vault balances are read through the
// same Chain boundary the cycle later simulates/submits against; this core
// is out of scope for on-chain wire encoding (§1), so Observe here returns
// zeroed balances rather than performing raw eth_call batching — concrete
// balance reads are a transport-layer concern left to the Chain
// implementation's own instrumentation.
func (p *OnchainPerception) Observe(ctx context.Context, rc *models.RuntimeContext) (*models.Observation, error) {
	obs := &models.Observation{
		Timestamp:         time.Now(),
		Vault:             p.vault,
		Prices:            map[common.Address]float64{},
		VaultTokenBalance: map[common.Address]*big.Int{},
		NativeBalance:     big.NewInt(0),
		GasPrice:          big.NewInt(0),
	}
	if rc != nil && rc.NativeBalance != nil {
		obs.NativeBalance = rc.NativeBalance
	}
	return obs, nil
}
