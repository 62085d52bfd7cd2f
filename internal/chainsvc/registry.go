package chainsvc

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/pkg/models"
)

// agentDataABIJSON describes the NFA registry's per-token read view:
// getAgent(tokenId) -> (owner, renter, vault, agentType, paused).
const agentDataABIJSON = `[{
	"name": "getAgent",
	"type": "function",
	"stateMutability": "view",
	"inputs": [{"name": "tokenId", "type": "uint256"}],
	"outputs": [
		{"name": "owner", "type": "address"},
		{"name": "renter", "type": "address"},
		{"name": "vault", "type": "address"},
		{"name": "agentType", "type": "string"},
		{"name": "paused", "type": "bool"}
	]
}]`

var agentDataABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(agentDataABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chainsvc: invalid agent data ABI: %v", err))
	}
	agentDataABI = parsed
}

// AgentDataReader resolves a tokenId to the on-chain metadata the
// AgentFactory needs (§4.8's ChainAgentData).
type AgentDataReader interface {
	ReadAgentData(ctx context.Context, chainID int64, tokenID *big.Int) (*models.ChainAgentData, error)
}

// RegistryReader is the concrete AgentDataReader over the NFA registry
// contract, reusing EthClient's RPC connection.
type RegistryReader struct {
	rpc      *EthClient
	registry common.Address
}

func NewRegistryReader(rpc *EthClient, registryAddr common.Address) *RegistryReader {
	return &RegistryReader{rpc: rpc, registry: registryAddr}
}

func (r *RegistryReader) ReadAgentData(ctx context.Context, chainID int64, tokenID *big.Int) (*models.ChainAgentData, error) {
	calldata, err := agentDataABI.Pack("getAgent", tokenID)
	if err != nil {
		return nil, fmt.Errorf("pack getAgent call: %w", err)
	}

	msg := ethereum.CallMsg{To: &r.registry, Data: calldata}
	out, err := r.rpc.rpc.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAgent: %w", err)
	}

	vals, err := agentDataABI.Unpack("getAgent", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getAgent result: %w", err)
	}
	if len(vals) != 5 {
		return nil, fmt.Errorf("unexpected getAgent output arity: %d", len(vals))
	}

	owner, ok1 := vals[0].(common.Address)
	renter, ok2 := vals[1].(common.Address)
	vault, ok3 := vals[2].(common.Address)
	agentType, ok4 := vals[3].(string)
	_, ok5 := vals[4].(bool) // paused is type-checked but not carried into ChainAgentData
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("unexpected getAgent output types")
	}

	return &models.ChainAgentData{
		TokenID:   tokenID,
		ChainID:   chainID,
		AgentType: agentType,
		Owner:     owner,
		Renter:    renter,
		Vault:     vault,
	}, nil
}
