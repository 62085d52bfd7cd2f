package chainsvc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/pkg/logger"
)

// EthClient is the concrete Chain implementation over a single JSON-RPC
// endpoint via go-ethereum's ethclient. Action payload encoding (the ABI
// packing for swap/approve/wrap/transfer) is an Action capability's concern,
// out of this core's scope — EthClient only moves already-encoded payloads.
type EthClient struct {
	rpc      *ethclient.Client
	chainID  *big.Int
	signer   *bind.TransactOpts
}

// NewEthClient dials the chain's RPC endpoint and, if operatorKey is set,
// derives a transactor so Submit can sign outbound transactions.
func NewEthClient(ctx context.Context, rpcURL string, chainID int64, operatorKeyHex string) (*EthClient, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}

	cid := big.NewInt(chainID)
	c := &EthClient{rpc: rpc, chainID: cid}

	if operatorKeyHex != "" {
		key, err := crypto.HexToECDSA(operatorKeyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse operator key: %w", err)
		}
		signer, err := bind.NewKeyedTransactorWithChainID(key, cid)
		if err != nil {
			return nil, fmt.Errorf("failed to build transactor: %w", err)
		}
		c.signer = signer
	}

	logger.Info("chain rpc client connected", zap.Int64("chain_id", chainID))
	return c, nil
}

func (c *EthClient) Simulate(ctx context.Context, payload *Payload) (*SimulateResult, error) {
	msg := ethereum.CallMsg{
		To:    &payload.To,
		Data:  payload.Data,
		Value: payload.Value,
	}
	out, err := c.rpc.CallContract(ctx, msg, nil)
	if err != nil {
		if cat, _ := failure.FromError(err); cat == failure.InfrastructureError {
			return nil, err
		}
		return &SimulateResult{OK: false, RevertReason: err.Error()}, nil
	}

	gasEstimate, err := c.rpc.EstimateGas(ctx, msg)
	if err != nil {
		if cat, _ := failure.FromError(err); cat == failure.InfrastructureError {
			return nil, err
		}
		return &SimulateResult{OK: false, RevertReason: err.Error()}, nil
	}
	_ = out
	return &SimulateResult{OK: true, GasEstimate: gasEstimate}, nil
}

func (c *EthClient) Submit(ctx context.Context, payload *Payload) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, fmt.Errorf("chain client has no operator key configured, cannot submit")
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, c.signer.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get pending nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit := payload.GasLimit
	if gasLimit == 0 {
		gasLimit = 500_000
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &payload.To,
		Value:    payload.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     payload.Data,
	})

	signedTx, err := c.signer.Signer(c.signer.From, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	return signedTx.Hash(), nil
}

func (c *EthClient) Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	r, err := c.rpc.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get transaction receipt: %w", err)
	}
	return &Receipt{
		TxHash:   txHash,
		GasUsed:  r.GasUsed,
		BlockNum: r.BlockNumber.Uint64(),
		Status:   r.Status,
	}, nil
}

// ValidateHard calls the on-chain validator's view function with calldata
// packed by packValidateCall. A failed call (revert or RPC error) is
// returned as an error for the caller to classify; a completed call yields
// the validator's own (ok, reason) verdict.
func (c *EthClient) ValidateHard(ctx context.Context, validatorAddr common.Address, tokenID *big.Int, vault, target common.Address, data []byte, value *big.Int, actionTokens []common.Address) (*ValidateResult, error) {
	if validatorAddr == (common.Address{}) {
		return &ValidateResult{OK: true}, nil
	}

	calldata, err := packValidateCall(tokenID, vault, target, data, value, actionTokens)
	if err != nil {
		return nil, fmt.Errorf("pack validate calldata: %w", err)
	}

	msg := ethereum.CallMsg{To: &validatorAddr, Data: calldata}
	out, err := c.rpc.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}

	return unpackValidateResult(out)
}

func (c *EthClient) Close() { c.rpc.Close() }
