package chainsvc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// validateABI describes the hard-policy validator's view function (§4.4):
// validate(tokenId, vault, target, data, value, actionTokens[]) -> (ok, reason).
const validateABIJSON = `[{
	"name": "validate",
	"type": "function",
	"stateMutability": "view",
	"inputs": [
		{"name": "tokenId", "type": "uint256"},
		{"name": "vault", "type": "address"},
		{"name": "target", "type": "address"},
		{"name": "data", "type": "bytes"},
		{"name": "value", "type": "uint256"},
		{"name": "actionTokens", "type": "address[]"}
	],
	"outputs": [
		{"name": "ok", "type": "bool"},
		{"name": "reason", "type": "string"}
	]
}]`

var validateABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(validateABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chainsvc: invalid validate ABI: %v", err))
	}
	validateABI = parsed
}

func packValidateCall(tokenID *big.Int, vault, target common.Address, data []byte, value *big.Int, actionTokens []common.Address) ([]byte, error) {
	return validateABI.Pack("validate", tokenID, vault, target, data, value, actionTokens)
}

func unpackValidateResult(out []byte) (*ValidateResult, error) {
	vals, err := validateABI.Unpack("validate", out)
	if err != nil {
		return nil, fmt.Errorf("unpack validate result: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("unexpected validate output arity: %d", len(vals))
	}
	ok, ok1 := vals[0].(bool)
	reason, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected validate output types")
	}
	return &ValidateResult{OK: ok, Reason: reason}, nil
}
