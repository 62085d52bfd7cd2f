package models

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// WeiPerEther is the standard 18-decimal on-chain scale.
const WeiPerEther = 18

// ToDecimal renders a wei amount as a human decimal.Decimal at the given
// number of on-chain decimals. Never reason about money in float64 inside
// the core — this conversion belongs at the edge (CLI/HTTP output) only.
func ToDecimal(wei *big.Int, decimals int32) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -decimals)
}

// FromDecimal converts a human decimal amount back to its wei representation.
func FromDecimal(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).BigInt()
}

// BpsOf returns amount * bps / 10000, rounding down, matching the integer
// basis-point arithmetic used throughout the guardrail checks.
func BpsOf(amount *big.Int, bps int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	result := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return result.Div(result, big.NewInt(10000))
}

// SlippageBps computes the implied slippage, in basis points, of trading
// amountIn for at least minOut: (amountIn-minOut)*10000/amountIn.
func SlippageBps(amountIn, minOut *big.Int) int {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return 0
	}
	diff := new(big.Int).Sub(amountIn, minOut)
	if diff.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Int).Mul(diff, big.NewInt(10000))
	return int(new(big.Int).Div(scaled, amountIn).Int64())
}
