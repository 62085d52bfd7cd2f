package risk

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// SoftPolicy is the local, DB-backed guardrail layer (§4.4). An absent
// SafetyConfig for a tokenId is pass-through, not a violation.
type SoftPolicy struct {
	store store.Store
}

func NewSoftPolicy(s store.Store) *SoftPolicy {
	return &SoftPolicy{store: s}
}

// Check runs the eight soft checks in the table order given by §4.4; the
// first failing check wins.
func (s *SoftPolicy) Check(ctx context.Context, chainID int64, ec *models.ExecutionContext) (*Verdict, error) {
	cfg, err := s.store.GetSafetyConfig(ctx, chainID, ec.TokenID)
	if err != nil {
		return nil, fmt.Errorf("load safety config: %w", err)
	}
	if cfg == nil {
		return &Verdict{OK: true}, nil
	}

	// A day's execution memory is bounded in practice by maxRunsPerDay; this
	// cap is generous headroom, not a tuned limit.
	const dailyMemoryScanLimit = 2000
	memories, err := s.store.RecallMemory(ctx, chainID, ec.TokenID, dailyMemoryScanLimit)
	if err != nil {
		return nil, fmt.Errorf("recall memory for soft policy: %w", err)
	}
	todayExecCount, todaySpent, lastExecTs := executionStatsForToday(memories, ec.Timestamp)

	checks := []func() (bool, failure.ViolationCode){
		func() (bool, failure.ViolationCode) {
			if ec.ActionName != "swap" || len(cfg.AllowedDexes) == 0 {
				return true, ""
			}
			return addrIn(ec.Target, cfg.AllowedDexes), failure.SoftAllowedDex
		},
		func() (bool, failure.ViolationCode) {
			if ec.SpendAmount == nil || cfg.MaxTradeAmount == nil || cfg.MaxTradeAmount.Sign() == 0 {
				return true, ""
			}
			return ec.SpendAmount.Cmp(cfg.MaxTradeAmount) <= 0, failure.SoftMaxTradeAmount
		},
		func() (bool, failure.ViolationCode) {
			if cfg.CooldownSeconds <= 0 || lastExecTs.IsZero() {
				return true, ""
			}
			elapsed := ec.Timestamp.Sub(lastExecTs)
			return elapsed >= time.Duration(cfg.CooldownSeconds)*time.Second, failure.SoftCooldown
		},
		func() (bool, failure.ViolationCode) {
			if cfg.MaxRunsPerDay <= 0 {
				return true, ""
			}
			return todayExecCount < cfg.MaxRunsPerDay, failure.SoftMaxRunsPerDay
		},
		func() (bool, failure.ViolationCode) {
			if ec.SpendAmount == nil || cfg.MaxDailyAmount == nil || cfg.MaxDailyAmount.Sign() == 0 {
				return true, ""
			}
			projected := new(big.Int).Add(todaySpent, ec.SpendAmount)
			return projected.Cmp(cfg.MaxDailyAmount) <= 0, failure.SoftMaxDailyAmount
		},
		func() (bool, failure.ViolationCode) {
			if len(cfg.AllowedTokens) == 0 {
				return true, ""
			}
			for _, t := range ec.ActionTokens {
				if t == (common.Address{}) {
					continue // address-zero is exempt per §4.4
				}
				if !addrIn(t, cfg.AllowedTokens) {
					return false, failure.SoftAllowedTokens
				}
			}
			return true, ""
		},
		func() (bool, failure.ViolationCode) {
			if len(cfg.BlockedTokens) == 0 {
				return true, ""
			}
			for _, t := range ec.ActionTokens {
				if t == (common.Address{}) {
					continue
				}
				if addrIn(t, cfg.BlockedTokens) {
					return false, failure.SoftBlockedTokens
				}
			}
			return true, ""
		},
		func() (bool, failure.ViolationCode) {
			if ec.AmountIn == nil || ec.MinOut == nil || cfg.MaxSlippageBps <= 0 || ec.AmountIn.Sign() == 0 {
				return true, ""
			}
			return models.SlippageBps(ec.AmountIn, ec.MinOut) <= cfg.MaxSlippageBps, failure.SoftMaxSlippageBps
		},
	}

	for _, check := range checks {
		if ok, violation := check(); !ok {
			v := violation
			return &Verdict{OK: false, Violation: &v, Reason: string(violation)}, nil
		}
	}

	return &Verdict{OK: true}, nil
}

func addrIn(addr common.Address, list []common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

// executionStatsForToday derives todayExecCount, todaySpent, and lastExecTs
// from the memory log scoped to type=execution, result.success=true, for the
// UTC calendar day of `now` — the resolved Open Question on the "today"
// boundary.
func executionStatsForToday(memories []*models.MemoryEntry, now time.Time) (count int, spent *big.Int, lastExecTs time.Time) {
	spent = big.NewInt(0)
	today := now.UTC()

	for _, m := range memories {
		if m.Type != models.MemoryExecution || m.Result == nil || !m.Result.Success {
			continue
		}
		if !isSameUTCDay(m.Timestamp, today) {
			continue
		}
		count++
		if m.Timestamp.After(lastExecTs) {
			lastExecTs = m.Timestamp
		}
		if amountIn, ok := m.Params["spendAmount"].(string); ok {
			if v, ok := new(big.Int).SetString(amountIn, 10); ok {
				spent.Add(spent, v)
			}
		}
	}
	return count, spent, lastExecTs
}

func isSameUTCDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
