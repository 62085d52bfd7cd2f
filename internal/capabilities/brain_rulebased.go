package capabilities

import (
	"context"
	"fmt"
	"math/big"

	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// RuleBasedBrain evaluates a fixed, parametrized rule against the latest
// MarketSignal instead of calling out to a model. The "hotpump_watchlist"
// strategy is the literal end-to-end scenario this grounds: watch a pair,
// and when its 5-minute price change, trader count, and volume all clear
// configured thresholds, propose a swap; otherwise wait. Params are bound
// at construction time from the agent's persisted StrategyConfig
// strategyParams (§4.8).
type RuleBasedBrain struct {
	store   store.Store
	chainID int64
	params  map[string]any
}

func NewRuleBasedBrain(st store.Store, chainID int64, params map[string]any) *RuleBasedBrain {
	return &RuleBasedBrain{store: st, chainID: chainID, params: params}
}

func (b *RuleBasedBrain) Think(ctx context.Context, obs *models.Observation, memories []*models.MemoryEntry, actions []runner.Action) (*models.Decision, error) {
	params := b.params
	pair, _ := params["pair"].(string)
	if pair == "" {
		return &models.Decision{Action: "wait", Reasoning: "no pair configured", Confidence: 1}, nil
	}

	signal, err := b.store.GetMarketSignal(ctx, b.chainID, pair)
	if err != nil {
		return nil, fmt.Errorf("rule-based brain: get market signal: %w", err)
	}
	if signal == nil {
		return &models.Decision{Action: "wait", Reasoning: "no market signal yet for " + pair, Confidence: 1}, nil
	}

	pumpThresholdBps := intParam(params, "pumpThresholdBps", 10000)
	uniqueTradersMin := intParam(params, "uniqueTradersMin", 200)
	minVolume5m := bigParam(params, "minVolume5m", big.NewInt(0))

	matched := signal.PriceChangeBps >= int64(pumpThresholdBps) &&
		signal.UniqueTraders5m >= int64(uniqueTradersMin) &&
		signal.Volume5m.Cmp(minVolume5m) >= 0

	if !matched {
		return &models.Decision{
			Action:    "wait",
			Reasoning: fmt.Sprintf("%s: priceChangeBps=%d uniqueTraders5m=%d volume5m=%s below thresholds", pair, signal.PriceChangeBps, signal.UniqueTraders5m, signal.Volume5m.String()),
			Confidence: 0.9,
		}, nil
	}

	if !hasAction(actions, "swap") {
		return &models.Decision{Action: "wait", Reasoning: "swap action not available on this agent", Confidence: 1}, nil
	}

	tokenOut, _ := params["tokenOut"].(string)
	tokenIn, _ := params["tokenIn"].(string)
	spendAmount := bigParam(params, "tradeAmount", big.NewInt(0))

	return &models.Decision{
		Action:    "swap",
		Reasoning: fmt.Sprintf("%s pumped: priceChangeBps=%d uniqueTraders5m=%d volume5m=%s", pair, signal.PriceChangeBps, signal.UniqueTraders5m, signal.Volume5m.String()),
		Confidence: 0.8,
		Params: map[string]any{
			"tokenOut": tokenOut,
			"tokenIn":  tokenIn,
			"amountIn": spendAmount.String(),
			"minOut":   "0",
		},
	}, nil
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func bigParam(params map[string]any, key string, def *big.Int) *big.Int {
	switch v := params[key].(type) {
	case string:
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return def
		}
		return n
	case float64:
		return big.NewInt(int64(v))
	default:
		return def
	}
}

func hasAction(actions []runner.Action, name string) bool {
	for _, a := range actions {
		if a.Name() == name {
			return true
		}
	}
	return false
}
