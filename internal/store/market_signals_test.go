package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/pkg/models"
	"github.com/nfa-labs/agentrunner/test/testdb"
)

func TestUpsertMarketSignal_IdempotentByChainAndPair(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := testdb.Setup(t)
	p := NewPostgres(WrapConn(tdb.Conn))
	ctx := context.Background()

	first := &models.MarketSignal{
		ChainID:         8453,
		Pair:            "WETH/USDC",
		Source:          "dex-aggregator",
		PriceChangeBps:  120,
		Volume5m:        nil,
		UniqueTraders5m: 4,
		SampledAt:       time.Now().Add(-time.Minute),
	}
	require.NoError(t, p.UpsertMarketSignal(ctx, first))

	second := &models.MarketSignal{
		ChainID:         8453,
		Pair:            "WETH/USDC",
		Source:          "dex-aggregator",
		PriceChangeBps:  -40,
		UniqueTraders5m: 9,
		SampledAt:       time.Now(),
	}
	require.NoError(t, p.UpsertMarketSignal(ctx, second))

	var count int
	require.NoError(t, p.db.SQLX().GetContext(ctx, &count,
		`SELECT count(*) FROM market_signals WHERE chain_id = $1 AND pair = $2`, 8453, "WETH/USDC"))
	assert.Equal(t, 1, count, "upsert must be idempotent by (chainId, pair)")

	var priceChangeBps int64
	require.NoError(t, p.db.SQLX().GetContext(ctx, &priceChangeBps,
		`SELECT price_change_bps FROM market_signals WHERE chain_id = $1 AND pair = $2`, 8453, "WETH/USDC"))
	assert.Equal(t, int64(-40), priceChangeBps, "second upsert's fields must win")
}

func TestUpsertMarketSignal_SampledAtMonotonic(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := testdb.Setup(t)
	p := NewPostgres(WrapConn(tdb.Conn))
	ctx := context.Background()

	latest := time.Now()
	stale := latest.Add(-time.Hour)

	require.NoError(t, p.UpsertMarketSignal(ctx, &models.MarketSignal{
		ChainID: 1, Pair: "WBTC/WETH", Source: "dex-aggregator", SampledAt: latest,
	}))
	require.NoError(t, p.UpsertMarketSignal(ctx, &models.MarketSignal{
		ChainID: 1, Pair: "WBTC/WETH", Source: "dex-aggregator", SampledAt: stale,
	}))

	var sampledAt time.Time
	require.NoError(t, p.db.SQLX().GetContext(ctx, &sampledAt,
		`SELECT sampled_at FROM market_signals WHERE chain_id = $1 AND pair = $2`, 1, "WBTC/WETH"))
	assert.True(t, sampledAt.Equal(latest) || sampledAt.After(stale),
		"sampledAt must never move backward on a stale upsert")
}

func TestGetMarketSignal_ReturnsLatestUpsertedRow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := testdb.Setup(t)
	p := NewPostgres(WrapConn(tdb.Conn))
	ctx := context.Background()

	require.NoError(t, p.UpsertMarketSignal(ctx, &models.MarketSignal{
		ChainID:         8453,
		Pair:            "WETH/USDC",
		Source:          "dex-aggregator",
		PriceChangeBps:  10200,
		Volume5m:        big.NewInt(1_000_000_000_000_000_000),
		UniqueTraders5m: 220,
		SampledAt:       time.Now(),
	}))

	signal, err := p.GetMarketSignal(ctx, 8453, "WETH/USDC")
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, int64(10200), signal.PriceChangeBps)
	assert.Equal(t, int64(220), signal.UniqueTraders5m)
	require.NotNil(t, signal.Volume5m)
	assert.Equal(t, "1000000000000000000", signal.Volume5m.String())
}

func TestGetMarketSignal_MissingPairReturnsNilNotError(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := testdb.Setup(t)
	p := NewPostgres(WrapConn(tdb.Conn))
	ctx := context.Background()

	signal, err := p.GetMarketSignal(ctx, 8453, "NOPE/USDC")
	require.NoError(t, err)
	assert.Nil(t, signal)
}
