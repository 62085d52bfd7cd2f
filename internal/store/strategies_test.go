package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/pkg/models"
	"github.com/nfa-labs/agentrunner/test/testdb"
)

func TestUpsertStrategy_IdempotentByChainAndToken(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := testdb.Setup(t)
	p := NewPostgres(WrapConn(tdb.Conn))
	ctx := context.Background()

	cfg := &models.StrategyConfig{
		TokenID:        big.NewInt(77),
		ChainID:        8453,
		Target:         common.HexToAddress("0x1111111111111111111111111111111111111111"),
		StrategyType:   "swap",
		Value:          big.NewInt(1_000_000),
		DailyValueUsed: big.NewInt(0),
		MinIntervalMs:  60_000,
		MaxFailures:    3,
		Enabled:        true,
		NextCheckAt:    time.Now(),
		BudgetDay:      time.Now().Truncate(24 * time.Hour),
	}
	require.NoError(t, p.UpsertStrategy(ctx, 8453, cfg))

	cfg.Enabled = false
	cfg.FailureCount = 2
	cfg.LastError = "boom"
	require.NoError(t, p.UpsertStrategy(ctx, 8453, cfg))

	got, err := p.GetStrategy(ctx, 8453, big.NewInt(77))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Enabled, "second upsert's fields must win")
	assert.Equal(t, 2, got.FailureCount)
	assert.Equal(t, "boom", got.LastError)
}

func TestListStrategies_ReturnsAllRowsForChainOrderedByTokenID(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := testdb.Setup(t)
	p := NewPostgres(WrapConn(tdb.Conn))
	ctx := context.Background()

	for _, tokenID := range []int64{30, 10, 20} {
		require.NoError(t, p.UpsertStrategy(ctx, 9999, &models.StrategyConfig{
			TokenID:        big.NewInt(tokenID),
			ChainID:        9999,
			Target:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
			StrategyType:   "swap",
			Value:          big.NewInt(1),
			DailyValueUsed: big.NewInt(0),
			MinIntervalMs:  30_000,
			MaxFailures:    5,
			Enabled:        true,
			NextCheckAt:    time.Now(),
			BudgetDay:      time.Now().Truncate(24 * time.Hour),
		}))
	}
	require.NoError(t, p.UpsertStrategy(ctx, 1, &models.StrategyConfig{
		TokenID:        big.NewInt(999),
		ChainID:        1,
		Target:         common.HexToAddress("0x3333333333333333333333333333333333333333"),
		StrategyType:   "swap",
		Value:          big.NewInt(1),
		DailyValueUsed: big.NewInt(0),
		NextCheckAt:    time.Now(),
		BudgetDay:      time.Now().Truncate(24 * time.Hour),
	}))

	got, err := p.ListStrategies(ctx, 9999)
	require.NoError(t, err)
	require.Len(t, got, 3, "must only return rows for the requested chain")

	var tokenIDs []int64
	for _, s := range got {
		tokenIDs = append(tokenIDs, s.TokenID.Int64())
	}
	assert.Equal(t, []int64{10, 20, 30}, tokenIDs, "must be ordered by token_id ascending")
}

func TestListStrategies_EmptyChainReturnsEmptySlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := testdb.Setup(t)
	p := NewPostgres(WrapConn(tdb.Conn))
	ctx := context.Background()

	got, err := p.ListStrategies(ctx, 424242)
	require.NoError(t, err)
	assert.Empty(t, got)
}
