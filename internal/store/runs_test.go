package store

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/agentrunner/pkg/models"
	"github.com/nfa-labs/agentrunner/test/testdb"
)

func TestRecordRun_TrimsToMaxRunRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := testdb.Setup(t)
	p := NewPostgres(WrapConn(tdb.Conn))
	ctx := context.Background()

	const chainID = 137
	tokenID := big.NewInt(42)
	const maxRunRecords = 5

	for i := 0; i < maxRunRecords+3; i++ {
		run := &models.RunRecord{
			ID:         fmt.Sprintf("run-%d", i),
			ChainID:    chainID,
			TokenID:    tokenID,
			RunMode:    models.RunPrimary,
			ActionType: "swap",
			ActionHash: fmt.Sprintf("hash-%d", i),
			SimulateOk: true,
		}
		require.NoError(t, p.RecordRun(ctx, run, maxRunRecords))
	}

	var count int
	require.NoError(t, p.db.SQLX().GetContext(ctx, &count, `SELECT count(*) FROM runs WHERE chain_id = $1`, chainID))
	assert.LessOrEqual(t, count, maxRunRecords, "run-trim bound: count(runs WHERE chain=c) must stay <= maxRunRecords")

	var newestID string
	require.NoError(t, p.db.SQLX().GetContext(ctx, &newestID,
		`SELECT id FROM runs WHERE chain_id = $1 ORDER BY created_at DESC LIMIT 1`, chainID))
	assert.Equal(t, fmt.Sprintf("run-%d", maxRunRecords+2), newestID, "trim must remove oldest rows, not newest")
}
