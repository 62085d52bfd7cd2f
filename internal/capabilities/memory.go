// Package capabilities holds the concrete Brain/Perception/Action/Memory/
// Guardrails implementations wired into the runner.Registry at startup —
// the "built-in" half of §4.8's capability traits.
package capabilities

import (
	"context"
	"math/big"

	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// PostgresMemory is the append-only per-agent history capability backed by
// the agent_memory table (§4.5).
type PostgresMemory struct {
	store   store.Store
	chainID int64
	tokenID *big.Int
}

func NewPostgresMemory(st store.Store, chainID int64, tokenID *big.Int) *PostgresMemory {
	return &PostgresMemory{store: st, chainID: chainID, tokenID: tokenID}
}

func (m *PostgresMemory) Recall(ctx context.Context, limit int) ([]*models.MemoryEntry, error) {
	return m.store.RecallMemory(ctx, m.chainID, m.tokenID, limit)
}

func (m *PostgresMemory) Append(ctx context.Context, entry *models.MemoryEntry) error {
	return m.store.AppendMemory(ctx, m.chainID, m.tokenID, entry)
}
