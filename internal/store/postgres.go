package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nfa-labs/agentrunner/pkg/models"
)

// Postgres is the sqlx-backed Store implementation against the five logical
// tables named in §6: autopilots, token_strategies, runs, agent_memory,
// market_signals, plus agent_blueprints and user_safety_configs.
type Postgres struct {
	db *DB
}

func NewPostgres(db *DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Health(ctx context.Context) error { return p.db.Health(ctx) }
func (p *Postgres) Close() error                      { return p.db.Close() }

func bigToStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func strToBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func addrSlice(addrs []common.Address) pq.StringArray {
	out := make(pq.StringArray, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func parseAddrSlice(raw pq.StringArray) []common.Address {
	out := make([]common.Address, len(raw))
	for i, s := range raw {
		out[i] = common.HexToAddress(s)
	}
	return out
}

// --- autopilots / token_strategies -----------------------------------------

func (p *Postgres) SelectRunnable(ctx context.Context, now time.Time, chainID int64) ([]*big.Int, error) {
	const query = `
		SELECT ts.token_id FROM token_strategies ts
		WHERE ts.chain_id = $1 AND ts.enabled = true AND ts.next_check_at <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM autopilots a
			WHERE a.chain_id = ts.chain_id AND a.token_id = ts.token_id AND a.paused = true
		  )
		ORDER BY ts.next_check_at ASC
	`
	var rows []string
	if err := p.db.SQLX().SelectContext(ctx, &rows, query, chainID, now); err != nil {
		return nil, fmt.Errorf("select runnable: %w", err)
	}
	ids := make([]*big.Int, len(rows))
	for i, r := range rows {
		ids[i] = strToBig(r)
	}
	return ids, nil
}

// ListStrategies returns every persisted strategy row for a chain, used by
// the fleet-wide /status/all and /autopilots control-plane views.
func (p *Postgres) ListStrategies(ctx context.Context, chainID int64) ([]*models.StrategyConfig, error) {
	const query = `
		SELECT token_id, chain_id, target, strategy_type, value, daily_value_used,
		       data, strategy_params, min_interval_ms, max_failures, failure_count,
		       daily_runs_used, require_positive_balance, enabled, last_error,
		       last_run_at, next_check_at, budget_day, created_at, updated_at
		FROM token_strategies WHERE chain_id = $1 ORDER BY token_id ASC
	`
	var rows []strategyRow
	if err := p.db.SQLX().SelectContext(ctx, &rows, query, chainID); err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	out := make([]*models.StrategyConfig, 0, len(rows))
	for i := range rows {
		cfg, err := strategyFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

type strategyRow struct {
	TokenID                string         `db:"token_id"`
	ChainID                int64          `db:"chain_id"`
	Target                 string         `db:"target"`
	StrategyType           string         `db:"strategy_type"`
	Value                  string         `db:"value"`
	DailyValueUsed         string         `db:"daily_value_used"`
	Data                   []byte         `db:"data"`
	StrategyParams         []byte         `db:"strategy_params"`
	MinIntervalMs          int64          `db:"min_interval_ms"`
	MaxFailures            int            `db:"max_failures"`
	FailureCount           int            `db:"failure_count"`
	DailyRunsUsed          int            `db:"daily_runs_used"`
	RequirePositiveBalance bool           `db:"require_positive_balance"`
	Enabled                bool           `db:"enabled"`
	LastError              sql.NullString `db:"last_error"`
	LastRunAt              sql.NullTime   `db:"last_run_at"`
	NextCheckAt            time.Time      `db:"next_check_at"`
	BudgetDay              time.Time      `db:"budget_day"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func (p *Postgres) GetStrategy(ctx context.Context, chainID int64, tokenID *big.Int) (*models.StrategyConfig, error) {
	const query = `
		SELECT token_id, chain_id, target, strategy_type, value, daily_value_used,
		       data, strategy_params, min_interval_ms, max_failures, failure_count,
		       daily_runs_used, require_positive_balance, enabled, last_error,
		       last_run_at, next_check_at, budget_day, created_at, updated_at
		FROM token_strategies WHERE chain_id = $1 AND token_id = $2
	`
	var row strategyRow
	if err := p.db.SQLX().GetContext(ctx, &row, query, chainID, tokenID.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("strategy not found for tokenId %s: %w", tokenID.String(), err)
		}
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	return strategyFromRow(&row)
}

func strategyFromRow(row *strategyRow) (*models.StrategyConfig, error) {
	cfg := &models.StrategyConfig{
		TokenID:                strToBig(row.TokenID),
		ChainID:                row.ChainID,
		Target:                 common.HexToAddress(row.Target),
		StrategyType:           row.StrategyType,
		Value:                  strToBig(row.Value),
		DailyValueUsed:         strToBig(row.DailyValueUsed),
		Data:                   row.Data,
		MinIntervalMs:          row.MinIntervalMs,
		MaxFailures:            row.MaxFailures,
		FailureCount:           row.FailureCount,
		DailyRunsUsed:          row.DailyRunsUsed,
		RequirePositiveBalance: row.RequirePositiveBalance,
		Enabled:                row.Enabled,
		LastError:              row.LastError.String,
		NextCheckAt:            row.NextCheckAt,
		BudgetDay:              row.BudgetDay,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}
	if row.LastRunAt.Valid {
		cfg.LastRunAt = &row.LastRunAt.Time
	}
	if len(row.StrategyParams) > 0 {
		if err := json.Unmarshal(row.StrategyParams, &cfg.StrategyParams); err != nil {
			return nil, fmt.Errorf("unmarshal strategy_params: %w", err)
		}
	}
	return cfg, nil
}

// UpsertStrategy writes the strategy row. Daily-counter reset (§4.2: a new
// BudgetDay zeroes DailyValueUsed/DailyRunsUsed) is decided by the caller
// before calling Upsert — this method persists whatever BudgetDay/counters
// it is given, it does not itself decide resets.
func (p *Postgres) UpsertStrategy(ctx context.Context, chainID int64, cfg *models.StrategyConfig) error {
	paramsJSON, err := json.Marshal(cfg.StrategyParams)
	if err != nil {
		return fmt.Errorf("marshal strategy_params: %w", err)
	}

	const query = `
		INSERT INTO token_strategies (
			token_id, chain_id, target, strategy_type, value, daily_value_used,
			data, strategy_params, min_interval_ms, max_failures, failure_count,
			daily_runs_used, require_positive_balance, enabled, last_error,
			last_run_at, next_check_at, budget_day, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now(), now()
		)
		ON CONFLICT (chain_id, token_id) DO UPDATE SET
			target = EXCLUDED.target,
			strategy_type = EXCLUDED.strategy_type,
			value = EXCLUDED.value,
			daily_value_used = EXCLUDED.daily_value_used,
			data = EXCLUDED.data,
			strategy_params = EXCLUDED.strategy_params,
			min_interval_ms = EXCLUDED.min_interval_ms,
			max_failures = EXCLUDED.max_failures,
			failure_count = EXCLUDED.failure_count,
			daily_runs_used = EXCLUDED.daily_runs_used,
			require_positive_balance = EXCLUDED.require_positive_balance,
			enabled = EXCLUDED.enabled,
			last_error = EXCLUDED.last_error,
			last_run_at = EXCLUDED.last_run_at,
			next_check_at = EXCLUDED.next_check_at,
			budget_day = EXCLUDED.budget_day,
			updated_at = now()
	`
	var lastErr any
	if cfg.LastError != "" {
		lastErr = cfg.LastError
	}
	var lastRunAt any
	if cfg.LastRunAt != nil {
		lastRunAt = *cfg.LastRunAt
	}

	_, err = p.db.SQLX().ExecContext(ctx, query,
		cfg.TokenID.String(), chainID, cfg.Target.Hex(), cfg.StrategyType,
		bigToStr(cfg.Value), bigToStr(cfg.DailyValueUsed), cfg.Data, paramsJSON,
		cfg.MinIntervalMs, cfg.MaxFailures, cfg.FailureCount, cfg.DailyRunsUsed,
		cfg.RequirePositiveBalance, cfg.Enabled, lastErr, lastRunAt, cfg.NextCheckAt, cfg.BudgetDay,
	)
	if err != nil {
		return fmt.Errorf("upsert strategy: %w", err)
	}
	return nil
}

// --- runs --------------------------------------------------------------

// RecordRun appends a run row and trims the chain-scoped table down to
// maxRunRecords in one transaction, per the persistence contract invariant.
func (p *Postgres) RecordRun(ctx context.Context, run *models.RunRecord, maxRunRecords int) error {
	tx, err := p.db.SQLX().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	traceJSON, err := json.Marshal(run.ExecutionTrace)
	if err != nil {
		return fmt.Errorf("marshal execution_trace: %w", err)
	}
	var shadowJSON []byte
	if run.ShadowCompare != nil {
		shadowJSON, err = json.Marshal(run.ShadowCompare)
		if err != nil {
			return fmt.Errorf("marshal shadow_compare: %w", err)
		}
	}

	var txHash, failureCategory, errorCode, violationCode any
	if run.TxHash != nil {
		txHash = run.TxHash.Hex()
	}
	if run.FailureCategory != nil {
		failureCategory = string(*run.FailureCategory)
	}
	if run.ErrorCode != nil {
		errorCode = string(*run.ErrorCode)
	}
	if run.ViolationCode != nil {
		violationCode = string(*run.ViolationCode)
	}

	const insert = `
		INSERT INTO runs (
			id, chain_id, token_id, run_mode, action_type, action_hash,
			tx_hash, simulate_ok, error, failure_category, error_code,
			violation_code, decision_reason, decision_message, brain_type,
			intent_type, gas_used, pnl_usd, execution_trace, shadow_compare, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, now()
		)
	`
	_, err = tx.ExecContext(ctx, insert,
		run.ID, run.ChainID, run.TokenID.String(), run.RunMode, run.ActionType, run.ActionHash,
		txHash, run.SimulateOk, run.Error, failureCategory, errorCode,
		violationCode, run.DecisionReason, run.DecisionMessage, run.BrainType,
		run.IntentType, run.GasUsed, run.PnLUsd, traceJSON, shadowJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	const trim = `
		DELETE FROM runs WHERE chain_id = $1 AND id IN (
			SELECT id FROM runs WHERE chain_id = $1 ORDER BY created_at DESC OFFSET $2
		)
	`
	if _, err := tx.ExecContext(ctx, trim, run.ChainID, maxRunRecords); err != nil {
		return fmt.Errorf("trim runs: %w", err)
	}

	return tx.Commit()
}

func (p *Postgres) ListRuns(ctx context.Context, chainID int64, tokenID *big.Int, limit int) ([]*models.RunRecord, error) {
	const query = `
		SELECT id, chain_id, token_id, run_mode, action_type, action_hash,
		       tx_hash, simulate_ok, error, failure_category, error_code,
		       violation_code, decision_reason, decision_message, brain_type,
		       intent_type, gas_used, pnl_usd, execution_trace, shadow_compare, created_at
		FROM runs WHERE chain_id = $1 AND token_id = $2
		ORDER BY created_at DESC LIMIT $3
	`
	rows, err := p.db.SQLX().QueryxContext(ctx, query, chainID, tokenID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(rows *sqlx.Rows) (*models.RunRecord, error) {
	var (
		id, runMode, actionType, actionHash                                string
		tokenIDStr                                                         string
		chainID                                                            int64
		txHash, failureCategory, errorCode, violationCode, errStr          sql.NullString
		decisionReason, decisionMessage, brainType, intentType             sql.NullString
		simulateOk                                                         bool
		gasUsed                                                            sql.NullInt64
		pnlUsd                                                             sql.NullFloat64
		traceJSON, shadowJSON                                              []byte
		createdAt                                                          time.Time
	)
	if err := rows.Scan(
		&id, &chainID, &tokenIDStr, &runMode, &actionType, &actionHash,
		&txHash, &simulateOk, &errStr, &failureCategory, &errorCode,
		&violationCode, &decisionReason, &decisionMessage, &brainType,
		&intentType, &gasUsed, &pnlUsd, &traceJSON, &shadowJSON, &createdAt,
	); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run := &models.RunRecord{
		ID:              id,
		ChainID:         chainID,
		TokenID:         strToBig(tokenIDStr),
		RunMode:         models.RunMode(runMode),
		ActionType:      actionType,
		ActionHash:      actionHash,
		SimulateOk:      simulateOk,
		Error:           errStr.String,
		DecisionReason:  decisionReason.String,
		DecisionMessage: decisionMessage.String,
		BrainType:       brainType.String,
		IntentType:      intentType.String,
		CreatedAt:       createdAt,
	}
	if txHash.Valid {
		h := common.HexToHash(txHash.String)
		run.TxHash = &h
	}
	if gasUsed.Valid {
		g := uint64(gasUsed.Int64)
		run.GasUsed = &g
	}
	if pnlUsd.Valid {
		run.PnLUsd = &pnlUsd.Float64
	}
	if len(traceJSON) > 0 {
		if err := json.Unmarshal(traceJSON, &run.ExecutionTrace); err != nil {
			return nil, fmt.Errorf("unmarshal execution_trace: %w", err)
		}
	}
	if len(shadowJSON) > 0 {
		var sc models.ShadowCompare
		if err := json.Unmarshal(shadowJSON, &sc); err != nil {
			return nil, fmt.Errorf("unmarshal shadow_compare: %w", err)
		}
		run.ShadowCompare = &sc
	}
	return run, nil
}

// --- agent_memory --------------------------------------------------------

func (p *Postgres) AppendMemory(ctx context.Context, chainID int64, tokenID *big.Int, entry *models.MemoryEntry) error {
	paramsJSON, err := json.Marshal(entry.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	var resultJSON []byte
	if entry.Result != nil {
		resultJSON, err = json.Marshal(entry.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	const query = `
		INSERT INTO agent_memory (chain_id, token_id, type, action, reasoning, params, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`
	_, err = p.db.SQLX().ExecContext(ctx, query,
		chainID, tokenID.String(), entry.Type, entry.Action, entry.Reasoning, paramsJSON, resultJSON,
	)
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

func (p *Postgres) RecallMemory(ctx context.Context, chainID int64, tokenID *big.Int, limit int) ([]*models.MemoryEntry, error) {
	const query = `
		SELECT type, action, reasoning, params, result, created_at
		FROM agent_memory WHERE chain_id = $1 AND token_id = $2
		ORDER BY created_at DESC LIMIT $3
	`
	rows, err := p.db.SQLX().QueryxContext(ctx, query, chainID, tokenID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("recall memory: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryEntry
	for rows.Next() {
		var kind, action, reasoning string
		var paramsJSON, resultJSON []byte
		var createdAt time.Time
		if err := rows.Scan(&kind, &action, &reasoning, &paramsJSON, &resultJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		entry := &models.MemoryEntry{
			Type:      models.MemoryKind(kind),
			Action:    action,
			Reasoning: reasoning,
			Timestamp: createdAt,
		}
		if len(paramsJSON) > 0 {
			if err := json.Unmarshal(paramsJSON, &entry.Params); err != nil {
				return nil, fmt.Errorf("unmarshal params: %w", err)
			}
		}
		if len(resultJSON) > 0 {
			var res models.ExecutionResult
			if err := json.Unmarshal(resultJSON, &res); err != nil {
				return nil, fmt.Errorf("unmarshal result: %w", err)
			}
			entry.Result = &res
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// --- market_signals ------------------------------------------------------

func (p *Postgres) UpsertMarketSignal(ctx context.Context, s *models.MarketSignal) error {
	const query = `
		INSERT INTO market_signals (chain_id, pair, source, price_change_bps, volume_5m, unique_traders_5m, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain_id, pair) DO UPDATE SET
			source = EXCLUDED.source,
			price_change_bps = EXCLUDED.price_change_bps,
			volume_5m = EXCLUDED.volume_5m,
			unique_traders_5m = EXCLUDED.unique_traders_5m,
			sampled_at = GREATEST(market_signals.sampled_at, EXCLUDED.sampled_at)
	`
	_, err := p.db.SQLX().ExecContext(ctx, query,
		s.ChainID, s.Pair, s.Source, s.PriceChangeBps, bigToStr(s.Volume5m), s.UniqueTraders5m, s.SampledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert market signal: %w", err)
	}
	return nil
}

func (p *Postgres) BatchUpsertMarketSignals(ctx context.Context, signals []*models.MarketSignal) error {
	tx, err := p.db.SQLX().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO market_signals (chain_id, pair, source, price_change_bps, volume_5m, unique_traders_5m, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain_id, pair) DO UPDATE SET
			source = EXCLUDED.source,
			price_change_bps = EXCLUDED.price_change_bps,
			volume_5m = EXCLUDED.volume_5m,
			unique_traders_5m = EXCLUDED.unique_traders_5m,
			sampled_at = GREATEST(market_signals.sampled_at, EXCLUDED.sampled_at)
	`
	for _, s := range signals {
		if _, err := tx.ExecContext(ctx, query,
			s.ChainID, s.Pair, s.Source, s.PriceChangeBps, bigToStr(s.Volume5m), s.UniqueTraders5m, s.SampledAt,
		); err != nil {
			return fmt.Errorf("batch upsert market signal %s: %w", s.Pair, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) GetMarketSignal(ctx context.Context, chainID int64, pair string) (*models.MarketSignal, error) {
	const query = `
		SELECT chain_id, pair, source, price_change_bps, volume_5m, unique_traders_5m, sampled_at
		FROM market_signals WHERE chain_id = $1 AND pair = $2
	`
	var (
		row     models.MarketSignal
		volume5 string
	)
	err := p.db.SQLX().QueryRowxContext(ctx, query, chainID, pair).Scan(
		&row.ChainID, &row.Pair, &row.Source, &row.PriceChangeBps, &volume5, &row.UniqueTraders5m, &row.SampledAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market signal: %w", err)
	}
	row.Volume5m = strToBig(volume5)
	return &row, nil
}

// --- shadow metrics --------------------------------------------------------

func (p *Postgres) GetShadowMetrics(ctx context.Context, since time.Time, tokenID *big.Int) (*ShadowMetrics, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE shadow_compare IS NOT NULL) AS total_compared,
			count(*) FILTER (WHERE (shadow_compare->>'diverged')::boolean = true) AS diverged
		FROM runs WHERE created_at >= $1
	`
	args := []any{since}
	if tokenID != nil {
		query += " AND token_id = $2"
		args = append(args, tokenID.String())
	}

	var total, diverged int64
	if err := p.db.SQLX().QueryRowContext(ctx, query, args...).Scan(&total, &diverged); err != nil {
		return nil, fmt.Errorf("get shadow metrics: %w", err)
	}

	rate := 0.0
	if total > 0 {
		rate = float64(diverged) / float64(total)
	}
	return &ShadowMetrics{Since: since, TotalCompared: total, Diverged: diverged, DivergenceRate: rate}, nil
}

// --- safety configs / metrics ---------------------------------------------

func (p *Postgres) GetSafetyConfig(ctx context.Context, chainID int64, tokenID *big.Int) (*models.SafetyConfig, error) {
	const query = `
		SELECT max_trade_amount, max_daily_amount, allowed_tokens, blocked_tokens,
		       allowed_dexes, max_slippage_bps, cooldown_seconds, max_runs_per_day
		FROM user_safety_configs WHERE chain_id = $1 AND token_id = $2
	`
	var (
		maxTrade, maxDaily                string
		allowedTokens, blockedTokens, dex pq.StringArray
		maxSlippageBps, cooldown, maxRuns int
	)
	err := p.db.SQLX().QueryRowContext(ctx, query, chainID, tokenID.String()).Scan(
		&maxTrade, &maxDaily, &allowedTokens, &blockedTokens, &dex, &maxSlippageBps, &cooldown, &maxRuns,
	)
	if err == sql.ErrNoRows {
		return nil, nil // absent config is pass-through per §4.4
	}
	if err != nil {
		return nil, fmt.Errorf("get safety config: %w", err)
	}
	return &models.SafetyConfig{
		TokenID:         tokenID,
		MaxTradeAmount:  strToBig(maxTrade),
		MaxDailyAmount:  strToBig(maxDaily),
		AllowedTokens:   parseAddrSlice(allowedTokens),
		BlockedTokens:   parseAddrSlice(blockedTokens),
		AllowedDexes:    parseAddrSlice(dex),
		MaxSlippageBps:  maxSlippageBps,
		CooldownSeconds: cooldown,
		MaxRunsPerDay:   maxRuns,
	}, nil
}

func (p *Postgres) UpsertSafetyConfig(ctx context.Context, chainID int64, cfg *models.SafetyConfig) error {
	const query = `
		INSERT INTO user_safety_configs (
			chain_id, token_id, max_trade_amount, max_daily_amount, allowed_tokens,
			blocked_tokens, allowed_dexes, max_slippage_bps, cooldown_seconds, max_runs_per_day, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (chain_id, token_id) DO UPDATE SET
			max_trade_amount = EXCLUDED.max_trade_amount,
			max_daily_amount = EXCLUDED.max_daily_amount,
			allowed_tokens = EXCLUDED.allowed_tokens,
			blocked_tokens = EXCLUDED.blocked_tokens,
			allowed_dexes = EXCLUDED.allowed_dexes,
			max_slippage_bps = EXCLUDED.max_slippage_bps,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			max_runs_per_day = EXCLUDED.max_runs_per_day,
			updated_at = now()
	`
	_, err := p.db.SQLX().ExecContext(ctx, query,
		chainID, cfg.TokenID.String(), bigToStr(cfg.MaxTradeAmount), bigToStr(cfg.MaxDailyAmount),
		addrSlice(cfg.AllowedTokens), addrSlice(cfg.BlockedTokens), addrSlice(cfg.AllowedDexes),
		cfg.MaxSlippageBps, cfg.CooldownSeconds, cfg.MaxRunsPerDay,
	)
	if err != nil {
		return fmt.Errorf("upsert safety config: %w", err)
	}
	return nil
}

func (p *Postgres) GetSafetyMetrics(ctx context.Context, chainID int64, tokenID *big.Int, since time.Time) (*SafetyMetrics, error) {
	const query = `
		SELECT
			count(*),
			count(*) FILTER (WHERE error_code IS NOT NULL AND failure_category = 'business_rejected'),
			count(*) FILTER (WHERE violation_code LIKE 'SOFT_%'),
			count(*) FILTER (WHERE violation_code LIKE 'HARD_%'),
			count(*) FILTER (WHERE failure_category = 'infrastructure_error')
		FROM runs WHERE chain_id = $1 AND token_id = $2 AND created_at >= $3
	`
	m := &SafetyMetrics{TokenID: tokenID}
	err := p.db.SQLX().QueryRowContext(ctx, query, chainID, tokenID.String(), since).Scan(
		&m.TotalRuns, &m.Blocked, &m.SoftViolations, &m.HardViolations, &m.InfraFailures,
	)
	if err != nil {
		return nil, fmt.Errorf("get safety metrics: %w", err)
	}
	return m, nil
}

func (p *Postgres) GetSafetyTimeline(ctx context.Context, chainID int64, tokenID *big.Int, since time.Time, bucket time.Duration) ([]SafetyTimelineBucket, error) {
	const query = `
		SELECT
			to_timestamp(floor(extract(epoch from created_at) / $4) * $4) AS bucket_start,
			count(*) AS runs,
			count(*) FILTER (WHERE failure_category = 'business_rejected') AS blocked
		FROM runs WHERE chain_id = $1 AND token_id = $2 AND created_at >= $3
		GROUP BY bucket_start ORDER BY bucket_start ASC
	`
	rows, err := p.db.SQLX().QueryxContext(ctx, query, chainID, tokenID.String(), since, bucket.Seconds())
	if err != nil {
		return nil, fmt.Errorf("get safety timeline: %w", err)
	}
	defer rows.Close()

	var out []SafetyTimelineBucket
	for rows.Next() {
		var b SafetyTimelineBucket
		if err := rows.Scan(&b.BucketStart, &b.Runs, &b.Blocked); err != nil {
			return nil, fmt.Errorf("scan timeline bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) GetSafetyViolations(ctx context.Context, chainID int64, tokenID *big.Int, since time.Time, limit int) ([]*models.RunRecord, error) {
	const query = `
		SELECT id, chain_id, token_id, run_mode, action_type, action_hash,
		       tx_hash, simulate_ok, error, failure_category, error_code,
		       violation_code, decision_reason, decision_message, brain_type,
		       intent_type, gas_used, pnl_usd, execution_trace, shadow_compare, created_at
		FROM runs
		WHERE chain_id = $1 AND token_id = $2 AND created_at >= $3 AND violation_code IS NOT NULL
		ORDER BY created_at DESC LIMIT $4
	`
	rows, err := p.db.SQLX().QueryxContext(ctx, query, chainID, tokenID.String(), since, limit)
	if err != nil {
		return nil, fmt.Errorf("get safety violations: %w", err)
	}
	defer rows.Close()

	var out []*models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// --- blueprints ------------------------------------------------------------

func (p *Postgres) GetBlueprint(ctx context.Context, agentType string) (*models.Blueprint, error) {
	const query = `SELECT body FROM agent_blueprints WHERE agent_type = $1`
	var body []byte
	if err := p.db.SQLX().QueryRowContext(ctx, query, agentType).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("blueprint not found for agentType %s: %w", agentType, err)
		}
		return nil, fmt.Errorf("get blueprint: %w", err)
	}
	var bp models.Blueprint
	if err := json.Unmarshal(body, &bp); err != nil {
		return nil, fmt.Errorf("unmarshal blueprint: %w", err)
	}
	return &bp, nil
}

func (p *Postgres) UpsertBlueprint(ctx context.Context, bp *models.Blueprint) error {
	body, err := json.Marshal(bp)
	if err != nil {
		return fmt.Errorf("marshal blueprint: %w", err)
	}
	const query = `
		INSERT INTO agent_blueprints (agent_type, body, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (agent_type) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`
	if _, err := p.db.SQLX().ExecContext(ctx, query, bp.AgentType, body); err != nil {
		return fmt.Errorf("upsert blueprint: %w", err)
	}
	return nil
}
