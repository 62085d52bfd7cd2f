package runner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/internal/metrics"
	"github.com/nfa-labs/agentrunner/internal/retry"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/logger"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// CycleConfig carries the per-call timeouts and knobs the cognitive cycle
// needs, decoupled from internal/config so this package stays importable by
// tests without pulling in envconfig.
type CycleConfig struct {
	MemoryRecallLimit int
	MaxRunRecords     int
	ShadowEnabled     bool
	// ShadowExecuteTx is accepted for configuration completeness but the
	// cycle never submits the legacy (shadow) plan's transaction — §9's
	// "do not fork the chain call" design note overrides §4.7's more
	// permissive phrasing; see DESIGN.md.
	ShadowExecuteTx bool
	// RetryMaxAttempts/RetryBaseDelay drive withRetry (§7) around the
	// simulate/execute/verify chain calls, so a transient RPC failure
	// (§8 scenario 5: "429 twice then OK") resolves within one cycle
	// instead of producing a failed RunRecord per attempt.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

// Cycle runs the nine-stage pipeline of §4.2 for one agent.
type Cycle struct {
	store   store.Store
	chain   chainsvc.Chain
	primary *Planner
	legacy  *Planner
	cfg     CycleConfig
}

func NewCycle(st store.Store, chain chainsvc.Chain, cfg CycleConfig) *Cycle {
	return &Cycle{
		store:   st,
		chain:   chain,
		primary: NewPlanner(),
		legacy:  NewLegacyPlanner(),
		cfg:     cfg,
	}
}

// retryMaxAttempts defaults to 3 (§7's withRetry default) when unconfigured,
// rather than falling through to retry.Do with maxAttempts<=0, which would
// ask the backoff library to retry indefinitely.
func (c *Cycle) retryMaxAttempts() int {
	if c.cfg.RetryMaxAttempts > 0 {
		return c.cfg.RetryMaxAttempts
	}
	return 3
}

func (c *Cycle) retryBaseDelay() time.Duration {
	if c.cfg.RetryBaseDelay > 0 {
		return c.cfg.RetryBaseDelay
	}
	return 500 * time.Millisecond
}

// trace accumulates executionTrace entries for one run.
type trace struct {
	entries []models.TraceEntry
}

func (t *trace) add(stage string, status models.TraceStatus, note string, meta map[string]any) {
	t.entries = append(t.entries, models.TraceEntry{
		At:     time.Now(),
		Stage:  stage,
		Status: status,
		Note:   note,
		Meta:   meta,
	})
}

// Run executes one cognitive cycle for agent and returns the RunRecord to
// persist. It never returns a plain Go error for business/model failures —
// those are captured in the RunRecord itself; an error return means the
// cycle could not even be recorded (e.g. the DB write itself failed).
func (c *Cycle) Run(ctx context.Context, agent *Agent, rc *models.RuntimeContext) (*models.RunRecord, error) {
	tr := &trace{}
	run := &models.RunRecord{
		ID:      uuid.New().String(),
		ChainID: agent.ChainID,
		TokenID: agent.TokenID,
		RunMode: models.RunPrimary,
	}

	// 1. observe
	obs, err := agent.Perception.Observe(ctx, rc)
	if err != nil {
		return c.finishWithError(ctx, agent, run, tr, "observe", err)
	}
	if obs.Paused {
		tr.add("observe", models.TraceSkip, "agent paused on-chain", nil)
		return c.finishBlocked(ctx, agent, run, tr, "agent paused on-chain")
	}
	tr.add("observe", models.TraceOK, "", map[string]any{"blockNumber": obs.BlockNumber})

	// 2. propose
	memories, err := agent.Memory.Recall(ctx, c.cfg.MemoryRecallLimit)
	if err != nil {
		return c.finishWithError(ctx, agent, run, tr, "propose", err)
	}
	decision, err := agent.Brain.Think(ctx, obs, memories, agent.Actions)
	if err != nil {
		return c.finishWithError(ctx, agent, run, tr, "propose", err)
	}
	run.DecisionReason = decision.Reasoning
	if decision.Message != nil {
		run.DecisionMessage = *decision.Message
	}
	tr.add("propose", models.TraceOK, decision.Action, nil)

	// 3. plan (primary, plus legacy shadow comparison if enabled)
	plan := c.primary.BuildExecutionPlan(decision, agent.Actions)
	if c.cfg.ShadowEnabled {
		legacyPlan := c.legacy.BuildExecutionPlan(decision, agent.Actions)
		run.ShadowCompare = buildShadowCompare(plan, legacyPlan)
	}
	tr.add("plan", models.TraceOK, string(plan.Kind), nil)

	run.ActionType = plan.ActionName
	run.IntentType = string(plan.Kind)

	// 4. validate
	switch plan.Kind {
	case models.PlanBlocked:
		tr.add("validate", models.TraceBlocked, plan.Reason, nil)
		return c.finishPlanBlocked(ctx, agent, run, tr, plan)
	case models.PlanWait:
		tr.add("validate", models.TraceSkip, "no action this cycle", nil)
		run.IntentType = "wait"
		return c.finish(ctx, agent, run, tr, decision.NextCheckMs)
	case models.PlanReadonly:
		return c.runReadonly(ctx, agent, run, tr, plan, rc, decision.NextCheckMs)
	}

	// write plan continues to the guard stage
	action := findAction(agent.Actions, plan.ActionName)
	if action == nil {
		// Defensive: the planner already validated the action exists;
		// this can only happen if the agent's action set mutated
		// mid-cycle, which the singleflight lock should prevent.
		return c.finishWithError(ctx, agent, run, tr, "validate", fmt.Errorf("action %q vanished after planning", plan.ActionName))
	}

	// 5. guard
	ec := buildExecutionContext(agent, plan)
	tr.add("validate", models.TraceOK, "", nil)

	verdict, err := agent.Guardrails.Check(ctx, agent.ChainID, ec)
	if err != nil {
		return c.finishWithError(ctx, agent, run, tr, "guard", err)
	}
	if !verdict.OK {
		meta := map[string]any{}
		if verdict.Violation != nil {
			meta["violation"] = string(*verdict.Violation)
			run.ViolationCode = verdict.Violation
		}
		tr.add("guard", models.TraceBlocked, verdict.Reason, meta)
		if verdict.Violation != nil {
			c2, e2 := failure.FromViolation(*verdict.Violation)
			run.FailureCategory = &c2
			run.ErrorCode = &e2
		} else {
			c2, e2 := failure.FromBlockedReason(verdict.Reason)
			run.FailureCategory = &c2
			run.ErrorCode = &e2
		}
		run.Error = verdict.Reason
		return c.finish(ctx, agent, run, tr, decision.NextCheckMs)
	}
	tr.add("guard", models.TraceOK, "", nil)

	// encode payload from the action for simulate/execute
	to, data, value, err := action.Encode(plan.Params, rc)
	if err != nil {
		return c.finishWithError(ctx, agent, run, tr, "guard", err)
	}
	payload := &chainsvc.Payload{To: to, Data: data, Value: value, GasLimit: 0}

	// 6. simulate
	var sim *chainsvc.SimulateResult
	stats, err := retry.Do(ctx, c.retryMaxAttempts(), c.retryBaseDelay(), failure.FromError, func(ctx context.Context) error {
		var simErr error
		sim, simErr = c.chain.Simulate(ctx, payload)
		return simErr
	})
	metrics.RetryAttemptsTotal.WithLabelValues("cycle_simulate").Add(float64(stats.Attempts))
	if err != nil {
		return c.finishWithError(ctx, agent, run, tr, "simulate", err)
	}
	if !sim.OK {
		tr.add("simulate", models.TraceBlocked, sim.RevertReason, nil)
		cat, code := failure.BusinessRejected, failure.CodeChainReverted
		run.FailureCategory = &cat
		run.ErrorCode = &code
		run.Error = sim.RevertReason
		run.SimulateOk = false
		return c.finish(ctx, agent, run, tr, decision.NextCheckMs)
	}
	run.SimulateOk = true
	tr.add("simulate", models.TraceOK, "", map[string]any{"gasEstimate": sim.GasEstimate})

	// 7. execute
	var txHash common.Hash
	stats, err = retry.Do(ctx, c.retryMaxAttempts(), c.retryBaseDelay(), failure.FromError, func(ctx context.Context) error {
		var submitErr error
		txHash, submitErr = c.chain.Submit(ctx, payload)
		return submitErr
	})
	metrics.RetryAttemptsTotal.WithLabelValues("cycle_submit").Add(float64(stats.Attempts))
	if err != nil {
		return c.finishWithError(ctx, agent, run, tr, "execute", err)
	}
	run.TxHash = &txHash
	tr.add("execute", models.TraceOK, txHash.Hex(), nil)

	// 8. verify
	var receipt *chainsvc.Receipt
	stats, err = retry.Do(ctx, c.retryMaxAttempts(), c.retryBaseDelay(), failure.FromError, func(ctx context.Context) error {
		var receiptErr error
		receipt, receiptErr = c.chain.Receipt(ctx, txHash)
		return receiptErr
	})
	metrics.RetryAttemptsTotal.WithLabelValues("cycle_receipt").Add(float64(stats.Attempts))
	if err != nil {
		tr.add("verify", models.TraceError, err.Error(), nil)
		// A receipt-wait failure is infrastructural; the tx may still
		// land, but the cycle cannot confirm it this round.
		cat, code := failure.FromError(err)
		run.FailureCategory = &cat
		run.ErrorCode = &code
		run.Error = err.Error()
		return c.finish(ctx, agent, run, tr, decision.NextCheckMs)
	}
	gasUsed := receipt.GasUsed
	run.GasUsed = &gasUsed
	tr.add("verify", models.TraceOK, "", map[string]any{"status": receipt.Status})

	// 9. record
	return c.finish(ctx, agent, run, tr, decision.NextCheckMs)
}

func (c *Cycle) runReadonly(ctx context.Context, agent *Agent, run *models.RunRecord, tr *trace, plan *models.ExecutionPlan, rc *models.RuntimeContext, nextCheckMs *int64) (*models.RunRecord, error) {
	action := findAction(agent.Actions, plan.ActionName)
	if action == nil {
		return c.finishWithError(ctx, agent, run, tr, "validate", fmt.Errorf("action %q vanished after planning", plan.ActionName))
	}
	result, err := action.Execute(ctx, plan.Params, rc)
	if err != nil {
		tr.add("validate", models.TraceError, err.Error(), nil)
		cat, code := failure.FromError(err)
		run.FailureCategory = &cat
		run.ErrorCode = &code
		run.Error = err.Error()
		return c.finish(ctx, agent, run, tr, nextCheckMs)
	}
	tr.add("validate", models.TraceOK, "readonly action executed", nil)

	if err := agent.Memory.Append(ctx, &models.MemoryEntry{
		Timestamp: time.Now(),
		Type:      models.MemoryObservation,
		Action:    plan.ActionName,
		Result:    result,
	}); err != nil {
		logger.Error("appending readonly memory", zap.Error(err), zap.String("token_id", agent.TokenID.String()))
	}

	return c.finish(ctx, agent, run, tr, nextCheckMs)
}

func buildExecutionContext(agent *Agent, plan *models.ExecutionPlan) *models.ExecutionContext {
	ec := &models.ExecutionContext{
		Timestamp:  time.Now(),
		ActionName: plan.ActionName,
		Vault:      agent.Vault,
		TokenID:    agent.TokenID,
		AgentType:  agent.AgentType,
	}
	if v, ok := plan.Params["spendAmount"]; ok {
		ec.SpendAmount = toBigInt(v)
	}
	if v, ok := plan.Params["amountIn"]; ok {
		ec.AmountIn = toBigInt(v)
	}
	if v, ok := plan.Params["minOut"]; ok {
		ec.MinOut = toBigInt(v)
	}
	if v, ok := plan.Params["target"]; ok {
		if s, ok := v.(string); ok {
			ec.Target = common.HexToAddress(s)
		}
	}
	if v, ok := plan.Params["tokenOut"]; ok {
		if s, ok := v.(string); ok {
			ec.ActionTokens = append(ec.ActionTokens, common.HexToAddress(s))
		}
	}
	if v, ok := plan.Params["tokenIn"]; ok {
		if s, ok := v.(string); ok {
			ec.ActionTokens = append(ec.ActionTokens, common.HexToAddress(s))
		}
	}
	return ec
}

func toBigInt(v any) *big.Int {
	switch x := v.(type) {
	case string:
		n, ok := new(big.Int).SetString(x, 10)
		if !ok {
			return nil
		}
		return n
	case float64:
		return big.NewInt(int64(x))
	case int64:
		return big.NewInt(x)
	case int:
		return big.NewInt(int64(x))
	default:
		return nil
	}
}

func buildShadowCompare(primary, legacy *models.ExecutionPlan) *models.ShadowCompare {
	sc := &models.ShadowCompare{
		At:            time.Now(),
		PrimaryKind:   primary.Kind,
		LegacyKind:    legacy.Kind,
		PrimaryAction: primary.ActionName,
		LegacyAction:  legacy.ActionName,
	}
	sc.PrimaryErrorCode = primary.ErrorCode
	sc.LegacyErrorCode = legacy.ErrorCode

	sc.Diverged = sc.PrimaryKind != sc.LegacyKind ||
		sc.PrimaryAction != sc.LegacyAction ||
		!sameCodePtr(sc.PrimaryErrorCode, sc.LegacyErrorCode)
	if sc.Diverged {
		sc.Reason = "primary and legacy planner disagree"
	}
	return sc
}

func sameCodePtr(a, b *failure.Code) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// finish runs the record stage unconditionally (success, blocked, or error
// already captured on run) and persists it: it appends a memory entry,
// records the run, then updates strategy counters, each as its own store
// call rather than one shared transaction. Only a run whose plan was
// actually a write (run.IntentType == "write") gets a MemoryExecution entry
// — internal/risk/soft.go's executionStatsForToday counts exactly those for
// SOFT_MAX_RUNS_PER_DAY/SOFT_COOLDOWN, so a wait or blocked cycle must never
// masquerade as an execution. Readonly cycles already append their own
// MemoryObservation entry in runReadonly before reaching here.
func (c *Cycle) finish(ctx context.Context, agent *Agent, run *models.RunRecord, tr *trace, nextCheckMs *int64) (*models.RunRecord, error) {
	run.ExecutionTrace = tr.entries
	run.CreatedAt = time.Now()

	success := run.Error == "" && run.FailureCategory == nil
	switch run.IntentType {
	case string(models.PlanWrite):
		if err := agent.Memory.Append(ctx, &models.MemoryEntry{
			Timestamp: run.CreatedAt,
			Type:      models.MemoryExecution,
			Action:    run.ActionType,
			Reasoning: run.DecisionReason,
			Result:    &models.ExecutionResult{Success: success, TxHash: run.TxHash, Error: run.Error},
		}); err != nil {
			logger.Error("appending execution memory", zap.Error(err))
		}
	case string(models.PlanReadonly):
		// already recorded by runReadonly.
	default:
		kind := models.MemoryDecision
		if !success {
			kind = models.MemoryBlocked
		}
		if err := agent.Memory.Append(ctx, &models.MemoryEntry{
			Timestamp: run.CreatedAt,
			Type:      kind,
			Action:    run.ActionType,
			Reasoning: run.DecisionReason,
		}); err != nil {
			logger.Error("appending decision memory", zap.Error(err))
		}
	}

	if err := c.store.RecordRun(ctx, run, c.cfg.MaxRunRecords); err != nil {
		return run, fmt.Errorf("recording run: %w", err)
	}
	tr.add("record", models.TraceOK, "", nil)
	run.ExecutionTrace = tr.entries

	if err := c.updateStrategyCounters(ctx, agent, run, success, nextCheckMs); err != nil {
		logger.Error("updating strategy counters", zap.Error(err), zap.String("token_id", agent.TokenID.String()))
	}

	return run, nil
}

// updateStrategyCounters advances lastRunAt/failureCount/dailyRunsUsed/
// lastError per §4.2 stage 9; dailyValueUsed is only reset to zero on a new
// budget day, never incremented. nextCheckAt is left to the
// scheduler, which alone knows minIntervalMs and the backoff state (§4.1).
func (c *Cycle) updateStrategyCounters(ctx context.Context, agent *Agent, run *models.RunRecord, success bool, nextCheckMs *int64) error {
	cfg, err := c.store.GetStrategy(ctx, agent.ChainID, agent.TokenID)
	if err != nil {
		return fmt.Errorf("loading strategy for counter update: %w", err)
	}
	if cfg == nil {
		return nil
	}

	now := run.CreatedAt
	if !isSameUTCDay(cfg.BudgetDay, now) {
		cfg.DailyRunsUsed = 0
		cfg.DailyValueUsed = big.NewInt(0)
		cfg.BudgetDay = now
	}

	cfg.LastRunAt = &now
	cfg.DailyRunsUsed++
	if success {
		cfg.FailureCount = 0
		cfg.LastError = ""
	} else {
		cfg.FailureCount++
		cfg.LastError = run.Error
	}
	// dailyValueUsed is not cached here: the soft policy re-derives
	// todaySpent directly from the memory log each cycle (§4.4), so this
	// counter only needs to track run counts and failure streaks.

	return c.store.UpsertStrategy(ctx, agent.ChainID, cfg)
}

func isSameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func (c *Cycle) finishBlocked(ctx context.Context, agent *Agent, run *models.RunRecord, tr *trace, reason string) (*models.RunRecord, error) {
	cat, code := failure.FromBlockedReason(reason)
	run.FailureCategory = &cat
	run.ErrorCode = &code
	run.Error = reason
	run.IntentType = "wait"
	return c.finish(ctx, agent, run, tr, nil)
}

func (c *Cycle) finishPlanBlocked(ctx context.Context, agent *Agent, run *models.RunRecord, tr *trace, plan *models.ExecutionPlan) (*models.RunRecord, error) {
	run.FailureCategory = plan.FailureCategory
	run.ErrorCode = plan.ErrorCode
	run.Error = plan.Reason
	return c.finish(ctx, agent, run, tr, nil)
}

func (c *Cycle) finishWithError(ctx context.Context, agent *Agent, run *models.RunRecord, tr *trace, stage string, err error) (*models.RunRecord, error) {
	cat, code := failure.FromError(err)
	tr.add(stage, models.TraceError, err.Error(), nil)
	run.FailureCategory = &cat
	run.ErrorCode = &code
	run.Error = err.Error()
	return c.finish(ctx, agent, run, tr, nil)
}
