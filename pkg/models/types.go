// Package models holds the data model shared across agentrunner: the
// structs persisted by internal/store and passed between the scheduler,
// cognitive cycle, planner, and guardrail pipeline. Amounts are always
// wei-denominated *big.Int — never float64 — per the on-chain redesign
// flag; decimal.Decimal is reserved for formatting at the edge.
package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/agentrunner/internal/failure"
)

// TraceStatus is the outcome of one cognitive-cycle stage.
type TraceStatus string

const (
	TraceOK      TraceStatus = "ok"
	TraceSkip    TraceStatus = "skip"
	TraceBlocked TraceStatus = "blocked"
	TraceError   TraceStatus = "error"
)

// TraceEntry is one stage of a cycle's executionTrace.
type TraceEntry struct {
	At     time.Time      `json:"at"`
	Stage  string         `json:"stage"`
	Status TraceStatus    `json:"status"`
	Note   string         `json:"note,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// PlanKind is the outcome kind of an ExecutionPlan.
type PlanKind string

const (
	PlanWait     PlanKind = "wait"
	PlanReadonly PlanKind = "readonly"
	PlanWrite    PlanKind = "write"
	PlanBlocked  PlanKind = "blocked"
)

// RunMode distinguishes the primary (submitted) run from a shadow (recorded,
// never submitted) comparison run.
type RunMode string

const (
	RunPrimary RunMode = "primary"
	RunShadow  RunMode = "shadow"
)

// MemoryKind enumerates the append-only MemoryEntry.Type values.
type MemoryKind string

const (
	MemoryExecution   MemoryKind = "execution"
	MemoryDecision    MemoryKind = "decision"
	MemoryBlocked     MemoryKind = "blocked"
	MemoryObservation MemoryKind = "observation"
	MemoryGoal        MemoryKind = "goal"
	MemoryUserMessage MemoryKind = "user_message"
	MemoryAgentReply  MemoryKind = "agent_reply"
)

// Blueprint is the assembly template keyed by agentType: which capability
// factories the AgentFactory should resolve to build an Agent.
type Blueprint struct {
	LLMConfig  *LLMConfig `json:"llmConfig,omitempty"`
	AgentType  string     `json:"agentType"`
	Brain      string     `json:"brain"`
	Perception string     `json:"perception"`
	Actions    []string   `json:"actions"`
	Guardrails string     `json:"guardrails"`
	Memory     string     `json:"memory"`
}

// LLMConfig carries brain-specific configuration through to BrainFactoryContext.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// ChainAgentData is the on-chain metadata the factory reads to assemble an Agent.
type ChainAgentData struct {
	StrategyParams map[string]any `json:"strategyParams,omitempty"`
	TokenID        *big.Int       `json:"tokenId"`
	AgentType      string         `json:"agentType"`
	Owner          common.Address `json:"owner"`
	Renter         common.Address `json:"renter"`
	Vault          common.Address `json:"vault"`
	ChainID        int64          `json:"chainId"`
}

// StrategyConfig is the per-agent persisted row described in spec §3.
type StrategyConfig struct {
	LastRunAt               *time.Time     `json:"lastRunAt,omitempty"`
	NextCheckAt             time.Time      `json:"nextCheckAt"`
	CreatedAt               time.Time      `json:"createdAt"`
	UpdatedAt               time.Time      `json:"updatedAt"`
	BudgetDay               time.Time      `json:"budgetDay"`
	Target                  common.Address `json:"target"`
	TokenID                 *big.Int       `json:"tokenId"`
	Value                   *big.Int       `json:"value"`
	DailyValueUsed          *big.Int       `json:"dailyValueUsed"`
	StrategyType            string         `json:"strategyType"`
	Data                    []byte         `json:"data"`
	LastError               string         `json:"lastError,omitempty"`
	StrategyParams          map[string]any `json:"strategyParams,omitempty"`
	ChainID                 int64          `json:"chainId"`
	MinIntervalMs           int64          `json:"minIntervalMs"`
	MaxFailures             int            `json:"maxFailures"`
	FailureCount            int            `json:"failureCount"`
	DailyRunsUsed           int            `json:"dailyRunsUsed"`
	RequirePositiveBalance  bool           `json:"requirePositiveBalance"`
	Enabled                 bool           `json:"enabled"`
}

// Observation is the immutable perception snapshot for one cycle.
type Observation struct {
	Timestamp         time.Time                  `json:"timestamp"`
	Vault             common.Address             `json:"vault"`
	Prices            map[common.Address]float64 `json:"prices"`
	VaultTokenBalance map[common.Address]*big.Int `json:"vaultTokenBalances"`
	NativeBalance     *big.Int                   `json:"nativeBalance"`
	GasPrice          *big.Int                   `json:"gasPrice"`
	BlockNumber       uint64                     `json:"blockNumber"`
	Paused            bool                       `json:"paused"`
}

// ExecutionResult is the outcome embedded in a MemoryEntry for executed actions.
type ExecutionResult struct {
	TxHash  *common.Hash `json:"txHash,omitempty"`
	Error   string       `json:"error,omitempty"`
	Success bool         `json:"success"`
}

// MemoryEntry is one append-only row of per-agent history.
type MemoryEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	Result    *ExecutionResult `json:"result,omitempty"`
	Type      MemoryKind       `json:"type"`
	Action    string           `json:"action,omitempty"`
	Reasoning string           `json:"reasoning,omitempty"`
	Params    map[string]any   `json:"params,omitempty"`
}

// Decision is what a Brain proposes after observing the world.
type Decision struct {
	NextCheckMs *int64         `json:"nextCheckMs,omitempty"`
	Message     *string        `json:"message,omitempty"`
	BlockReason *string        `json:"blockReason,omitempty"`
	Action      string         `json:"action"`
	Reasoning   string         `json:"reasoning"`
	Params      map[string]any `json:"params,omitempty"`
	Confidence  float64        `json:"confidence"`
	Done        bool           `json:"done,omitempty"`
	Blocked     bool           `json:"blocked,omitempty"`
}

// ExecutionPlan is the planner's typed, validated mapping of a Decision.
type ExecutionPlan struct {
	ActionModule    *string           `json:"actionModule,omitempty"`
	FailureCategory *failure.Category `json:"failureCategory,omitempty"`
	ErrorCode       *failure.Code     `json:"errorCode,omitempty"`
	Kind            PlanKind          `json:"kind"`
	ActionName      string         `json:"actionName,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
}

// ExecutionContext is the guardrail pipeline's input, derived from the plan's
// action and params immediately before the guard stage.
type ExecutionContext struct {
	Timestamp    time.Time        `json:"timestamp"`
	ActionName   string           `json:"actionName,omitempty"`
	Vault        common.Address   `json:"vault"`
	TokenID      *big.Int         `json:"tokenId"`
	SpendAmount  *big.Int         `json:"spendAmount,omitempty"`
	AmountIn     *big.Int         `json:"amountIn,omitempty"`
	MinOut       *big.Int         `json:"minOut,omitempty"`
	ActionTokens []common.Address `json:"actionTokens,omitempty"`
	Target       common.Address   `json:"target,omitempty"`
	AgentType    string           `json:"agentType"`
}

// RuntimeContext carries runtime-internal data (formerly the __-prefixed
// param keys) to action executors alongside their declared params.
type RuntimeContext struct {
	Vault         common.Address   `json:"vault"`
	Pool          common.Address   `json:"pool"`
	TokenID       *big.Int         `json:"tokenId"`
	NativeBalance *big.Int         `json:"nativeBalance"`
	VaultTokens   []common.Address `json:"vaultTokens"`
	Cadence       time.Duration    `json:"cadence"`
}

// ShadowCompare records a primary-vs-legacy planner divergence.
type ShadowCompare struct {
	At                time.Time     `json:"at"`
	Reason            string        `json:"reason,omitempty"`
	PrimaryKind       PlanKind      `json:"primaryKind"`
	LegacyKind        PlanKind      `json:"legacyKind"`
	PrimaryAction     string        `json:"primaryAction"`
	LegacyAction      string        `json:"legacyAction"`
	PrimaryErrorCode  *failure.Code `json:"primaryErrorCode,omitempty"`
	LegacyErrorCode   *failure.Code `json:"legacyErrorCode,omitempty"`
	Diverged          bool          `json:"diverged"`
}

// RunRecord is the persisted outcome of one cognitive cycle.
type RunRecord struct {
	CreatedAt       time.Time              `json:"createdAt"`
	TxHash          *common.Hash           `json:"txHash,omitempty"`
	FailureCategory *failure.Category      `json:"failureCategory,omitempty"`
	ErrorCode       *failure.Code          `json:"errorCode,omitempty"`
	ViolationCode   *failure.ViolationCode `json:"violationCode,omitempty"`
	GasUsed         *uint64                `json:"gasUsed,omitempty"`
	PnLUsd          *float64               `json:"pnlUsd,omitempty"`
	ShadowCompare   *ShadowCompare         `json:"shadowCompare,omitempty"`
	BrainType       string                 `json:"brainType,omitempty"`
	IntentType      string                 `json:"intentType,omitempty"`
	ID              string                 `json:"id"`
	ActionType      string                 `json:"actionType"`
	ActionHash      string                 `json:"actionHash"`
	Error           string                 `json:"error,omitempty"`
	DecisionReason  string                 `json:"decisionReason,omitempty"`
	DecisionMessage string                 `json:"decisionMessage,omitempty"`
	RunMode         RunMode                `json:"runMode"`
	TokenID         *big.Int               `json:"tokenId"`
	ExecutionTrace  []TraceEntry           `json:"executionTrace"`
	ChainID         int64                  `json:"chainId"`
	SimulateOk      bool                   `json:"simulateOk"`
}

// MarketSignal is one sampled signal row, unique by (ChainID, Pair).
type MarketSignal struct {
	SampledAt        time.Time `json:"sampledAt"`
	Pair             string    `json:"pair"`
	Source           string    `json:"source"`
	ChainID          int64     `json:"chainId"`
	PriceChangeBps   int64     `json:"priceChangeBps"`
	Volume5m         *big.Int `json:"volume5m"`
	UniqueTraders5m  int64     `json:"uniqueTraders5m"`
}

// SafetyConfig is the soft-policy guardrail configuration for one agent.
type SafetyConfig struct {
	TokenID         *big.Int         `json:"tokenId"`
	MaxTradeAmount  *big.Int         `json:"maxTradeAmount"`
	MaxDailyAmount  *big.Int         `json:"maxDailyAmount"`
	AllowedTokens   []common.Address `json:"allowedTokens"`
	BlockedTokens   []common.Address `json:"blockedTokens"`
	AllowedDexes    []common.Address `json:"allowedDexes"`
	MaxSlippageBps  int              `json:"maxSlippageBps"`
	CooldownSeconds int              `json:"cooldownSeconds"`
	MaxRunsPerDay   int              `json:"maxRunsPerDay"`
}
