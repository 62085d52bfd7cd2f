// Package failure implements the failure taxonomy: every error the core
// produces is classified into exactly one (Category, Code) pair so the
// retry layer and the persisted RunRecord can reason about it uniformly.
package failure

import "strings"

// Category is the top-level failure bucket. Only Infrastructure is retryable.
type Category string

const (
	ModelOutputError   Category = "model_output_error"
	BusinessRejected   Category = "business_rejected"
	InfrastructureError Category = "infrastructure_error"
)

// Code is a machine-readable identifier within a Category.
type Code string

const (
	// model_output_error
	CodeUnknownAction         Code = "MODEL_UNKNOWN_ACTION"
	CodeSchemaValidationFailed Code = "MODEL_SCHEMA_VALIDATION_FAILED"
	CodeLowConfidence         Code = "MODEL_LOW_CONFIDENCE"

	// business_rejected
	CodeAgentPaused       Code = "BUSINESS_AGENT_PAUSED"
	CodeCircuitBreaker    Code = "BUSINESS_CIRCUIT_BREAKER"
	CodeChainReverted     Code = "BUSINESS_CHAIN_REVERTED"
	CodeUnauthorized      Code = "BUSINESS_UNAUTHORIZED"
	CodeInsufficientGas   Code = "BUSINESS_INSUFFICIENT_GAS"
	CodeInsufficientFunds Code = "BUSINESS_INSUFFICIENT_FUNDS"

	CodePolicyAllowedDex      Code = "BUSINESS_POLICY_ALLOWED_DEX"
	CodePolicyMaxTradeAmount  Code = "BUSINESS_POLICY_MAX_TRADE_AMOUNT"
	CodePolicyCooldown        Code = "BUSINESS_POLICY_COOLDOWN"
	CodePolicyMaxRunsPerDay   Code = "BUSINESS_POLICY_MAX_RUNS_PER_DAY"
	CodePolicyMaxDailyAmount  Code = "BUSINESS_POLICY_MAX_DAILY_AMOUNT"
	CodePolicyAllowedTokens   Code = "BUSINESS_POLICY_ALLOWED_TOKENS"
	CodePolicyBlockedTokens   Code = "BUSINESS_POLICY_BLOCKED_TOKENS"
	CodePolicyMaxSlippageBps  Code = "BUSINESS_POLICY_MAX_SLIPPAGE_BPS"
	CodeHardPolicyRejected    Code = "BUSINESS_HARD_POLICY_REJECTED"
	CodeHardSimulationReverted Code = "BUSINESS_HARD_SIMULATION_REVERTED"

	// infrastructure_error
	CodeRateLimited     Code = "INFRA_RATE_LIMITED"
	CodeTimeout         Code = "INFRA_TIMEOUT"
	CodeNetwork         Code = "INFRA_NETWORK"
	CodeRuntimeException Code = "INFRA_RUNTIME_EXCEPTION"
)

// ViolationCode is the guardrail-layer identifier (§4.4), mapped 1:1 onto a
// business_rejected Code by FromViolation.
type ViolationCode string

const (
	SoftAllowedDex      ViolationCode = "SOFT_ALLOWED_DEX"
	SoftMaxTradeAmount  ViolationCode = "SOFT_MAX_TRADE_AMOUNT"
	SoftCooldown        ViolationCode = "SOFT_COOLDOWN"
	SoftMaxRunsPerDay   ViolationCode = "SOFT_MAX_RUNS_PER_DAY"
	SoftMaxDailyAmount  ViolationCode = "SOFT_MAX_DAILY_AMOUNT"
	SoftAllowedTokens   ViolationCode = "SOFT_ALLOWED_TOKENS"
	SoftBlockedTokens   ViolationCode = "SOFT_BLOCKED_TOKENS"
	SoftMaxSlippageBps  ViolationCode = "SOFT_MAX_SLIPPAGE_BPS"
	HardPolicyRejected    ViolationCode = "HARD_POLICY_REJECTED"
	HardSimulationReverted ViolationCode = "HARD_SIMULATION_REVERTED"
)

var violationTable = map[ViolationCode]struct {
	category Category
	code     Code
}{
	SoftAllowedDex:         {BusinessRejected, CodePolicyAllowedDex},
	SoftMaxTradeAmount:     {BusinessRejected, CodePolicyMaxTradeAmount},
	SoftCooldown:           {BusinessRejected, CodePolicyCooldown},
	SoftMaxRunsPerDay:      {BusinessRejected, CodePolicyMaxRunsPerDay},
	SoftMaxDailyAmount:     {BusinessRejected, CodePolicyMaxDailyAmount},
	SoftAllowedTokens:      {BusinessRejected, CodePolicyAllowedTokens},
	SoftBlockedTokens:      {BusinessRejected, CodePolicyBlockedTokens},
	SoftMaxSlippageBps:     {BusinessRejected, CodePolicyMaxSlippageBps},
	HardPolicyRejected:     {BusinessRejected, CodeHardPolicyRejected},
	HardSimulationReverted: {BusinessRejected, CodeHardSimulationReverted},
}

// FromViolation maps a guardrail violation code to its (category, code) pair.
// Totality: any ViolationCode not in the table still resolves, defensively,
// to (BusinessRejected, CodeHardPolicyRejected) rather than a zero value.
func FromViolation(v ViolationCode) (Category, Code) {
	if entry, ok := violationTable[v]; ok {
		return entry.category, entry.code
	}
	return BusinessRejected, CodeHardPolicyRejected
}

// blockedReasonRule is one substring rule; rules are scanned in order and
// the first match wins, matching spec §4.6's documented priority.
type blockedReasonRule struct {
	substr   string
	category Category
	code     Code
}

var blockedReasonRules = []blockedReasonRule{
	{"unknown action", ModelOutputError, CodeUnknownAction},
	{"invalid action params", ModelOutputError, CodeSchemaValidationFailed},
	{"schema validation", ModelOutputError, CodeSchemaValidationFailed},
	{"confidence", ModelOutputError, CodeLowConfidence},
	{"paused on-chain", BusinessRejected, CodeAgentPaused},
	{"circuit breaker", BusinessRejected, CodeCircuitBreaker},
	{"safety policy", BusinessRejected, CodeHardPolicyRejected},
	{"policy violation", BusinessRejected, CodeHardPolicyRejected},
	{"unauthorized", BusinessRejected, CodeUnauthorized},
	{"insufficient gas", BusinessRejected, CodeInsufficientGas},
	{"insufficient funds", BusinessRejected, CodeInsufficientFunds},
	{"insufficient balance", BusinessRejected, CodeInsufficientFunds},
	{"not enough balance", BusinessRejected, CodeInsufficientFunds},
	{"execution reverted", BusinessRejected, CodeChainReverted},
	{"reverted", BusinessRejected, CodeChainReverted},
}

// FromBlockedReason classifies a "blocked" decision/plan reason string.
// Totality: no rule matches → (InfrastructureError, CodeRuntimeException).
func FromBlockedReason(reason string) (Category, Code) {
	lower := strings.ToLower(reason)
	for _, rule := range blockedReasonRules {
		if strings.Contains(lower, rule.substr) {
			return rule.category, rule.code
		}
	}
	return InfrastructureError, CodeRuntimeException
}

// errorRule is scanned before blockedReasonRules for arbitrary error messages,
// adding infra-specific patterns absent from the blocked-reason vocabulary.
var errorRules = []blockedReasonRule{
	{"rate limit", InfrastructureError, CodeRateLimited},
	{"429", InfrastructureError, CodeRateLimited},
	{"too many requests", InfrastructureError, CodeRateLimited},
	{"timeout", InfrastructureError, CodeTimeout},
	{"deadline exceeded", InfrastructureError, CodeTimeout},
	{"context canceled", InfrastructureError, CodeTimeout},
	{"connection refused", InfrastructureError, CodeNetwork},
	{"no such host", InfrastructureError, CodeNetwork},
	{"network", InfrastructureError, CodeNetwork},
	{"eof", InfrastructureError, CodeNetwork},
}

// FromError classifies an arbitrary error message: infra patterns are
// checked first (order matters, first match wins), then the blocked-reason
// vocabulary, and finally the InfrastructureError default — any raw error
// entering the core always resolves to exactly one (category, code).
func FromError(err error) (Category, Code) {
	if err == nil {
		return InfrastructureError, CodeRuntimeException
	}
	lower := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		if strings.Contains(lower, rule.substr) {
			return rule.category, rule.code
		}
	}
	for _, rule := range blockedReasonRules {
		if strings.Contains(lower, rule.substr) {
			return rule.category, rule.code
		}
	}
	return InfrastructureError, CodeRuntimeException
}

// Retryable reports whether a failure category should be retried by withRetry.
// Only infrastructure failures are retryable; business and model failures
// never are.
func Retryable(c Category) bool {
	return c == InfrastructureError
}

// UserMessage derives a safe, generic user-visible message from a raw error,
// by pattern substitution — raw RPC URLs, stack traces, and internal codes
// never appear in user-visible output.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "Network is busy, please try again shortly."
	case strings.Contains(lower, "reverted"):
		return "Transaction was rejected by the contract."
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "The request took too long and was cancelled."
	default:
		return "An unexpected error occurred; the agent will retry."
	}
}
