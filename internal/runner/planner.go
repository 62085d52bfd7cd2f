package runner

import (
	"fmt"
	"strings"

	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// Planner is the pure, deterministic Decision -> ExecutionPlan mapping of
// §4.3. It never touches the network, the clock, or persisted state: given
// the same Decision and action set it always returns an equal plan, which is
// the "Planner determinism" testable property of §8.
type Planner struct {
	// validateSchema toggles the params-against-schema validation step. The
	// canonical planner always validates; the legacy planner (used only as
	// the shadow-mode comparison arm) never did, so NewLegacyPlanner turns
	// it off to reproduce that historical behavior exactly.
	validateSchema bool
}

// NewPlanner returns the canonical planner used on the primary execution path.
func NewPlanner() *Planner {
	return &Planner{validateSchema: true}
}

// NewLegacyPlanner returns the pre-schema-validation planner kept only for
// shadow-mode comparison against the canonical planner (§4.7).
func NewLegacyPlanner() *Planner {
	return &Planner{validateSchema: false}
}

// BuildExecutionPlan maps a Decision onto an ExecutionPlan given the actions
// available to the agent that produced it. Rule order (first match wins):
//  1. decision.Blocked -> blocked, carrying the decision's reason
//  2. decision.Done, decision.Action == "" or "wait" -> wait (nothing proposed this cycle)
//  3. action not found in the available set -> blocked, MODEL_UNKNOWN_ACTION
//  4. schema validation of decision.Params against the action's declared
//     fields, exempting any key with a "__" prefix (runtime-internal) -> on
//     failure, blocked, MODEL_SCHEMA_VALIDATION_FAILED
//  5. otherwise -> readonly or write, according to the action's own Readonly flag
func (p *Planner) BuildExecutionPlan(decision *models.Decision, actions []Action) *models.ExecutionPlan {
	if decision.Blocked {
		return blockedPlan(decision, actions)
	}

	if decision.Done || decision.Action == "" || decision.Action == "wait" {
		return &models.ExecutionPlan{Kind: models.PlanWait, Reason: "no action proposed this cycle"}
	}

	action := findAction(actions, decision.Action)
	if action == nil {
		return &models.ExecutionPlan{
			Kind:            models.PlanBlocked,
			ActionName:      decision.Action,
			Reason:          fmt.Sprintf("unknown action %q", decision.Action),
			FailureCategory: categoryPtr(failure.ModelOutputError),
			ErrorCode:       codePtr(failure.CodeUnknownAction),
		}
	}

	if p.validateSchema {
		if reason, ok := validateParams(action.ParametersSchema(), decision.Params); !ok {
			return &models.ExecutionPlan{
				Kind:            models.PlanBlocked,
				ActionName:      decision.Action,
				Reason:          reason,
				FailureCategory: categoryPtr(failure.ModelOutputError),
				ErrorCode:       codePtr(failure.CodeSchemaValidationFailed),
			}
		}
	}

	kind := models.PlanWrite
	if action.Readonly() {
		kind = models.PlanReadonly
	}

	module := action.Name()
	return &models.ExecutionPlan{
		Kind:         kind,
		ActionModule: &module,
		ActionName:   decision.Action,
		Params:       decision.Params,
	}
}

func blockedPlan(decision *models.Decision, actions []Action) *models.ExecutionPlan {
	reason := "blocked"
	if decision.BlockReason != nil && *decision.BlockReason != "" {
		reason = *decision.BlockReason
	}
	cat, code := failure.FromBlockedReason(reason)
	return &models.ExecutionPlan{
		Kind:            models.PlanBlocked,
		ActionName:      decision.Action,
		Reason:          reason,
		FailureCategory: categoryPtr(cat),
		ErrorCode:       codePtr(code),
	}
}

func findAction(actions []Action, name string) Action {
	for _, a := range actions {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// validateParams checks that every required field is present and, for every
// present field, that its declared type loosely matches. Keys with a "__"
// prefix are runtime-internal (threaded via RuntimeContext, not the model's
// output) and are never validated or rejected as unexpected.
func validateParams(schema []ParamField, params map[string]any) (string, bool) {
	declared := make(map[string]ParamField, len(schema))
	for _, f := range schema {
		declared[f.Name] = f
	}

	for _, f := range schema {
		v, present := params[f.Name]
		if !present {
			if f.Required {
				return fmt.Sprintf("missing required param %q", f.Name), false
			}
			continue
		}
		if reason, ok := checkType(f, v); !ok {
			return reason, false
		}
	}

	for k := range params {
		if strings.HasPrefix(k, "__") {
			continue
		}
		if _, ok := declared[k]; !ok {
			return fmt.Sprintf("unexpected param %q not in action schema", k), false
		}
	}

	return "", true
}

func checkType(f ParamField, v any) (string, bool) {
	switch f.Type {
	case ParamString:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("param %q must be a string", f.Name), false
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return fmt.Sprintf("param %q must be one of %v", f.Name, f.Enum), false
		}
	case ParamNumber:
		switch v.(type) {
		case float64, float32, int, int64, string:
			// string is accepted for wei-denominated big.Int values encoded
			// as base-10 text in the decision payload.
		default:
			return fmt.Sprintf("param %q must be numeric", f.Name), false
		}
	case ParamBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("param %q must be a bool", f.Name), false
		}
	case ParamAddress:
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "0x") {
			return fmt.Sprintf("param %q must be a 0x-prefixed address", f.Name), false
		}
	}
	return "", true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func categoryPtr(c failure.Category) *failure.Category { return &c }
func codePtr(c failure.Code) *failure.Code              { return &c }
