package engine

import "time"

// Action is the corrective action a violation asks for.
type Action string

const (
	ActionFlatten       Action = "flatten"
	ActionReduceToLimit Action = "reduce_to_limit"
	ActionClosePosition Action = "close_position"
	ActionCooldown      Action = "cooldown"
	ActionBlock         Action = "block"
)

// actionPriority orders corrective actions, lower is more restrictive. A
// flatten subsumes a pending cooldown, never the other way around, so the
// most restrictive action is enforced first.
var actionPriority = map[Action]int{
	ActionFlatten:       1,
	ActionReduceToLimit: 2,
	ActionClosePosition: 3,
	ActionCooldown:      4,
	ActionBlock:         5,
}

// Priority returns the action's rank, lower is more restrictive. Unknown
// actions sort last.
func (a Action) Priority() int {
	if p, ok := actionPriority[a]; ok {
		return p
	}
	return len(actionPriority) + 1
}

// Violation is the transient result of one rule detecting a policy breach on
// one event. It is never persisted; lockout records capture any durable
// consequence.
type Violation struct {
	RuleName  string
	Message   string
	AccountID string
	Action    Action

	// Action-specific detail.
	Limit            float64
	Current          float64
	CooldownDuration time.Duration
	LockUntil        *time.Time
	HardLock         bool
	Symbol           string
	ContractID       string
	TargetSize       int
}

// Fields renders the violation as the flat mapping handed to external
// enforcement collaborators.
func (v Violation) Fields() map[string]any {
	f := map[string]any{
		"rule":       v.RuleName,
		"message":    v.Message,
		"account_id": v.AccountID,
		"action":     string(v.Action),
	}
	if v.Limit != 0 {
		f["limit"] = v.Limit
	}
	if v.Current != 0 {
		f["current_value"] = v.Current
	}
	if v.CooldownDuration > 0 {
		f["cooldown_duration"] = v.CooldownDuration.Seconds()
	}
	if v.Symbol != "" {
		f["symbol"] = v.Symbol
	}
	if v.TargetSize != 0 {
		f["target_size"] = v.TargetSize
	}
	return f
}
