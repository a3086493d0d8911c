package run

import "time"

// Run is the persisted record of one call attempt and its lifecycle state.
//
// Lifecycle invariants:
//   - State only moves forward: initialized -> running -> completed.
//   - IsCompleted is true iff State == StateCompleted.
//   - InitialContext is written at creation and only merged once more, at
//     media-session start (stream identifiers). Everything learned later goes
//     into GatheredContext.
type Run struct {
	ID         int64  `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	WorkflowID int64  `json:"workflow_id" db:"workflow_id"`
	UserID     int64  `json:"user_id" db:"user_id"`

	// Mode is the telephony provider tag the run was created under.
	Mode string `json:"mode" db:"mode"`

	State    State    `json:"state" db:"state"`
	CallType CallType `json:"call_type" db:"call_type"`

	InitialContext  map[string]any `json:"initial_context" db:"initial_context"`
	GatheredContext map[string]any `json:"gathered_context" db:"gathered_context"`
	CostInfo        map[string]any `json:"cost_info" db:"cost_info"`

	// Logs holds named log streams, e.g. the vendor status-callback history
	// under LogStreamStatusCallbacks.
	Logs map[string][]map[string]any `json:"logs" db:"logs"`

	CampaignID  *int64 `json:"campaign_id,omitempty" db:"campaign_id"`
	QueuedRunID *int64 `json:"queued_run_id,omitempty" db:"queued_run_id"`

	IsCompleted bool `json:"is_completed" db:"is_completed"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type State string

const (
	StateInitialized State = "initialized" // run created, ready for connection
	StateRunning     State = "running"     // media session connected and pipeline active
	StateCompleted   State = "completed"   // run finished
)

// CanTransition reports whether moving from s to next respects the
// forward-only lifecycle.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateInitialized:
		return next == StateRunning || next == StateCompleted
	case StateRunning:
		return next == StateCompleted
	default:
		return false
	}
}

type CallType string

const (
	CallTypeInbound  CallType = "inbound"
	CallTypeOutbound CallType = "outbound"
)

// LogStreamStatusCallbacks is the named log stream holding vendor
// status-callback history.
const LogStreamStatusCallbacks = "telephony_status_callbacks"

// Provider returns the provider tag recorded at creation. Older rows carry
// it only in initial context; Mode wins when both are set.
func (r Run) Provider() string {
	if r.Mode != "" {
		return r.Mode
	}
	if v, ok := r.InitialContext["provider"].(string); ok {
		return v
	}
	return ""
}

// CallTags returns the disposition tags accumulated in gathered context.
func (r Run) CallTags() []string {
	if r.GatheredContext == nil {
		return nil
	}
	switch v := r.GatheredContext["call_tags"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
