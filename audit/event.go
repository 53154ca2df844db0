// Package audit observes authorization decisions and records them with
// sampling, buffering and redaction. Audit failures never block the primary
// decision: they are reported to an error hook and the affected events are
// dropped.
package audit

import (
	"time"

	"github.com/rowguard/rowguard"
)

// Decision classifies what the engine decided.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionDeny   Decision = "deny"
	DecisionFilter Decision = "filter"
)

// Event is one recorded decision. Created at decision time, destroyed after
// successful delivery or dropped on unrecoverable delivery failure.
type Event struct {
	Timestamp  time.Time          `json:"timestamp"`
	UserID     string             `json:"user_id,omitempty"`
	TenantID   string             `json:"tenant_id,omitempty"`
	Operation  rowguard.Operation `json:"operation"`
	Table      string             `json:"table"`
	Decision   Decision           `json:"decision"`
	PolicyName string             `json:"policy_name,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Bypass     bool               `json:"bypass,omitempty"`
	RowIDs     []any              `json:"row_ids,omitempty"`
	QueryHash  string             `json:"query_hash,omitempty"`
	DurationMS int64              `json:"duration_ms,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Context is the filtered caller-context snapshot after the logger's
	// include/exclude lists are applied.
	Context map[string]any `json:"context,omitempty"`
}

// EventOption enriches an event at log time.
type EventOption func(*Event)

// WithPolicy records the deciding policy name.
func WithPolicy(name string) EventOption {
	return func(e *Event) {
		e.PolicyName = name
	}
}

// WithReason records the decision reason.
func WithReason(reason string) EventOption {
	return func(e *Event) {
		e.Reason = reason
	}
}

// WithBypass tags the decision as an enforcement bypass.
func WithBypass() EventOption {
	return func(e *Event) {
		e.Bypass = true
	}
}

// WithRowIDs records the affected row identifiers.
func WithRowIDs(ids ...any) EventOption {
	return func(e *Event) {
		e.RowIDs = ids
	}
}

// WithQueryHash records a stable hash of the injected predicates.
func WithQueryHash(hash string) EventOption {
	return func(e *Event) {
		e.QueryHash = hash
	}
}

// WithDuration records how long the decision took.
func WithDuration(d time.Duration) EventOption {
	return func(e *Event) {
		e.DurationMS = d.Milliseconds()
	}
}
