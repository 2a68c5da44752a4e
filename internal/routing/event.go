package routing

import "time"

// Well-known event sources. The source field is an open string; anything not
// listed here classifies through the fallback path.
const (
	SourceBudgetGuardian      = "budget-guardian"
	SourceStrategyValidation  = "strategy-validation"
	SourceBiddingOptimization = "bidding-optimization"
)

// NotificationEvent is the unit of work: one thing that happened upstream and
// may be worth telling a human about. Immutable once created; consumed exactly
// once by the dispatch service.
type NotificationEvent struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Source   string `json:"source"`
	Message  string `json:"message"`

	// SeverityHint is optional; the classifier may override it.
	SeverityHint Severity `json:"severity_hint,omitempty"`

	// Source-specific fields consumed by override rules.
	ImpactFraction   float64 `json:"impact_fraction,omitempty"`
	PolicyViolation  bool    `json:"policy_violation,omitempty"`
	ProjectedUplift  float64 `json:"projected_uplift,omitempty"`
	RequiresDecision bool    `json:"requires_decision,omitempty"`
	BatchedCount     int     `json:"batched_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the terminal state of one routing pass over an event.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered" // at least one adapter invoked
	OutcomeDeferred  Outcome = "deferred"  // added to the client's pending digest
	OutcomeDuplicate Outcome = "duplicate" // event id already processed
	OutcomeFailed    Outcome = "failed"    // all delivery paths exhausted
)

// DispatchDecision is the routing outcome for one event. Every processed
// event produces exactly one, and it is recorded by the audit logger whether
// or not any channel fired. An empty Channels slice means suppressed/batched.
type DispatchDecision struct {
	EventID  string    `json:"event_id"`
	ClientID string    `json:"client_id"`
	Severity Severity  `json:"severity"`
	Channels []Channel `json:"channels,omitempty"`
	Outcome  Outcome   `json:"outcome"`
	Reason   string    `json:"reason"`
	// Error carries the final delivery error for failed outcomes.
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}
