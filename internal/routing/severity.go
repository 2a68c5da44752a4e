package routing

import "strings"

// Severity orders notifications by urgency: Critical > High > Medium > Low.
// The zero value means "no hint".
type Severity int

const (
	SeverityUnspecified Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityUnspecified
	}
}

// SeverityRule refines the base source→severity mapping. Rules are evaluated
// in order after the table lookup; the first match wins.
type SeverityRule struct {
	Name     string
	When     func(ev NotificationEvent) bool
	Severity Severity
}

// Classifier maps an event's source and attributes to a severity tier.
// Classification is pure: no side effects, deterministic for identical input.
type Classifier struct {
	defaults map[string]Severity
	rules    []SeverityRule
}

// ClassifierConfig tunes the source-specific predicates.
type ClassifierConfig struct {
	// CriticalImpactThreshold promotes a budget-guardian event to Critical
	// when its impact fraction meets or exceeds it.
	CriticalImpactThreshold float64
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{CriticalImpactThreshold: 0.5}
}

// NewClassifier builds the default classifier: a static source table refined
// by ordered override predicates.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	threshold := cfg.CriticalImpactThreshold
	if threshold <= 0 {
		threshold = DefaultClassifierConfig().CriticalImpactThreshold
	}
	return &Classifier{
		defaults: map[string]Severity{
			// Budget pauses default High and are promoted to Critical only
			// past the impact threshold (see rule below).
			SourceBudgetGuardian:      SeverityHigh,
			SourceStrategyValidation:  SeverityHigh,
			SourceBiddingOptimization: SeverityMedium,
		},
		rules: []SeverityRule{
			{
				Name: "budget-impact",
				When: func(ev NotificationEvent) bool {
					return ev.Source == SourceBudgetGuardian && ev.ImpactFraction >= threshold
				},
				Severity: SeverityCritical,
			},
			{
				Name: "policy-violation",
				When: func(ev NotificationEvent) bool {
					return ev.PolicyViolation
				},
				Severity: SeverityCritical,
			},
		},
	}
}

// Classify returns the severity tier for ev and whether its source was
// recognized. Unrecognized sources fall back to Low so malformed events take
// the least intrusive path instead of failing.
func (c *Classifier) Classify(ev NotificationEvent) (Severity, bool) {
	sev, known := c.defaults[ev.Source]
	if !known {
		sev = SeverityLow
	}

	// A valid hint may raise the base tier but never lower it. Events from
	// unrecognized sources stay on the least intrusive path regardless.
	if known && ev.SeverityHint.Valid() && ev.SeverityHint > sev {
		sev = ev.SeverityHint
	}

	for _, r := range c.rules {
		if r.When != nil && r.When(ev) {
			return r.Severity, known
		}
	}
	return sev, known
}
