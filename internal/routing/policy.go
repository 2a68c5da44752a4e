package routing

// Plan is the channel resolution for one event: which mechanisms fire, and
// message shaping flags the adapters care about.
type Plan struct {
	Channels []Channel

	// Decision marks the outbound message as carrying an approval action
	// (a High-severity event that needs a human yes/no, not just a read).
	Decision bool

	// Aggregate marks the message as summarizing multiple occurrences.
	Aggregate bool

	// Rule names the override that produced this plan, empty for the
	// default severity mapping.
	Rule string
}

// ChannelRule overrides the default severity→channel mapping for events
// matching its predicate. Rules are ordered; the first match wins.
type ChannelRule struct {
	Name     string
	When     func(ev NotificationEvent) bool
	Channels []Channel
}

// PolicyTable resolves a severity tier (plus source-specific overrides) to an
// ordered channel set. It is consulted exactly once per event, before quiet
// hours and batching are applied.
type PolicyTable struct {
	overrides []ChannelRule
}

// NewPolicyTable builds the default policy:
//
//	Critical → urgent-voice + urgent-text (both fired, not alternatives)
//	High     → team-chat (approval variant when the event needs a decision)
//	Medium   → email-digest, or team-chat when the event is an aggregate
//	Low      → in-app-silent
//
// A brand-safety/compliance violation always routes to the two most intrusive
// channels regardless of the base severity.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{
		overrides: []ChannelRule{
			{
				Name: "policy-violation",
				When: func(ev NotificationEvent) bool {
					return ev.PolicyViolation
				},
				Channels: []Channel{ChannelUrgentVoice, ChannelUrgentText},
			},
		},
	}
}

// Resolve returns the channel plan for ev at the given severity.
func (t *PolicyTable) Resolve(ev NotificationEvent, sev Severity) Plan {
	for _, r := range t.overrides {
		if r.When != nil && r.When(ev) {
			return Plan{
				Channels: append([]Channel(nil), r.Channels...),
				Rule:     r.Name,
			}
		}
	}

	switch sev {
	case SeverityCritical:
		return Plan{Channels: []Channel{ChannelUrgentVoice, ChannelUrgentText}}
	case SeverityHigh:
		return Plan{
			Channels: []Channel{ChannelTeamChat},
			Decision: ev.RequiresDecision,
		}
	case SeverityMedium:
		if ev.BatchedCount > 1 {
			return Plan{Channels: []Channel{ChannelTeamChat}, Aggregate: true}
		}
		return Plan{Channels: []Channel{ChannelEmailDigest}}
	default:
		return Plan{Channels: []Channel{ChannelInAppSilent}}
	}
}
