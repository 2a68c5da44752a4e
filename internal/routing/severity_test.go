package routing

import "testing"

func TestClassifySources(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultClassifierConfig())

	tests := []struct {
		name  string
		ev    NotificationEvent
		want  Severity
		known bool
	}{
		{
			name:  "budget pause above threshold escalates",
			ev:    NotificationEvent{Source: SourceBudgetGuardian, ImpactFraction: 0.6},
			want:  SeverityCritical,
			known: true,
		},
		{
			name:  "budget pause below threshold keeps source default",
			ev:    NotificationEvent{Source: SourceBudgetGuardian, ImpactFraction: 0.2},
			want:  SeverityHigh,
			known: true,
		},
		{
			name:  "threshold boundary is inclusive",
			ev:    NotificationEvent{Source: SourceBudgetGuardian, ImpactFraction: 0.5},
			want:  SeverityCritical,
			known: true,
		},
		{
			name:  "strategy validation",
			ev:    NotificationEvent{Source: SourceStrategyValidation},
			want:  SeverityHigh,
			known: true,
		},
		{
			name:  "bidding optimization",
			ev:    NotificationEvent{Source: SourceBiddingOptimization},
			want:  SeverityMedium,
			known: true,
		},
		{
			name:  "unknown source falls back to low",
			ev:    NotificationEvent{Source: "mystery-widget"},
			want:  SeverityLow,
			known: false,
		},
		{
			name:  "unknown source ignores hint",
			ev:    NotificationEvent{Source: "mystery-widget", SeverityHint: SeverityCritical},
			want:  SeverityLow,
			known: false,
		},
		{
			name:  "hint raises known source",
			ev:    NotificationEvent{Source: SourceBiddingOptimization, SeverityHint: SeverityHigh},
			want:  SeverityHigh,
			known: true,
		},
		{
			name:  "hint never lowers",
			ev:    NotificationEvent{Source: SourceStrategyValidation, SeverityHint: SeverityLow},
			want:  SeverityHigh,
			known: true,
		},
		{
			name:  "policy violation escalates any source",
			ev:    NotificationEvent{Source: SourceBiddingOptimization, PolicyViolation: true},
			want:  SeverityCritical,
			known: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, known := c.Classify(tt.ev)
			if got != tt.want {
				t.Fatalf("Classify severity = %v, want %v", got, tt.want)
			}
			if known != tt.known {
				t.Fatalf("Classify known = %v, want %v", known, tt.known)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultClassifierConfig())
	ev := NotificationEvent{Source: SourceBudgetGuardian, ImpactFraction: 0.75}
	first, _ := c.Classify(ev)
	for i := 0; i < 50; i++ {
		got, _ := c.Classify(ev)
		if got != first {
			t.Fatalf("classification not deterministic: %v then %v", first, got)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()
	if got := ParseSeverity(" Critical "); got != SeverityCritical {
		t.Fatalf("ParseSeverity = %v", got)
	}
	if got := ParseSeverity("bogus"); got != SeverityUnspecified {
		t.Fatalf("ParseSeverity(bogus) = %v", got)
	}
}
