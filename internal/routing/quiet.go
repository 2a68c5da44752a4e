package routing

import "time"

// QuietHours is a per-client do-not-disturb window in local hours. A window
// may wrap midnight (e.g. 20:00–08:00). Disabled or zero-width windows never
// suppress anything; Critical severity ignores quiet hours entirely (enforced
// by the caller).
type QuietHours struct {
	Enabled   bool `json:"enabled"`
	StartHour int  `json:"start_hour"`
	EndHour   int  `json:"end_hour"`
}

// Contains reports whether t falls inside the window. The start hour is
// inclusive and the end hour exclusive, so 20..8 covers 23:00 and 03:00 but
// not 08:00 or 12:00.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, end := q.StartHour, q.EndHour
	if start == end {
		return false
	}
	h := t.Hour()
	if start < end {
		return h >= start && h < end
	}
	// Wrapping window crosses midnight.
	return h >= start || h < end
}
