package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"alertflow/internal/routing"
	"alertflow/internal/storage"
)

// maxDigestLines caps how many individual messages a digest spells out before
// collapsing the tail into a count.
const maxDigestLines = 5

func digestItemFromEvent(ev routing.NotificationEvent, at time.Time) storage.DigestItem {
	count := ev.BatchedCount
	if count < 1 {
		count = 1
	}
	return storage.DigestItem{
		EventID: ev.ID,
		Source:  ev.Source,
		Message: ev.Message,
		Count:   count,
		At:      at,
	}
}

// digestCount sums the sub-event counts across accumulated items; a plain
// item counts as one.
func digestCount(items []storage.DigestItem) int {
	n := 0
	for _, it := range items {
		c := it.Count
		if c < 1 {
			c = 1
		}
		n += c
	}
	return n
}

// formatDigest renders the accumulated items as one aggregate message:
// a headline with the total count and the window start, then the most recent
// messages, oldest first.
func formatDigest(items []storage.DigestItem, now time.Time) string {
	if len(items) == 0 {
		return ""
	}
	oldest := items[0].At
	for _, it := range items {
		if it.At.Before(oldest) {
			oldest = it.At
		}
	}

	n := digestCount(items)
	var b strings.Builder
	fmt.Fprintf(&b, "%s update", humanize.Comma(int64(n)))
	if n != 1 {
		b.WriteString("s")
	}
	fmt.Fprintf(&b, " since %s", humanize.RelTime(oldest, now, "ago", "from now"))

	shown := items
	if len(shown) > maxDigestLines {
		shown = shown[len(shown)-maxDigestLines:]
	}
	for _, it := range shown {
		b.WriteString("\n- ")
		if it.Source != "" {
			b.WriteString(it.Source)
			b.WriteString(": ")
		}
		b.WriteString(it.Message)
		if it.Count > 1 {
			fmt.Fprintf(&b, " (×%d)", it.Count)
		}
	}
	if hidden := len(items) - len(shown); hidden > 0 {
		fmt.Fprintf(&b, "\n… and %d earlier", hidden)
	}
	return b.String()
}
