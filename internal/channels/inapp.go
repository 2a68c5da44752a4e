package channels

import (
	"context"
	"sync"
	"time"
)

const defaultInboxSize = 100

// InboxItem is one entry in a client's silent in-app feed.
type InboxItem struct {
	Text      string
	Aggregate bool
	Count     int
	At        time.Time
}

// Inbox is the in-app-silent adapter: a per-client ring of recent items with
// no outward push. Delivery never fails and never wakes anyone up.
type Inbox struct {
	mu    sync.Mutex
	size  int
	items map[string][]InboxItem
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &Inbox{size: size, items: make(map[string][]InboxItem)}
}

func (i *Inbox) Name() string { return "inapp" }

func (i *Inbox) Deliver(_ context.Context, clientID string, msg Message) error {
	it := InboxItem{Text: msg.Text, Aggregate: msg.Aggregate, Count: msg.Count, At: time.Now()}
	i.mu.Lock()
	q := append(i.items[clientID], it)
	if over := len(q) - i.size; over > 0 {
		q = q[over:]
	}
	i.items[clientID] = q
	i.mu.Unlock()
	return nil
}

// Snapshot returns a copy of a client's feed, oldest first.
func (i *Inbox) Snapshot(clientID string) []InboxItem {
	i.mu.Lock()
	defer i.mu.Unlock()
	q := i.items[clientID]
	if len(q) == 0 {
		return nil
	}
	out := make([]InboxItem, len(q))
	copy(out, q)
	return out
}
