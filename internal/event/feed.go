package event

import "sync"

// Update is an event tagged with its position in a Feed.
type Update struct {
	Seq int64 `json:"seq"`
	Event
}

// Feed retains the most recent events for polling clients. Subscribe its
// Record method to a Bus.
type Feed struct {
	mu      sync.Mutex
	limit   int
	lastSeq int64
	updates []Update
}

// NewFeed creates a feed that keeps at most limit updates.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 1000
	}
	return &Feed{limit: limit}
}

// Record appends e to the feed, evicting the oldest update when full.
func (f *Feed) Record(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastSeq++
	f.updates = append(f.updates, Update{Seq: f.lastSeq, Event: e})
	if over := len(f.updates) - f.limit; over > 0 {
		f.updates = append(f.updates[:0:0], f.updates[over:]...)
	}
}

// Since returns updates with a sequence number greater than seq, and the
// latest sequence number recorded.
func (f *Feed) Since(seq int64) ([]Update, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []Update{}
	for _, u := range f.updates {
		if u.Seq > seq {
			out = append(out, u)
		}
	}
	return out, f.lastSeq
}
