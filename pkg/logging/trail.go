package logging

import "sync"

// Trail is a fixed-size ring of recent entries.
type Trail struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewTrail returns a trail holding at most size entries.
func NewTrail(size int) *Trail {
	if size <= 0 {
		size = 1
	}
	return &Trail{entries: make([]Entry, size)}
}

// Add records e, evicting the oldest entry when full.
func (t *Trail) Add(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[t.next] = e
	t.next = (t.next + 1) % len(t.entries)
	if t.next == 0 {
		t.full = true
	}
}

// Entries returns a copy of the recorded entries, oldest first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]Entry(nil), t.entries[:t.next]...)
	}
	out := make([]Entry, 0, len(t.entries))
	out = append(out, t.entries[t.next:]...)
	return append(out, t.entries[:t.next]...)
}

// Len returns how many entries are held.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.full {
		return len(t.entries)
	}
	return t.next
}
