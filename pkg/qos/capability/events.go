package capability

import (
	"fmt"

	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// EventTable collects monitoring events into a sequence whose capacity is
// fixed up front to the number of events counted as present. Adding past
// that capacity, or finishing short of it, is a logic error and is reported
// instead of truncated.
type EventTable struct {
	events []MonitorEvent
}

// NewEventTable returns a table with room for exactly n events.
func NewEventTable(n int) *EventTable {
	if n < 0 {
		n = 0
	}
	return &EventTable{events: make([]MonitorEvent, 0, n)}
}

// Add appends ev. It fails with ErrFatal when the table is already full or
// the event kind was added before.
func (t *EventTable) Add(ev MonitorEvent) error {
	if len(t.events) == cap(t.events) {
		return fmt.Errorf("%w: no room for monitoring event %s (capacity %d)",
			qoserr.ErrFatal, ev.Kind, cap(t.events))
	}
	for _, have := range t.events {
		if have.Kind == ev.Kind {
			return fmt.Errorf("%w: duplicate monitoring event %s", qoserr.ErrFatal, ev.Kind)
		}
	}
	t.events = append(t.events, ev)
	return nil
}

// Len returns the number of events added so far.
func (t *EventTable) Len() int { return len(t.events) }

// Cap returns the fixed capacity.
func (t *EventTable) Cap() int { return cap(t.events) }

// Events returns the populated sequence. It fails with ErrFatal if fewer
// events were added than counted.
func (t *EventTable) Events() ([]MonitorEvent, error) {
	if len(t.events) != cap(t.events) {
		return nil, fmt.Errorf("%w: counted %d monitoring events but populated %d",
			qoserr.ErrFatal, cap(t.events), len(t.events))
	}
	return t.events, nil
}
