// Package timeline turns test start and end instants into an ordered schedule and
// executes it against a launcher.
package timeline

import (
	"sort"
	"time"

	"github.com/narvanalabs/benchctl/internal/models"
)

// EventKind tells whether an event starts or stops a test.
type EventKind int

const (
	// EventStop kills a running test and captures its output.
	EventStop EventKind = iota
	// EventStart launches a test.
	EventStart
)

func (k EventKind) String() string {
	if k == EventStart {
		return "start"
	}
	return "stop"
}

// Event is one action scheduled at an instant.
type Event struct {
	Kind    EventKind
	Binding models.Binding
}

type slot struct {
	stops  []Event
	starts []Event
}

// Timeline maps instants, in seconds from the start of the run, to the events
// scheduled there. It is built once and not modified afterwards.
type Timeline struct {
	instants []float64
	slots    map[float64]*slot
	bindings []models.Binding
}

// Build groups every binding by its start instant and, when present, its end instant.
func Build(bindings []models.Binding) *Timeline {
	t := &Timeline{
		slots:    make(map[float64]*slot),
		bindings: bindings,
	}
	for _, b := range bindings {
		start := t.slotAt(b.Test.Start)
		start.starts = append(start.starts, Event{Kind: EventStart, Binding: b})
		if b.Test.HasEnd() {
			end := t.slotAt(*b.Test.End)
			end.stops = append(end.stops, Event{Kind: EventStop, Binding: b})
		}
	}
	sort.Float64s(t.instants)
	return t
}

func (t *Timeline) slotAt(instant float64) *slot {
	s, ok := t.slots[instant]
	if !ok {
		s = &slot{}
		t.slots[instant] = s
		t.instants = append(t.instants, instant)
	}
	return s
}

// Instants returns the distinct instants in ascending order.
func (t *Timeline) Instants() []float64 {
	out := make([]float64, len(t.instants))
	copy(out, t.instants)
	return out
}

// Events returns the events at instant. Stops come before starts and each group
// keeps registration order.
func (t *Timeline) Events(instant float64) []Event {
	s, ok := t.slots[instant]
	if !ok {
		return nil
	}
	out := make([]Event, 0, len(s.stops)+len(s.starts))
	out = append(out, s.stops...)
	return append(out, s.starts...)
}

// Bindings returns the bindings the timeline was built from.
func (t *Timeline) Bindings() []models.Binding {
	return t.bindings
}

// Len returns the total number of events.
func (t *Timeline) Len() int {
	n := 0
	for _, s := range t.slots {
		n += len(s.stops) + len(s.starts)
	}
	return n
}

// State is the lifecycle position of a test.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	default:
		return "not_started"
	}
}

// StateAt returns the scheduled state of test at instant: running on [start, end)
// and stopped from end on. Tests without an end stay running until they complete.
func StateAt(test *models.Test, instant float64) State {
	switch {
	case instant < test.Start:
		return StateNotStarted
	case test.HasEnd() && instant >= *test.End:
		return StateStopped
	default:
		return StateRunning
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
