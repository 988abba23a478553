// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

// Status & Events (spec §2 "Status & Events", §4.6 step 4 "emit events").
// Correlation ids are generated with rs/xid, the same globally-sortable id
// generator the teacher uses to correlate queued work with its downstream
// effects (internal/runner/taskqueue.go, since trimmed from this tree).

import (
	"time"

	"github.com/rs/xid"
)

// EventKind enumerates the notification-worthy transitions the Scheduler
// can emit.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventCrashed   EventKind = "crashed"
	EventError     EventKind = "error"
)

// Event is a single notification-worthy occurrence, handed to whatever
// delivery module (desktop, email, sound) is subscribed (spec §1 "the
// core emits notification events and a delivery module consumes them").
type Event struct {
	ID        string
	Kind      EventKind
	RowID     string
	Message   string
	Timestamp time.Time
}

// EventSink receives events as the Scheduler emits them.  Delivery is
// best-effort: a sink must not block the control loop.
type EventSink interface {
	Emit(Event)
}

// ChannelSink is an EventSink backed by a buffered channel, used by the
// tests.  A full channel drops the event rather
// than blocking the control loop (spec §5 "it never blocks on a child
// process" generalises to never blocking on a slow consumer either).
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// Events returns the receive end of the sink's channel.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// FanOut combines several sinks into one, so callers that only have a
// single EventSink slot (the Scheduler constructor) can still deliver to
// both the notification module and the metrics sink.
type FanOut struct {
	sinks []EventSink
}

// NewFanOut builds a FanOut over sinks, skipping any nil entries.
func NewFanOut(sinks ...EventSink) *FanOut {
	f := &FanOut{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *FanOut) Emit(e Event) {
	for _, s := range f.sinks {
		s.Emit(e)
	}
}

func newEvent(kind EventKind, rowID, message string) Event {
	return Event{
		ID:        xid.New().String(),
		Kind:      kind,
		RowID:     rowID,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// RowSnapshot combines a table row with its live process status, if any,
// for the status-snapshot query (spec §1 "the core exposes a
// status-snapshot query").
type RowSnapshot struct {
	Row     *ExperimentRow
	Process *ProcessStatus
}

// Snapshot returns the current state of every row in the table store,
// joined with process status where a process is currently live.
func Snapshot(table *Table, supervisor *ProcessSupervisor) (rows []RowSnapshot) {
	for _, row := range table.AllRows() {
		snap := RowSnapshot{Row: row}
		if status, isPresent := supervisor.Status(row.ID); isPresent {
			s := status
			snap.Process = &s
		}
		rows = append(rows, snap)
	}
	return rows
}
