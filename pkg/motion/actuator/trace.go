package actuator

import "sync/atomic"

// TraceKind labels one trace entry.
type TraceKind uint8

const (
	// TraceBlockStart marks a new block being set up.
	TraceBlockStart TraceKind = iota
	// TraceStepStart marks a step pulse being asserted on an axis.
	TraceStepStart
	// TraceStepDirn marks a direction pin being driven for an axis.
	TraceStepDirn
	// TraceEndStop marks an end-stop abort.
	TraceEndStop
)

// TraceEntry is one recorded actuator event. TickCount, at the fixed tick
// interval, doubles as the time base.
type TraceEntry struct {
	TickCount uint32
	Kind      TraceKind
	AxisIdx   int8
	Rate      uint32
}

// Trace is a wrap-around event buffer written by the actuator tick and
// copied out with Snapshot from the planner context. Recording never
// allocates; once the buffer is full the oldest entries are overwritten.
type Trace struct {
	entries []TraceEntry
	next    atomic.Uint32
}

func NewTrace(capacity int) *Trace {
	if capacity < 16 {
		capacity = 16
	}
	return &Trace{entries: make([]TraceEntry, capacity)}
}

func (t *Trace) record(tickCount uint32, kind TraceKind, axisIdx int8, rate uint32) {
	next := t.next.Load()
	t.entries[next%uint32(len(t.entries))] = TraceEntry{
		TickCount: tickCount,
		Kind:      kind,
		AxisIdx:   axisIdx,
		Rate:      rate,
	}
	t.next.Store(next + 1)
}

// Total returns how many events have been recorded since creation.
func (t *Trace) Total() int {
	return int(t.next.Load())
}

// Snapshot copies out the buffered entries, oldest first.
func (t *Trace) Snapshot() []TraceEntry {
	next := t.next.Load()
	n := next
	if n > uint32(len(t.entries)) {
		n = uint32(len(t.entries))
	}
	out := make([]TraceEntry, 0, n)
	for i := next - n; i != next; i++ {
		out = append(out, t.entries[i%uint32(len(t.entries))])
	}
	return out
}
