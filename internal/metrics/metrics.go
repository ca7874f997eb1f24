package metrics

import "sync"

// Counter names used across the call core. Names are intentionally simple;
// they surface through the agent's debug endpoint with an `event` label.
const (
	CallsStarted   = "calls_started"
	CallsIncoming  = "calls_incoming"
	CallsAnswered  = "calls_answered"
	CallsRejected  = "calls_rejected"
	CallsConnected = "calls_connected"
	CallsEnded     = "calls_ended"
	CallsFailed    = "calls_failed"

	// SignalDroppedTerminal counts signaling messages that arrived for a call
	// already in a terminal state and were ignored.
	SignalDroppedTerminal = "signal_dropped_terminal"
	// SignalDroppedBusy counts inbound call offers refused because another
	// session held the active slot.
	SignalDroppedBusy = "signal_dropped_busy"
	// SignalDroppedDuplicate counts redelivered messages for a call already
	// being handled (the channel is at-least-once).
	SignalDroppedDuplicate = "signal_dropped_duplicate"
	SignalDroppedUnknown   = "signal_dropped_unknown"
	// SignalHeldEarly counts offer/candidate messages that arrived before
	// call_received for their call and were buffered for replay.
	SignalHeldEarly = "signal_held_early"

	CandidatesBuffered = "candidates_buffered"
	CandidatesFlushed  = "candidates_flushed"

	LogWrites        = "log_writes"
	LogWriteFailures = "log_write_failures"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type exists to keep the call core's bookkeeping testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
