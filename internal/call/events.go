package call

import "github.com/communehq/callcore/internal/calllog"

// EventSink is the presentation layer's view of the call core. Callbacks run
// on the signaling dispatch goroutine (or the goroutine that invoked a user
// action) and must not block.
type EventSink interface {
	// CallRinging fires when an outgoing call has been signaled and is
	// ringing remotely.
	CallRinging(s *Session)
	// CallIncoming surfaces an inbound ringing call for an accept/reject
	// decision.
	CallIncoming(s *Session)
	// CallAccepted fires on the caller side when the callee accepted and
	// negotiation is starting.
	CallAccepted(s *Session)
	// CallConnected fires exactly once, when media starts flowing.
	CallConnected(s *Session)
	// CallEnded fires exactly once per session, on any terminal transition,
	// with the reconciled record.
	CallEnded(s *Session, rec calllog.Record)
	// CallFailed fires in addition to CallEnded when the terminal transition
	// was caused by an error.
	CallFailed(s *Session, err error)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) CallRinging(*Session)               {}
func (NopSink) CallIncoming(*Session)              {}
func (NopSink) CallAccepted(*Session)              {}
func (NopSink) CallConnected(*Session)             {}
func (NopSink) CallEnded(*Session, calllog.Record) {}
func (NopSink) CallFailed(*Session, error)         {}
