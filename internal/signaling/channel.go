package signaling

// Handler processes one inbound signaling message. Handlers for a channel are
// invoked sequentially on a single dispatch goroutine, in receipt order.
type Handler func(Message)

// Channel is the signaling surface the call core depends on. The WebSocket
// client is the production implementation; tests use an in-memory pair.
type Channel interface {
	// Send transmits one message, fire-and-forget. An error means the channel
	// can no longer deliver (treat as signaling loss).
	Send(msg Message) error

	// Handle registers a handler for an event type. Handlers registered for
	// the same event run in registration order.
	Handle(event Event, fn Handler)

	// OnDisconnect registers a callback fired once when the channel becomes
	// unusable (read failure, protocol violation, peer close). Not fired on
	// an explicit local Close.
	OnDisconnect(fn func(err error))

	Close() error
}
