package signaling

import (
	"errors"
	"sync"
)

// MemoryChannel is an in-process Channel. Pair connects two of them the way
// the signaling server connects two clients: whatever one side sends is
// dispatched to the other side's handlers, in order, on a single goroutine.
//
// Tests and the loopback example use it to run both parties of a call in one
// process with no network.
type MemoryChannel struct {
	mu           sync.Mutex
	peer         *MemoryChannel
	handlers     map[Event][]Handler
	onDisconnect []func(error)
	closed       bool

	inbox chan Message
	done  chan struct{}
}

// Pair returns two connected in-memory channels.
func Pair() (*MemoryChannel, *MemoryChannel) {
	a := newMemoryChannel()
	b := newMemoryChannel()
	a.peer, b.peer = b, a
	go a.dispatchLoop()
	go b.dispatchLoop()
	return a, b
}

func newMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		handlers: make(map[Event][]Handler),
		inbox:    make(chan Message, 128),
		done:     make(chan struct{}),
	}
}

func (m *MemoryChannel) Send(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	closed := m.closed
	peer := m.peer
	m.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	return peer.deliver(msg)
}

func (m *MemoryChannel) deliver(msg Message) error {
	select {
	case <-m.done:
		return ErrChannelClosed
	case m.inbox <- msg:
		return nil
	}
}

func (m *MemoryChannel) Handle(event Event, fn Handler) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], fn)
	m.mu.Unlock()
}

// OnDisconnect registers fn for channel loss. If the peer already went away,
// fn runs synchronously.
func (m *MemoryChannel) OnDisconnect(fn func(error)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		fn(ErrChannelClosed)
		return
	}
	m.onDisconnect = append(m.onDisconnect, fn)
	m.mu.Unlock()
}

// Close tears the pair down. The peer observes it as a disconnect, the same
// way a client observes the signaling server dropping the connection.
func (m *MemoryChannel) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	peer := m.peer
	m.mu.Unlock()

	close(m.done)
	peer.disconnected(errors.New("signaling: peer channel closed"))
	return nil
}

func (m *MemoryChannel) disconnected(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	callbacks := make([]func(error), len(m.onDisconnect))
	copy(callbacks, m.onDisconnect)
	m.mu.Unlock()

	close(m.done)
	for _, fn := range callbacks {
		fn(err)
	}
}

func (m *MemoryChannel) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.inbox:
			m.mu.Lock()
			handlers := make([]Handler, len(m.handlers[msg.Event]))
			copy(handlers, m.handlers[msg.Event])
			m.mu.Unlock()
			for _, fn := range handlers {
				fn(msg)
			}
		}
	}
}
