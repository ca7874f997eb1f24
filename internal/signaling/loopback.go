package signaling

// Loopback connects two in-memory clients through a stand-in for the
// signaling server: placement events are translated to their delivery
// counterparts (start_call becomes the peer's call_received, answer_call
// becomes call_answered, and so on) and negotiation events pass through
// verbatim. It exists for tests and the loopback example; it relays between
// exactly two fixed parties and ignores calleeId routing.
func Loopback(a, b Party) (Channel, Channel) {
	clientA, serverA := Pair()
	clientB, serverB := Pair()
	relay(serverA, serverB, a)
	relay(serverB, serverA, b)
	return clientA, clientB
}

// relay forwards from's client traffic to to's client, translated the way the
// server translates it. from identifies the sending party.
func relay(from, to *MemoryChannel, sender Party) {
	forward := func(msg Message) {
		// The peer is gone; a real server would surface this as an error.
		if err := to.Send(msg); err != nil {
			_ = from.Send(Message{
				Event:  EventCallError,
				CallID: msg.CallID,
				Error:  "peer unavailable",
			})
		}
	}

	from.Handle(EventAuth, func(Message) {})
	from.Handle(EventStartCall, func(msg Message) {
		p := sender
		forward(Message{
			Event:          EventCallReceived,
			ID:             msg.CallID,
			Caller:         &p,
			IsVideo:        msg.IsVideo,
			ConversationID: msg.ConversationID,
		})
	})
	translate := map[Event]Event{
		EventAnswerCall: EventCallAnswered,
		EventRejectCall: EventCallRejected,
		EventEndCall:    EventCallEnded,
	}
	for in, out := range translate {
		out := out
		from.Handle(in, func(msg Message) {
			forward(Message{Event: out, CallID: msg.CallID})
		})
	}
	for _, ev := range []Event{EventOffer, EventAnswer, EventICECandidate, EventCallError} {
		from.Handle(ev, forward)
	}
}
