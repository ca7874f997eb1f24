package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/communehq/callcore/internal/media"
)

// Event names carried on the wire. The server relays call events between the
// two parties of a call; auth is consumed by the server itself.
type Event string

const (
	EventAuth Event = "auth"

	EventStartCall    Event = "start_call"
	EventCallReceived Event = "call_received"
	EventAnswerCall   Event = "answer_call"
	EventCallAnswered Event = "call_answered"
	EventRejectCall   Event = "reject_call"
	EventCallRejected Event = "call_rejected"
	EventEndCall      Event = "end_call"
	EventCallEnded    Event = "call_ended"
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventICECandidate Event = "ice_candidate"
	EventCallError    Event = "call_error"
)

// Party identifies one side of a call.
type Party struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Message is the single wire shape for all signaling events. Which fields are
// allowed and required depends on Event; Validate enforces the schema.
type Message struct {
	Event Event `json:"event"`

	// CallID identifies the call on every event except call_received, which
	// uses ID (the callee adopts it verbatim as its call ID).
	CallID string `json:"callId,omitempty"`
	ID     string `json:"id,omitempty"`

	CalleeID       string `json:"calleeId,omitempty"`
	IsVideo        bool   `json:"isVideo,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`

	Caller *Party `json:"caller,omitempty"`
	Callee *Party `json:"callee,omitempty"`

	Offer     *media.SessionDescription `json:"offer,omitempty"`
	Answer    *media.SessionDescription `json:"answer,omitempty"`
	Candidate *media.Candidate          `json:"candidate,omitempty"`

	Error string `json:"error,omitempty"`

	// Auth handshake credentials (first frame after connect).
	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`
}

// eventSchema lists, per event, which optional fields are required and which
// further fields may be present.
type eventSchema struct {
	required []string
	optional []string
}

var schemas = map[Event]eventSchema{
	EventAuth:         {optional: []string{"apiKey", "token"}},
	EventStartCall:    {required: []string{"callId", "calleeId", "offer"}, optional: []string{"isVideo", "conversationId"}},
	EventCallReceived: {required: []string{"id", "caller"}, optional: []string{"callee", "isVideo", "conversationId"}},
	EventAnswerCall:   {required: []string{"callId"}},
	EventCallAnswered: {required: []string{"callId"}},
	EventRejectCall:   {required: []string{"callId"}},
	EventCallRejected: {required: []string{"callId"}},
	EventEndCall:      {required: []string{"callId"}},
	EventCallEnded:    {required: []string{"callId"}},
	EventOffer:        {required: []string{"callId", "offer"}},
	EventAnswer:       {required: []string{"callId", "answer"}},
	EventICECandidate: {required: []string{"callId", "candidate"}},
	EventCallError:    {required: []string{"error"}, optional: []string{"callId"}},
}

// ParseMessage decodes and validates one inbound frame. Unknown fields and
// trailing data are rejected outright.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Validate() error {
	schema, ok := schemas[m.Event]
	if !ok {
		return fmt.Errorf("unsupported event %q", m.Event)
	}

	present := m.presentFields()
	allowed := make(map[string]bool, len(schema.required)+len(schema.optional))
	for _, f := range schema.required {
		allowed[f] = true
		if !present[f] {
			return fmt.Errorf("%s message missing %s", m.Event, f)
		}
	}
	for _, f := range schema.optional {
		allowed[f] = true
	}
	for f := range present {
		if !allowed[f] {
			return fmt.Errorf("%s message has unexpected field %s", m.Event, f)
		}
	}

	if m.Offer != nil && m.Offer.Type != "offer" {
		return fmt.Errorf("%s message has offer.type=%q", m.Event, m.Offer.Type)
	}
	if m.Answer != nil && m.Answer.Type != "answer" {
		return fmt.Errorf("%s message has answer.type=%q", m.Event, m.Answer.Type)
	}
	if m.Event == EventAuth && m.APIKey == "" && m.Token == "" {
		return fmt.Errorf("auth message missing apiKey/token")
	}
	return nil
}

// presentFields reports which optional wire fields carry a value. isVideo is
// only meaningful on events that allow it, and false is indistinguishable
// from absent, so it is never reported here.
func (m Message) presentFields() map[string]bool {
	p := make(map[string]bool)
	set := func(name string, ok bool) {
		if ok {
			p[name] = true
		}
	}
	set("callId", m.CallID != "")
	set("id", m.ID != "")
	set("calleeId", m.CalleeID != "")
	set("conversationId", m.ConversationID != "")
	set("caller", m.Caller != nil)
	set("callee", m.Callee != nil)
	set("offer", m.Offer != nil)
	set("answer", m.Answer != nil)
	set("candidate", m.Candidate != nil)
	set("error", m.Error != "")
	set("apiKey", m.APIKey != "")
	set("token", m.Token != "")
	return p
}
