// Package media defines the transport surface the call core drives: acquire
// local capture, produce and consume session descriptions, exchange
// connectivity candidates, and report connection state.
//
// The call state machine depends only on the Transport interface; the pion
// implementation lives alongside it, and tests substitute scripted fakes.
package media

import (
	"context"
	"errors"
)

var (
	// ErrDeviceAccessDenied is returned when local capture hardware or the
	// permission to use it is unavailable.
	ErrDeviceAccessDenied = errors.New("media: device access denied")
	// ErrReleased is returned by operations invoked after Release.
	ErrReleased = errors.New("media: transport released")
)

// SessionDescription is a transport-neutral SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one connectivity candidate, shaped for trickle exchange.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ConnState is the coarse connection state reported by both of the
// transport's redundant signals.
type ConnState int

const (
	ConnStateNew ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateFailed
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "new"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateFailed:
		return "failed"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is one call's media plane.
//
// Real transport stacks expose two connection-state signals (the transport
// state proper and the connectivity-check state) that race each other and do
// not always agree on latency. Both are surfaced; the caller must treat
// "connected" as whichever fires first and be idempotent against the second.
type Transport interface {
	// AcquireLocalMedia opens local capture (audio, plus video if requested).
	// Must be called before CreateOffer/CreateAnswer so the captured tracks
	// are part of the negotiated description. Fails with ErrDeviceAccessDenied
	// when capture is unavailable.
	AcquireLocalMedia(ctx context.Context, video bool) error

	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error

	// AddRemoteCandidate applies one remote connectivity candidate. The remote
	// description must already be set.
	AddRemoteCandidate(c Candidate) error

	// OnLocalCandidate registers the callback invoked for each locally
	// discovered candidate. Register before descriptions are exchanged.
	OnLocalCandidate(fn func(Candidate))

	// OnTransportState registers the primary connection-state signal.
	OnTransportState(fn func(ConnState))
	// OnConnectivityState registers the secondary (connectivity-check) signal.
	OnConnectivityState(fn func(ConnState))

	// SetAudioEnabled and SetVideoEnabled toggle the outgoing tracks without
	// renegotiation. No-ops for tracks that were never acquired.
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error

	// Release idempotently frees capture devices and the peer connection.
	Release()
}

// Factory constructs one fresh Transport per call attempt.
type Factory interface {
	NewTransport() (Transport, error)
}
