package call

import "errors"

var (
	// ErrAlreadyInCall is returned when a second session would take the
	// active slot while another call is still live.
	ErrAlreadyInCall = errors.New("call: already in an active call")
	// ErrServiceNotReady is returned for actions invoked before the signaling
	// channel is attached and usable.
	ErrServiceNotReady = errors.New("call: signaling service not ready")
	// ErrSignalingLost marks sessions failed because the signaling channel
	// went away mid-call.
	ErrSignalingLost = errors.New("call: signaling channel lost")
	// ErrNegotiationFailed marks sessions failed by the media transport
	// (failed connection state, rejected descriptions, connect timeout).
	ErrNegotiationFailed = errors.New("call: media negotiation failed")
	// ErrSignalingError marks sessions failed by an explicit error message
	// from the signaling server.
	ErrSignalingError = errors.New("call: signaling server reported an error")
	// ErrInvalidTransition is returned when an operation does not apply to
	// the session's current state (e.g. answering a call twice).
	ErrInvalidTransition = errors.New("call: operation not valid in current state")
)
