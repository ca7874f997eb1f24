package call

// State is a session's lifecycle state. Transitions only ever move forward:
// Ringing → Negotiating → Connected → Ended, with Rejected reachable from
// Ringing and Failed from any non-terminal state. Terminal states accept no
// further transitions; late signaling for a terminal call is ignored.
type State int

const (
	StateRinging State = iota
	StateNegotiating
	StateConnected
	StateEnded
	StateRejected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	switch s {
	case StateEnded, StateRejected, StateFailed:
		return true
	}
	return false
}

// Role fixes which side of the call this session is. Never changes.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}
