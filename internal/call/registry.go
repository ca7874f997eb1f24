package call

import "sync"

// Registry holds the single active call slot. A second call cannot be
// registered until the active one reaches a terminal state and is
// unregistered.
type Registry struct {
	mu     sync.Mutex
	active *Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs s as the active call. It fails with ErrAlreadyInCall
// if another non-terminal call currently holds the slot.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && !r.active.State().Terminal() {
		return ErrAlreadyInCall
	}
	r.active = s
	return nil
}

// Unregister releases the slot if it is held by the call with the given
// ID. Unregistering an ID that does not hold the slot is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.ID() == id {
		r.active = nil
	}
}

// Active returns the session holding the slot, or nil. The returned
// session may already be terminal if it has not been unregistered yet.
func (r *Registry) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
