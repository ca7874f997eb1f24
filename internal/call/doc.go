// Package call is the session core: a per-call state machine, a single
// active-call slot, and the plumbing that turns signaling events and
// transport state changes into lifecycle transitions.
//
// A Manager owns the slot and routes inbound signaling to the active
// Session. Each Session moves forward through ringing, negotiating and
// connected, and settles exactly once in ended, rejected or failed; the
// terminal transition releases the media transport, frees the slot, and
// writes the one durable call log record. Everything that arrives after
// that, including the redundant second connected signal and redelivered
// messages, is counted and dropped.
package call
