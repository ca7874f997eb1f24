// Package signaling models the call signaling vocabulary and the channel it
// travels over: a persistent, authenticated, bidirectional connection to the
// signaling server, which relays each message to the other party of a call.
//
// Delivery is at-least-once per connected session and ordered per event type
// per sender; the call core is responsible for deduplication.
package signaling
