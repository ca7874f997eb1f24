package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/communehq/callcore/internal/calllog"
	"github.com/communehq/callcore/internal/media"
	"github.com/communehq/callcore/internal/metrics"
	"github.com/communehq/callcore/internal/signaling"
)

// reconcileTimeout bounds the synchronous log write performed on a terminal
// transition.
const reconcileTimeout = 10 * time.Second

// Session is one call attempt, caller or callee side. It owns exactly one
// media transport for its lifetime and moves through the State lifecycle
// exactly once; after reaching a terminal state every input is ignored.
//
// Sessions are created and driven by a Manager. All methods are safe for
// concurrent use: signaling arrives on the channel's dispatch goroutine,
// connection-state changes on transport goroutines, and user actions on
// whichever goroutine the embedding application calls from.
type Session struct {
	id             string
	role           Role
	peer           signaling.Party
	isVideo        bool
	conversationID string

	m *Manager

	mu           sync.Mutex
	state        State
	failure      error
	transport    media.Transport
	startedAt    time.Time
	connectedAt  time.Time
	endedAt      time.Time
	logged       bool
	remoteSet    bool
	pending      []media.Candidate
	pendingOffer *media.SessionDescription
	localOffer   *media.SessionDescription
	muted        bool
	cameraOff    bool
	ringTimer    *time.Timer
	connectTimer *time.Timer
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Role() Role             { return s.role }
func (s *Session) Peer() signaling.Party  { return s.peer }
func (s *Session) IsVideo() bool          { return s.isVideo }
func (s *Session) ConversationID() string { return s.conversationID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that failed the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Duration is the connected time so far (or total, once ended). Zero for
// calls that never connected.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked(s.m.now())
}

func (s *Session) durationLocked(now time.Time) time.Duration {
	if s.connectedAt.IsZero() {
		return 0
	}
	end := s.endedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.connectedAt)
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) CameraOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraOff
}

// wireTransport registers t's callbacks. The caller stores t in s.transport
// under s.mu once it has confirmed the session is still live, so a terminal
// transition that raced ahead never sees a transport it did not release.
func (s *Session) wireTransport(t media.Transport) {
	t.OnLocalCandidate(func(c media.Candidate) {
		s.sendCandidate(c)
	})
	t.OnTransportState(func(cs media.ConnState) {
		s.handleConnState(cs)
	})
	t.OnConnectivityState(func(cs media.ConnState) {
		s.handleConnState(cs)
	})
}

func (s *Session) sendCandidate(c media.Candidate) {
	s.mu.Lock()
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if terminal {
		return
	}
	cand := c
	s.send(signaling.Message{
		Event:     signaling.EventICECandidate,
		CallID:    s.id,
		Candidate: &cand,
	})
}

// send transmits one message; a dead channel terminates the session the same
// way a disconnect callback would.
func (s *Session) send(msg signaling.Message) {
	if err := s.m.send(msg); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrSignalingLost, err))
	}
}

// Answer accepts an incoming ringing call: local media is acquired, the
// acceptance is signaled, and the session moves to Negotiating to await the
// caller's offer. Only valid for the callee side in Ringing.
func (s *Session) Answer(ctx context.Context) error {
	s.mu.Lock()
	if s.role != RoleCallee || s.state != StateRinging {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: answer in %s", ErrInvalidTransition, st)
	}
	s.mu.Unlock()

	t, err := s.m.factory.NewTransport()
	if err != nil {
		s.failAndSend(fmt.Errorf("%w: %v", ErrNegotiationFailed, err), signaling.EventRejectCall)
		return err
	}
	// Media acquisition can block on device access; keep the lock released.
	if err := t.AcquireLocalMedia(ctx, s.isVideo); err != nil {
		t.Release()
		s.failAndSend(err, signaling.EventRejectCall)
		return err
	}
	s.wireTransport(t)

	s.mu.Lock()
	if s.state != StateRinging {
		// Ended or rejected while we were opening devices. The transport was
		// never stored, so this release is the only one.
		st := s.state
		s.mu.Unlock()
		t.Release()
		return fmt.Errorf("%w: answer in %s", ErrInvalidTransition, st)
	}
	s.transport = t
	s.state = StateNegotiating
	s.stopRingTimerLocked()
	s.armConnectTimerLocked()
	buffered := s.pendingOffer
	s.pendingOffer = nil
	s.mu.Unlock()

	s.m.metrics.Inc(metrics.CallsAnswered)
	s.m.log.Info("call answered", "call_id", s.id, "peer", s.peer.UserID)
	s.send(signaling.Message{Event: signaling.EventAnswerCall, CallID: s.id})

	if buffered != nil {
		s.handleOffer(*buffered)
	}
	return nil
}

// Reject declines an incoming ringing call. No media is ever acquired.
func (s *Session) Reject() error {
	s.mu.Lock()
	if s.role != RoleCallee || s.state != StateRinging {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: reject in %s", ErrInvalidTransition, st)
	}
	actions := s.finishLocked(StateRejected, nil)
	s.mu.Unlock()

	s.send(signaling.Message{Event: signaling.EventRejectCall, CallID: s.id})
	s.m.metrics.Inc(metrics.CallsRejected)
	runAll(actions)
	return nil
}

// End hangs up. Valid in any non-terminal state: a caller ending a still
// ringing call cancels it, either side ending a live call terminates it.
func (s *Session) End() error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: end in terminal state", ErrInvalidTransition)
	}
	if s.role == RoleCallee && s.state == StateRinging {
		// Hanging up a ringing inbound call is a rejection.
		s.mu.Unlock()
		return s.Reject()
	}
	actions := s.finishLocked(StateEnded, nil)
	s.mu.Unlock()

	s.send(signaling.Message{Event: signaling.EventEndCall, CallID: s.id})
	runAll(actions)
	return nil
}

// SetMuted toggles the outgoing audio track.
func (s *Session) SetMuted(muted bool) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	t := s.transport
	s.muted = muted
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.SetAudioEnabled(!muted)
}

// SetCameraOn toggles the outgoing video track. No-op for voice calls.
func (s *Session) SetCameraOn(on bool) error {
	if !s.isVideo {
		return nil
	}
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	t := s.transport
	s.cameraOff = !on
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.SetVideoEnabled(on)
}

// handleAnswered processes call_answered on the caller side: the callee
// accepted, so negotiation starts and the stored offer is forwarded.
func (s *Session) handleAnswered() {
	s.mu.Lock()
	if s.state != StateRinging {
		dropped := s.state
		s.mu.Unlock()
		s.dropSignal(signaling.EventCallAnswered, dropped)
		return
	}
	s.state = StateNegotiating
	s.stopRingTimerLocked()
	s.armConnectTimerLocked()
	offer := s.localOffer
	s.mu.Unlock()

	s.m.log.Info("call accepted by peer", "call_id", s.id)
	s.m.sink.CallAccepted(s)
	if offer != nil {
		o := *offer
		s.send(signaling.Message{Event: signaling.EventOffer, CallID: s.id, Offer: &o})
	}
}

// handleRejected processes call_rejected on the caller side.
func (s *Session) handleRejected() {
	s.mu.Lock()
	if s.state != StateRinging {
		dropped := s.state
		s.mu.Unlock()
		s.dropSignal(signaling.EventCallRejected, dropped)
		return
	}
	actions := s.finishLocked(StateRejected, nil)
	s.mu.Unlock()

	s.m.metrics.Inc(metrics.CallsRejected)
	s.m.log.Info("call rejected by peer", "call_id", s.id)
	runAll(actions)
}

// handleEnded processes call_ended from the peer, in any live state.
func (s *Session) handleEnded() {
	s.mu.Lock()
	if s.state.Terminal() {
		dropped := s.state
		s.mu.Unlock()
		s.dropSignal(signaling.EventCallEnded, dropped)
		return
	}
	actions := s.finishLocked(StateEnded, nil)
	s.mu.Unlock()

	s.m.log.Info("call ended by peer", "call_id", s.id)
	runAll(actions)
}

// handleOffer processes the caller's offer on the callee side. An offer that
// races ahead of our answer_call is buffered and replayed by Answer.
func (s *Session) handleOffer(offer media.SessionDescription) {
	s.mu.Lock()
	switch s.state {
	case StateRinging:
		o := offer
		s.pendingOffer = &o
		s.mu.Unlock()
		return
	case StateNegotiating:
	default:
		dropped := s.state
		s.mu.Unlock()
		s.dropSignal(signaling.EventOffer, dropped)
		return
	}
	t := s.transport
	s.mu.Unlock()

	if err := t.SetRemoteDescription(offer); err != nil {
		s.negotiationFailed("set remote offer", err)
		return
	}
	s.flushCandidates(t)

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	answer, err := t.CreateAnswer(ctx)
	cancel()
	if err != nil {
		s.negotiationFailed("create answer", err)
		return
	}
	if err := t.SetLocalDescription(answer); err != nil {
		s.negotiationFailed("set local answer", err)
		return
	}
	s.send(signaling.Message{Event: signaling.EventAnswer, CallID: s.id, Answer: &answer})
}

// handleAnswer processes the callee's answer on the caller side.
func (s *Session) handleAnswer(answer media.SessionDescription) {
	s.mu.Lock()
	if s.state != StateNegotiating {
		dropped := s.state
		s.mu.Unlock()
		s.dropSignal(signaling.EventAnswer, dropped)
		return
	}
	t := s.transport
	s.mu.Unlock()

	if err := t.SetRemoteDescription(answer); err != nil {
		s.negotiationFailed("set remote answer", err)
		return
	}
	s.flushCandidates(t)
}

// handleCandidate applies a remote candidate, buffering it when the remote
// description is not in place yet.
func (s *Session) handleCandidate(c media.Candidate) {
	s.mu.Lock()
	if s.state.Terminal() {
		dropped := s.state
		s.mu.Unlock()
		s.dropSignal(signaling.EventICECandidate, dropped)
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		s.m.metrics.Inc(metrics.CandidatesBuffered)
		return
	}
	t := s.transport
	s.mu.Unlock()

	if err := t.AddRemoteCandidate(c); err != nil {
		s.m.log.Warn("add remote candidate", "call_id", s.id, "err", err)
	}
}

// flushCandidates marks the remote description applied and drains candidates
// buffered before it, in arrival order.
func (s *Session) flushCandidates(t media.Transport) {
	s.mu.Lock()
	s.remoteSet = true
	buffered := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range buffered {
		if err := t.AddRemoteCandidate(c); err != nil {
			s.m.log.Warn("add buffered candidate", "call_id", s.id, "err", err)
			continue
		}
		s.m.metrics.Inc(metrics.CandidatesFlushed)
	}
}

// handleError processes an explicit call_error from the server.
func (s *Session) handleError(text string) {
	s.fail(fmt.Errorf("%w: %s", ErrSignalingError, text))
}

// handleConnState consumes both of the transport's redundant connection-state
// signals. The transition to Connected happens on whichever fires first; the
// second is a no-op because connectedAt is already set.
func (s *Session) handleConnState(cs media.ConnState) {
	switch cs {
	case media.ConnStateConnected:
		s.mu.Lock()
		if s.state != StateNegotiating || !s.connectedAt.IsZero() {
			s.mu.Unlock()
			return
		}
		s.state = StateConnected
		s.connectedAt = s.m.now()
		s.stopConnectTimerLocked()
		s.mu.Unlock()

		s.m.metrics.Inc(metrics.CallsConnected)
		s.m.log.Info("call connected", "call_id", s.id, "peer", s.peer.UserID)
		s.m.sink.CallConnected(s)
	case media.ConnStateFailed:
		s.fail(ErrNegotiationFailed)
	}
}

// onSignalingLost terminates a live session because the channel went away.
// Nothing can be sent to the peer anymore; only local cleanup happens.
func (s *Session) onSignalingLost(cause error) {
	s.fail(fmt.Errorf("%w: %v", ErrSignalingLost, cause))
}

func (s *Session) onRingTimeout() {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return
	}
	actions := s.finishLocked(StateEnded, nil)
	s.mu.Unlock()

	s.m.log.Info("ring timeout", "call_id", s.id, "role", s.role)
	if s.role == RoleCaller {
		s.send(signaling.Message{Event: signaling.EventEndCall, CallID: s.id})
	}
	runAll(actions)
}

func (s *Session) onConnectTimeout() {
	s.mu.Lock()
	if s.state != StateNegotiating {
		s.mu.Unlock()
		return
	}
	actions := s.finishLocked(StateFailed, ErrNegotiationFailed)
	s.mu.Unlock()

	s.send(signaling.Message{Event: signaling.EventEndCall, CallID: s.id})
	runAll(actions)
}

func (s *Session) negotiationFailed(op string, err error) {
	s.failAndSend(fmt.Errorf("%w: %s: %v", ErrNegotiationFailed, op, err), signaling.EventEndCall)
}

// fail moves the session to Failed without notifying the peer. Used when the
// signaling channel itself is gone or already knows.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	actions := s.finishLocked(StateFailed, cause)
	s.mu.Unlock()
	runAll(actions)
}

// failAndSend moves the session to Failed and tells the peer via farewell.
func (s *Session) failAndSend(cause error, farewell signaling.Event) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	actions := s.finishLocked(StateFailed, cause)
	s.mu.Unlock()

	s.send(signaling.Message{Event: farewell, CallID: s.id})
	runAll(actions)
}

// finishLocked performs the terminal transition to st under s.mu and returns
// the cleanup actions to run after the lock is released: transport release,
// slot handback, the one authoritative log write, and sink callbacks. Callers
// must have verified the session is not already terminal.
func (s *Session) finishLocked(st State, cause error) []func() {
	now := s.m.now()
	s.state = st
	s.failure = cause
	s.endedAt = now
	s.stopRingTimerLocked()
	s.stopConnectTimerLocked()
	t := s.transport
	s.transport = nil
	s.pending = nil
	s.pendingOffer = nil

	var rec calllog.Record
	reconcile := false
	if !s.logged {
		s.logged = true
		reconcile = true
		rec = s.recordLocked(st, now)
	}

	var actions []func()
	if t != nil {
		actions = append(actions, t.Release)
	}
	actions = append(actions, func() {
		s.m.sessionFinished(s)
	})
	if reconcile {
		r := rec
		actions = append(actions, func() {
			ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
			defer cancel()
			if err := s.m.reconciler.Reconcile(ctx, r); err != nil {
				s.m.log.Error("call log reconcile failed", "call_id", s.id, "err", err)
			}
			switch st {
			case StateFailed:
				s.m.metrics.Inc(metrics.CallsFailed)
			default:
				s.m.metrics.Inc(metrics.CallsEnded)
			}
			if cause != nil {
				s.m.log.Warn("call failed", "call_id", s.id, "state", st, "err", cause)
				s.m.sink.CallFailed(s, cause)
			}
			s.m.sink.CallEnded(s, r)
		})
	}
	return actions
}

func (s *Session) recordLocked(st State, now time.Time) calllog.Record {
	dir := calllog.DirectionOutgoing
	if s.role == RoleCallee {
		dir = calllog.DirectionIncoming
	}
	rec := calllog.Record{
		CallID:         s.id,
		ConversationID: s.conversationID,
		Direction:      dir,
		PeerID:         s.peer.UserID,
		PeerName:       s.peer.DisplayName,
		IsVideo:        s.isVideo,
		StartedAt:      s.startedAt,
		EndedAt:        now,
	}
	switch {
	case st == StateRejected:
		rec.Status = calllog.StatusRejected
	case !s.connectedAt.IsZero():
		rec.Status = calllog.StatusEnded
		rec.DurationSecs = int(s.durationLocked(now) / time.Second)
	case s.role == RoleCallee:
		// An inbound call that never connected was missed, whether it rang
		// out, was ended by the caller, or died in negotiation.
		rec.Status = calllog.StatusMissed
	default:
		rec.Status = calllog.StatusEnded
	}
	return rec
}

func (s *Session) dropSignal(ev signaling.Event, st State) {
	s.m.metrics.Inc(metrics.SignalDroppedTerminal)
	s.m.log.Debug("dropped signal for settled call", "call_id", s.id, "event", ev, "state", st)
}

func (s *Session) armRingTimerLocked() {
	if d := s.m.cfg.RingTimeout; d > 0 {
		s.ringTimer = time.AfterFunc(d, s.onRingTimeout)
	}
}

func (s *Session) armConnectTimerLocked() {
	if d := s.m.cfg.ConnectTimeout; d > 0 {
		s.connectTimer = time.AfterFunc(d, s.onConnectTimeout)
	}
}

func (s *Session) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *Session) stopConnectTimerLocked() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

func runAll(actions []func()) {
	for _, fn := range actions {
		fn()
	}
}
