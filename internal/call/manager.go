package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/communehq/callcore/internal/calllog"
	"github.com/communehq/callcore/internal/media"
	"github.com/communehq/callcore/internal/metrics"
	"github.com/communehq/callcore/internal/signaling"
)

const (
	// recentTerminalCap bounds how many settled call IDs are remembered for
	// classifying late signaling.
	recentTerminalCap = 128

	// earlySignalCap bounds how many offer/candidate messages are held per
	// call while its call_received is still in flight; earlySignalTTL expires
	// buffers whose call_received never arrives.
	earlySignalCap = 32
	earlySignalTTL = 30 * time.Second
)

// ManagerConfig carries the per-user identity and the optional call timers.
type ManagerConfig struct {
	// Local identifies this user to peers on outgoing calls.
	Local signaling.Party

	// RingTimeout ends a call that is still ringing after this long.
	// Zero disables the timer.
	RingTimeout time.Duration
	// ConnectTimeout fails a call stuck in negotiation after this long.
	// Zero disables the timer.
	ConnectTimeout time.Duration
}

// Manager owns the active call slot and routes signaling to it. One Manager
// per signed-in user; it survives signaling reconnects via repeated Attach.
type Manager struct {
	cfg        ManagerConfig
	factory    media.Factory
	sink       EventSink
	reconciler *calllog.Reconciler
	metrics    *metrics.Metrics
	log        *slog.Logger
	registry   *Registry
	now        func() time.Time

	mu      sync.Mutex
	channel signaling.Channel

	recentMu   sync.Mutex
	recentIDs  map[string]struct{}
	recentRing []string

	earlyMu sync.Mutex
	early   map[string][]earlySignal
}

// earlySignal is a negotiation message that outran call_received for its call.
type earlySignal struct {
	msg signaling.Message
	at  time.Time
}

// NewManager builds a manager. sink may be nil (events are discarded),
// metrics and logger fall back to defaults. The manager is not usable for
// calls until Attach provides a signaling channel.
func NewManager(cfg ManagerConfig, factory media.Factory, sink EventSink, rec *calllog.Reconciler, m *metrics.Metrics, log *slog.Logger) *Manager {
	if sink == nil {
		sink = NopSink{}
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = calllog.NewReconciler(nil, nil, m, log)
	}
	return &Manager{
		cfg:        cfg,
		factory:    factory,
		sink:       sink,
		reconciler: rec,
		metrics:    m,
		log:        log,
		registry:   NewRegistry(),
		now:        time.Now,
		recentIDs:  make(map[string]struct{}),
		early:      make(map[string][]earlySignal),
	}
}

// Attach wires the manager to a signaling channel and makes it ready for
// calls. Attaching a new channel after a disconnect resumes service; any call
// that was live on the old channel has already been failed.
func (m *Manager) Attach(ch signaling.Channel) {
	m.mu.Lock()
	m.channel = ch
	m.mu.Unlock()

	ch.Handle(signaling.EventCallReceived, m.onCallReceived)
	ch.Handle(signaling.EventCallAnswered, m.route(func(s *Session, msg signaling.Message) {
		s.handleAnswered()
	}))
	ch.Handle(signaling.EventCallRejected, m.route(func(s *Session, msg signaling.Message) {
		s.handleRejected()
	}))
	ch.Handle(signaling.EventCallEnded, m.route(func(s *Session, msg signaling.Message) {
		s.handleEnded()
	}))
	ch.Handle(signaling.EventOffer, m.route(func(s *Session, msg signaling.Message) {
		s.handleOffer(*msg.Offer)
	}))
	ch.Handle(signaling.EventAnswer, m.route(func(s *Session, msg signaling.Message) {
		s.handleAnswer(*msg.Answer)
	}))
	ch.Handle(signaling.EventICECandidate, m.route(func(s *Session, msg signaling.Message) {
		s.handleCandidate(*msg.Candidate)
	}))
	ch.Handle(signaling.EventCallError, m.onCallError)
	ch.OnDisconnect(m.onDisconnect)
}

// Ready reports whether a signaling channel is attached.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel != nil
}

// Active returns the current live session, or nil.
func (m *Manager) Active() *Session {
	s := m.registry.Active()
	if s == nil || s.State().Terminal() {
		return nil
	}
	return s
}

// StartCall places an outgoing call to calleeID. Media is acquired before any
// signaling leaves the device, so a capture failure aborts with no session
// and nothing for the peer to see. On success the session is Ringing.
func (m *Manager) StartCall(ctx context.Context, calleeID string, video bool, conversationID string) (*Session, error) {
	if !m.Ready() {
		return nil, ErrServiceNotReady
	}

	s := &Session{
		id:             uuid.NewString(),
		role:           RoleCaller,
		peer:           signaling.Party{UserID: calleeID},
		isVideo:        video,
		conversationID: conversationID,
		m:              m,
		state:          StateRinging,
		startedAt:      m.now(),
	}
	// The slot is reserved before capture so a concurrent inbound call rings
	// busy during the device prompt; every failure path below hands it back,
	// so a denied call leaves no session registered.
	if err := m.registry.Register(s); err != nil {
		return nil, err
	}

	t, err := m.factory.NewTransport()
	if err != nil {
		m.registry.Unregister(s.id)
		return nil, fmt.Errorf("new transport: %w", err)
	}
	if err := t.AcquireLocalMedia(ctx, video); err != nil {
		t.Release()
		m.registry.Unregister(s.id)
		return nil, err
	}
	s.wireTransport(t)

	offer, err := t.CreateOffer(ctx)
	if err == nil {
		err = t.SetLocalDescription(offer)
	}
	if err != nil {
		t.Release()
		m.registry.Unregister(s.id)
		return nil, fmt.Errorf("%w: create offer: %v", ErrNegotiationFailed, err)
	}

	s.mu.Lock()
	s.transport = t
	s.localOffer = &offer
	s.armRingTimerLocked()
	s.mu.Unlock()

	if err := m.send(signaling.Message{
		Event:          signaling.EventStartCall,
		CallID:         s.id,
		CalleeID:       calleeID,
		IsVideo:        video,
		ConversationID: conversationID,
		Offer:          &offer,
	}); err != nil {
		t.Release()
		m.registry.Unregister(s.id)
		return nil, fmt.Errorf("%w: %v", ErrSignalingLost, err)
	}

	m.metrics.Inc(metrics.CallsStarted)
	m.log.Info("call started", "call_id", s.id, "callee", calleeID, "video", video)
	m.sink.CallRinging(s)
	return s, nil
}

// onCallReceived admits an inbound ringing call, or refuses it while another
// call holds the slot.
func (m *Manager) onCallReceived(msg signaling.Message) {
	id := msg.ID
	if m.isRecentTerminal(id) {
		m.metrics.Inc(metrics.SignalDroppedTerminal)
		return
	}
	if active := m.registry.Active(); active != nil && !active.State().Terminal() {
		if active.ID() == id {
			m.metrics.Inc(metrics.SignalDroppedDuplicate)
			return
		}
		// Busy, which also settles simultaneous cross-calls: each side
		// refuses the other's offer and keeps its own outgoing attempt.
		m.metrics.Inc(metrics.SignalDroppedBusy)
		m.dropEarly(id)
		m.log.Info("rejecting call while busy", "call_id", id, "active_call_id", active.ID())
		if err := m.send(signaling.Message{Event: signaling.EventRejectCall, CallID: id}); err != nil {
			m.log.Warn("busy reject not sent", "call_id", id, "err", err)
		}
		return
	}

	s := &Session{
		id:             id,
		role:           RoleCallee,
		peer:           *msg.Caller,
		isVideo:        msg.IsVideo,
		conversationID: msg.ConversationID,
		m:              m,
		state:          StateRinging,
		startedAt:      m.now(),
	}
	if err := m.registry.Register(s); err != nil {
		// Lost the slot to a concurrent StartCall.
		m.metrics.Inc(metrics.SignalDroppedBusy)
		m.dropEarly(id)
		if err := m.send(signaling.Message{Event: signaling.EventRejectCall, CallID: id}); err != nil {
			m.log.Warn("busy reject not sent", "call_id", id, "err", err)
		}
		return
	}
	s.mu.Lock()
	s.armRingTimerLocked()
	s.mu.Unlock()

	// Negotiation traffic that beat this call_received was held; replay it in
	// arrival order so the session buffers it like any other pre-answer signal.
	for _, held := range m.takeEarly(id) {
		switch held.Event {
		case signaling.EventOffer:
			s.handleOffer(*held.Offer)
		case signaling.EventICECandidate:
			s.handleCandidate(*held.Candidate)
		}
	}

	m.metrics.Inc(metrics.CallsIncoming)
	m.log.Info("incoming call", "call_id", id, "caller", s.peer.UserID, "video", s.isVideo)
	m.sink.CallIncoming(s)
}

func (m *Manager) onCallError(msg signaling.Message) {
	if msg.CallID == "" {
		m.log.Warn("signaling error", "err", msg.Error)
		return
	}
	h := m.route(func(s *Session, msg signaling.Message) {
		s.handleError(msg.Error)
	})
	h(msg)
}

// route binds a handler to the session identified by the message's call ID.
// Negotiation messages that outran call_received are held for replay; other
// messages for settled or unknown calls are counted and dropped.
func (m *Manager) route(fn func(s *Session, msg signaling.Message)) signaling.Handler {
	return func(msg signaling.Message) {
		s := m.registry.Active()
		if s == nil || s.ID() != msg.CallID {
			switch {
			case m.isRecentTerminal(msg.CallID):
				m.metrics.Inc(metrics.SignalDroppedTerminal)
			case msg.Event == signaling.EventOffer || msg.Event == signaling.EventICECandidate:
				// The channel orders messages per event type only, so the
				// offer or a candidate can land before call_received.
				m.holdEarly(msg)
			default:
				m.metrics.Inc(metrics.SignalDroppedUnknown)
				m.log.Debug("signal for unknown call", "call_id", msg.CallID, "event", msg.Event)
			}
			return
		}
		fn(s, msg)
	}
}

// holdEarly buffers msg until the call it belongs to is admitted. Buffers are
// bounded and expire when call_received never follows.
func (m *Manager) holdEarly(msg signaling.Message) {
	now := m.now()
	m.earlyMu.Lock()
	defer m.earlyMu.Unlock()
	for id, buf := range m.early {
		if now.Sub(buf[len(buf)-1].at) > earlySignalTTL {
			delete(m.early, id)
		}
	}
	buf := m.early[msg.CallID]
	if len(buf) >= earlySignalCap {
		m.metrics.Inc(metrics.SignalDroppedUnknown)
		return
	}
	m.early[msg.CallID] = append(buf, earlySignal{msg: msg, at: now})
	m.metrics.Inc(metrics.SignalHeldEarly)
	m.log.Debug("holding signal ahead of call_received", "call_id", msg.CallID, "event", msg.Event)
}

// takeEarly removes and returns the held messages for id, oldest first.
func (m *Manager) takeEarly(id string) []signaling.Message {
	m.earlyMu.Lock()
	buf := m.early[id]
	delete(m.early, id)
	m.earlyMu.Unlock()

	msgs := make([]signaling.Message, 0, len(buf))
	for _, e := range buf {
		msgs = append(msgs, e.msg)
	}
	return msgs
}

func (m *Manager) dropEarly(id string) {
	m.earlyMu.Lock()
	delete(m.early, id)
	m.earlyMu.Unlock()
}

func (m *Manager) onDisconnect(err error) {
	m.mu.Lock()
	m.channel = nil
	m.mu.Unlock()

	m.log.Warn("signaling channel lost", "err", err)
	if s := m.registry.Active(); s != nil {
		s.onSignalingLost(err)
	}
}

func (m *Manager) send(msg signaling.Message) error {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil {
		return ErrServiceNotReady
	}
	return ch.Send(msg)
}

// sessionFinished hands the active slot back and remembers the call ID so
// late signaling for it is classified as settled rather than unknown.
func (m *Manager) sessionFinished(s *Session) {
	m.registry.Unregister(s.ID())
	m.dropEarly(s.ID())

	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	if _, ok := m.recentIDs[s.ID()]; ok {
		return
	}
	m.recentIDs[s.ID()] = struct{}{}
	m.recentRing = append(m.recentRing, s.ID())
	if len(m.recentRing) > recentTerminalCap {
		evicted := m.recentRing[0]
		m.recentRing = m.recentRing[1:]
		delete(m.recentIDs, evicted)
	}
}

func (m *Manager) isRecentTerminal(id string) bool {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	_, ok := m.recentIDs[id]
	return ok
}

// Close ends any live call and detaches from the signaling channel. The
// channel itself is owned by the caller and not closed here.
func (m *Manager) Close() error {
	var endErr error
	if s := m.Active(); s != nil {
		endErr = s.End()
	}
	m.mu.Lock()
	m.channel = nil
	m.mu.Unlock()
	return endErr
}
