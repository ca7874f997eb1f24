package call

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/communehq/callcore/internal/calllog"
	"github.com/communehq/callcore/internal/media"
	"github.com/communehq/callcore/internal/signaling"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is a scripted media.Transport. Tests drive its connection
// state through fire.
type fakeTransport struct {
	mu sync.Mutex
	// acquireHook, when set, runs while acquisition is in flight; tests use
	// it to race other events against the device prompt.
	acquireHook   func()
	acquireErr    error
	acquired      bool
	acquiredVideo bool
	localDesc     media.SessionDescription
	remoteDesc    media.SessionDescription
	remoteSet     bool
	candidates    []media.Candidate
	released      int
	audioEnabled  bool
	videoEnabled  bool

	onLocalCandidate func(media.Candidate)
	onTransport      func(media.ConnState)
	onConnectivity   func(media.ConnState)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{audioEnabled: true, videoEnabled: true}
}

func (f *fakeTransport) AcquireLocalMedia(ctx context.Context, video bool) error {
	f.mu.Lock()
	hook := f.acquireHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = true
	f.acquiredVideo = video
	return nil
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (media.SessionDescription, error) {
	return media.SessionDescription{Type: "offer", SDP: "v=0 fake-offer"}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (media.SessionDescription, error) {
	return media.SessionDescription{Type: "answer", SDP: "v=0 fake-answer"}, nil
}

func (f *fakeTransport) SetLocalDescription(desc media.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localDesc = desc
	return nil
}

func (f *fakeTransport) SetRemoteDescription(desc media.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDesc = desc
	f.remoteSet = true
	return nil
}

func (f *fakeTransport) AddRemoteCandidate(c media.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) OnLocalCandidate(fn func(media.Candidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLocalCandidate = fn
}

func (f *fakeTransport) OnTransportState(fn func(media.ConnState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTransport = fn
}

func (f *fakeTransport) OnConnectivityState(fn func(media.ConnState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnectivity = fn
}

func (f *fakeTransport) SetAudioEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioEnabled = enabled
	return nil
}

func (f *fakeTransport) SetVideoEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoEnabled = enabled
	return nil
}

func (f *fakeTransport) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakeTransport) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *fakeTransport) remoteCandidates() []media.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]media.Candidate, len(f.candidates))
	copy(out, f.candidates)
	return out
}

// fireTransport delivers the primary connection-state signal.
func (f *fakeTransport) fireTransport(cs media.ConnState) {
	f.mu.Lock()
	fn := f.onTransport
	f.mu.Unlock()
	if fn != nil {
		fn(cs)
	}
}

// fireConnectivity delivers the secondary connection-state signal.
func (f *fakeTransport) fireConnectivity(cs media.ConnState) {
	f.mu.Lock()
	fn := f.onConnectivity
	f.mu.Unlock()
	if fn != nil {
		fn(cs)
	}
}

// emitCandidate announces a locally discovered candidate.
func (f *fakeTransport) emitCandidate(c media.Candidate) {
	f.mu.Lock()
	fn := f.onLocalCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// fakeFactory hands out one prepared transport per call attempt.
type fakeFactory struct {
	mu    sync.Mutex
	queue []*fakeTransport
	made  []*fakeTransport
	err   error
}

func (f *fakeFactory) NewTransport() (media.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var t *fakeTransport
	if len(f.queue) > 0 {
		t = f.queue[0]
		f.queue = f.queue[1:]
	} else {
		t = newFakeTransport()
	}
	f.made = append(f.made, t)
	return t, nil
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) == 0 {
		return nil
	}
	return f.made[len(f.made)-1]
}

// chanSink exposes sink callbacks as channels so tests can wait on them.
type chanSink struct {
	ringing   chan *Session
	incoming  chan *Session
	accepted  chan *Session
	connected chan *Session
	ended     chan calllog.Record
	failed    chan error
}

func newChanSink() *chanSink {
	return &chanSink{
		ringing:   make(chan *Session, 4),
		incoming:  make(chan *Session, 4),
		accepted:  make(chan *Session, 4),
		connected: make(chan *Session, 4),
		ended:     make(chan calllog.Record, 4),
		failed:    make(chan error, 4),
	}
}

func (c *chanSink) CallRinging(s *Session)                 { c.ringing <- s }
func (c *chanSink) CallIncoming(s *Session)                { c.incoming <- s }
func (c *chanSink) CallAccepted(s *Session)                { c.accepted <- s }
func (c *chanSink) CallConnected(s *Session)               { c.connected <- s }
func (c *chanSink) CallEnded(s *Session, r calllog.Record) { c.ended <- r }
func (c *chanSink) CallFailed(s *Session, err error)       { c.failed <- err }

// memWriter captures call log messages in memory.
type memWriter struct {
	mu   sync.Mutex
	msgs []calllog.Message
}

func (w *memWriter) WriteCallLog(ctx context.Context, msg calllog.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
	return nil
}

func (w *memWriter) entries() []calllog.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]calllog.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// fakeClock is a manually advanced time source shared by both ends of a test
// call.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// endpoint is one party of a test call: a manager with fakes behind it.
type endpoint struct {
	manager *Manager
	factory *fakeFactory
	sink    *chanSink
	writer  *memWriter
	channel signaling.Channel
}

func newEndpoint(t *testing.T, cfg ManagerConfig, ch signaling.Channel, clock *fakeClock) *endpoint {
	t.Helper()
	ep := &endpoint{
		factory: &fakeFactory{},
		sink:    newChanSink(),
		writer:  &memWriter{},
		channel: ch,
	}
	rec := calllog.NewReconciler(ep.writer, nil, nil, testLogger(t))
	ep.manager = NewManager(cfg, ep.factory, ep.sink, rec, nil, testLogger(t))
	ep.manager.now = clock.Now
	ep.manager.Attach(ch)
	return ep
}

// testPair wires two endpoints through the in-memory loopback relay.
func testPair(t *testing.T, callerCfg, calleeCfg ManagerConfig) (*endpoint, *endpoint, *fakeClock) {
	t.Helper()
	chA, chB := signaling.Loopback(callerCfg.Local, calleeCfg.Local)
	t.Cleanup(func() {
		chA.Close()
		chB.Close()
	})
	clock := newFakeClock()
	return newEndpoint(t, callerCfg, chA, clock), newEndpoint(t, calleeCfg, chB, clock), clock
}

func waitSession(t *testing.T, ch chan *Session, what string) *Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func waitRecord(t *testing.T, ch chan calllog.Record, what string) calllog.Record {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return calllog.Record{}
	}
}

func waitErr(t *testing.T, ch chan error, what string) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting until %s", what)
}
