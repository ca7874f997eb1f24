package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// NewAPI builds a pion API with the given logger factory bridged into the
// pion stack. A nil factory leaves pion's default logging in place.
func NewAPI(lf logging.LoggerFactory) *webrtc.API {
	se := webrtc.SettingEngine{}
	if lf != nil {
		se.LoggerFactory = lf
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// PionFactory creates one pion-backed Transport per call attempt.
type PionFactory struct {
	// API is the pion API to construct PeerConnections with. When nil a
	// default API is used.
	API *webrtc.API

	// ICEServers is the STUN/TURN server list for connectivity establishment.
	ICEServers []webrtc.ICEServer

	// Capture provides local tracks. Defaults to SyntheticSource.
	Capture CaptureSource
}

func (f *PionFactory) NewTransport() (Transport, error) {
	api := f.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: f.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	capture := f.Capture
	if capture == nil {
		capture = SyntheticSource{}
	}
	return &pionTransport{pc: pc, capture: capture}, nil
}

type pionTransport struct {
	pc      *webrtc.PeerConnection
	capture CaptureSource

	mu           sync.Mutex
	released     bool
	closeCapture func()
	audioTrack   webrtc.TrackLocal
	videoTrack   webrtc.TrackLocal
	audioSender  *webrtc.RTPSender
	videoSender  *webrtc.RTPSender

	releaseOnce sync.Once
}

func (t *pionTransport) AcquireLocalMedia(ctx context.Context, video bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isReleased() {
		return ErrReleased
	}

	tracks, closeCapture, err := t.capture.Open(video)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCapture = closeCapture

	for _, track := range tracks {
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			t.audioTrack, t.audioSender = track, sender
		case webrtc.RTPCodecTypeVideo:
			t.videoTrack, t.videoSender = track, sender
		}
	}
	return nil
}

func (t *pionTransport) CreateOffer(ctx context.Context) (SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return SessionDescription{}, err
	}
	if t.isReleased() {
		return SessionDescription{}, ErrReleased
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return sdpFromPion(offer), nil
}

func (t *pionTransport) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return SessionDescription{}, err
	}
	if t.isReleased() {
		return SessionDescription{}, ErrReleased
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return sdpFromPion(answer), nil
}

func (t *pionTransport) SetLocalDescription(desc SessionDescription) error {
	if t.isReleased() {
		return ErrReleased
	}
	pionDesc, err := desc.toPion()
	if err != nil {
		return err
	}
	return t.pc.SetLocalDescription(pionDesc)
}

func (t *pionTransport) SetRemoteDescription(desc SessionDescription) error {
	if t.isReleased() {
		return ErrReleased
	}
	pionDesc, err := desc.toPion()
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(pionDesc)
}

func (t *pionTransport) AddRemoteCandidate(c Candidate) error {
	if t.isReleased() {
		return ErrReleased
	}
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (t *pionTransport) OnLocalCandidate(fn func(Candidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-gathering marker, not a candidate.
			return
		}
		init := c.ToJSON()
		fn(Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (t *pionTransport) OnTransportState(fn func(ConnState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(connStateFromPeer(state))
	})
}

func (t *pionTransport) OnConnectivityState(fn func(ConnState)) {
	t.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		fn(connStateFromICE(state))
	})
}

func (t *pionTransport) SetAudioEnabled(enabled bool) error {
	t.mu.Lock()
	sender, track := t.audioSender, t.audioTrack
	t.mu.Unlock()
	return replaceTrack(sender, track, enabled)
}

func (t *pionTransport) SetVideoEnabled(enabled bool) error {
	t.mu.Lock()
	sender, track := t.videoSender, t.videoTrack
	t.mu.Unlock()
	return replaceTrack(sender, track, enabled)
}

func replaceTrack(sender *webrtc.RTPSender, track webrtc.TrackLocal, enabled bool) error {
	if sender == nil {
		return nil
	}
	if enabled {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

func (t *pionTransport) Release() {
	t.releaseOnce.Do(func() {
		t.mu.Lock()
		t.released = true
		closeCapture := t.closeCapture
		t.closeCapture = nil
		t.mu.Unlock()

		if closeCapture != nil {
			closeCapture()
		}
		_ = t.pc.Close()
	})
}

func (t *pionTransport) isReleased() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

func sdpFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (d SessionDescription) toPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func connStateFromPeer(state webrtc.PeerConnectionState) ConnState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return ConnStateNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		// Disconnected may recover; only Failed is fatal.
		return ConnStateConnecting
	case webrtc.PeerConnectionStateFailed:
		return ConnStateFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnStateClosed
	default:
		return ConnStateNew
	}
}

func connStateFromICE(state webrtc.ICEConnectionState) ConnState {
	switch state {
	case webrtc.ICEConnectionStateNew:
		return ConnStateNew
	case webrtc.ICEConnectionStateChecking:
		return ConnStateConnecting
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return ConnStateConnected
	case webrtc.ICEConnectionStateDisconnected:
		return ConnStateConnecting
	case webrtc.ICEConnectionStateFailed:
		return ConnStateFailed
	case webrtc.ICEConnectionStateClosed:
		return ConnStateClosed
	default:
		return ConnStateNew
	}
}
