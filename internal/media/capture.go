package media

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// CaptureSource opens local capture tracks. Platform capture (camera,
// microphone) plugs in behind this; Open returns ErrDeviceAccessDenied when
// hardware or permission is unavailable.
type CaptureSource interface {
	Open(video bool) ([]webrtc.TrackLocal, func(), error)
}

// SyntheticSource produces silent placeholder tracks. Headless agents and the
// loopback example negotiate real peer connections with it, without touching
// any capture hardware.
type SyntheticSource struct{}

func (SyntheticSource) Open(video bool) ([]webrtc.TrackLocal, func(), error) {
	streamID := "callcore-" + uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create audio track: %w", err)
	}
	tracks := []webrtc.TrackLocal{audio}

	if video {
		vt, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", streamID,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create video track: %w", err)
		}
		tracks = append(tracks, vt)
	}

	return tracks, func() {}, nil
}
