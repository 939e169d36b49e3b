package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// Track is a local track fed with synthetic frames. Disabled tracks stay
// negotiated but stop writing samples.
type Track struct {
	local    *webrtc.TrackLocalStaticSample
	kind     models.MediaKind
	frame    []byte
	interval time.Duration

	enabled atomic.Bool
	ended   chan struct{}
	once    sync.Once
}

var _ peer.Track = (*Track)(nil)

func newTrack(kind models.MediaKind, id, streamID string) (*Track, error) {
	var (
		codec    webrtc.RTPCodecCapability
		frame    []byte
		interval time.Duration
	)
	switch kind {
	case models.MediaAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		// opus silence frame
		frame = []byte{0xf8, 0xff, 0xfe}
		interval = audioFrameInterval
	case models.MediaVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		frame = make([]byte, 64)
		interval = videoFrameInterval
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}

	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{
		local:    local,
		kind:     kind,
		frame:    frame,
		interval: interval,
		ended:    make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.run()
	return t, nil
}

func (t *Track) run() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ended:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			_ = t.local.WriteSample(media.Sample{Data: t.frame, Duration: t.interval})
		}
	}
}

func (t *Track) ID() string              { return t.local.ID() }
func (t *Track) Kind() models.MediaKind  { return t.kind }
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *Track) Enabled() bool           { return t.enabled.Load() }
func (t *Track) Ended() <-chan struct{}  { return t.ended }

func (t *Track) Stop() {
	t.once.Do(func() { close(t.ended) })
}

// SyntheticSource produces generated camera, microphone and screen tracks.
// It lets a headless client take part in a meeting.
type SyntheticSource struct {
	StreamID string
	screens  atomic.Int64
}

var _ peer.MediaSource = (*SyntheticSource)(nil)

func (s *SyntheticSource) CaptureUserMedia(ctx context.Context) (peer.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return peer.LocalStream{}, err
	}
	audio, err := newTrack(models.MediaAudio, "audio-"+s.StreamID, s.StreamID)
	if err != nil {
		return peer.LocalStream{}, err
	}
	video, err := newTrack(models.MediaVideo, "camera-"+s.StreamID, s.StreamID)
	if err != nil {
		audio.Stop()
		return peer.LocalStream{}, err
	}
	return peer.LocalStream{Audio: audio, Video: video}, nil
}

func (s *SyntheticSource) CaptureScreen(ctx context.Context) (peer.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.screens.Add(1)
	t, err := newTrack(models.MediaVideo, fmt.Sprintf("screen-%s-%d", s.StreamID, n), s.StreamID)
	if err != nil {
		return nil, err
	}
	return t, nil
}
