package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var errConnectionFailed = errors.New("peer connection failed")

// session wraps one pion peer connection. ApplySignal and
// ReplaceOutgoingTrack are called from a single goroutine.
type session struct {
	remoteID string
	pc       *webrtc.PeerConnection
	emit     func(peer.SessionEvent)
	video    *webrtc.RTPSender
	logger   zerolog.Logger

	// held while a local description is set and announced, so candidates
	// never overtake it
	sigMu   sync.Mutex
	pending []webrtc.ICECandidateInit
	once    sync.Once
}

func (s *session) addLocal(local peer.LocalStream) error {
	if local.Audio != nil {
		sender, err := s.addTrack(local.Audio)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	} else if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	// video always gets a sender so a track can be swapped in later
	if local.Video != nil {
		sender, err := s.addTrack(local.Video)
		if err != nil {
			return err
		}
		s.video = sender
	} else {
		tr, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return err
		}
		s.video = tr.Sender()
	}
	go drainRTCP(s.video)
	return nil
}

func (s *session) addTrack(t peer.Track) (*webrtc.RTPSender, error) {
	track, ok := t.(*Track)
	if !ok {
		return nil, ErrUnsupportedTrack
	}
	sender, err := s.pc.AddTrack(track.local)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s track: %w", track.kind, err)
	}
	return sender, nil
}

// drainRTCP reads incoming RTCP so interceptors keep working
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (s *session) watch() {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.sigMu.Lock()
		defer s.sigMu.Unlock()
		s.signal(models.Signal{
			Type: models.SignalCandidate,
			Candidate: &models.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			},
		})
	})

	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug().Str("state", state.String()).Msg("connection state changed")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.emit(peer.SessionEvent{Kind: peer.SessionConnect})
		case webrtc.PeerConnectionStateFailed:
			s.emit(peer.SessionEvent{Kind: peer.SessionError, Err: errConnectionFailed})
		case webrtc.PeerConnectionStateClosed:
			s.emit(peer.SessionEvent{Kind: peer.SessionClose})
		}
	})

	s.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := models.MediaVideo
		if remote.Kind() == webrtc.RTPCodecTypeAudio {
			kind = models.MediaAudio
		}
		s.emit(peer.SessionEvent{
			Kind:  peer.SessionStream,
			Track: peer.RemoteTrack{ID: remote.ID(), Kind: kind},
		})

		go func() {
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
}

func (s *session) signal(sig models.Signal) {
	raw, err := json.Marshal(sig)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal signal")
		return
	}
	s.emit(peer.SessionEvent{Kind: peer.SessionSignal, Signal: raw})
}

func (s *session) offer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return s.announce(models.SignalOffer, offer)
}

func (s *session) answer() error {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	return s.announce(models.SignalAnswer, answer)
}

func (s *session) announce(kind models.SignalKind, desc webrtc.SessionDescription) error {
	s.sigMu.Lock()
	defer s.sigMu.Unlock()
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	s.signal(models.Signal{Type: kind, SDP: desc.SDP})
	return nil
}

func (s *session) ApplySignal(raw json.RawMessage) error {
	sig, err := models.ParseSignal(raw)
	if err != nil {
		return err
	}

	switch sig.Type {
	case models.SignalOffer:
		if err := s.setRemote(webrtc.SDPTypeOffer, sig.SDP); err != nil {
			return err
		}
		return s.answer()
	case models.SignalAnswer:
		return s.setRemote(webrtc.SDPTypeAnswer, sig.SDP)
	case models.SignalCandidate:
		init := webrtc.ICECandidateInit{
			Candidate:     sig.Candidate.Candidate,
			SDPMid:        sig.Candidate.SDPMid,
			SDPMLineIndex: sig.Candidate.SDPMLineIndex,
		}
		// candidates may arrive before the description they belong to
		if s.pc.RemoteDescription() == nil {
			s.pending = append(s.pending, init)
			return nil
		}
		return s.pc.AddICECandidate(init)
	}
	return nil
}

func (s *session) setRemote(kind webrtc.SDPType, sdp string) error {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: kind, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.logger.Debug().Err(err).Msg("dropping buffered candidate")
		}
	}
	return nil
}

// ReplaceOutgoingTrack swaps the video sender's track without renegotiating
func (s *session) ReplaceOutgoingTrack(_, next peer.Track) error {
	if next == nil {
		return s.video.ReplaceTrack(nil)
	}
	track, ok := next.(*Track)
	if !ok {
		return ErrUnsupportedTrack
	}
	return s.video.ReplaceTrack(track.local)
}

func (s *session) Destroy() error {
	var err error
	s.once.Do(func() {
		err = s.pc.Close()
	})
	return err
}
