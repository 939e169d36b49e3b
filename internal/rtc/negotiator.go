package rtc

import (
	"errors"
	"fmt"

	"github.com/mossy-p/meeting-signaling/internal/peer"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var ErrUnsupportedTrack = errors.New("track was not created by this package")

type Config struct {
	ICEServers []string
	Logger     *zerolog.Logger
}

// Negotiator opens pion peer connections, one per remote participant
type Negotiator struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger zerolog.Logger
}

var _ peer.Negotiator = (*Negotiator)(nil)

func NewNegotiator(cfg Config) (*Negotiator, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	config := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return &Negotiator{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)),
		config: config,
		logger: cfg.Logger.With().Str("component", "rtc").Logger(),
	}, nil
}

// NewSession creates a peer connection carrying the local tracks. An
// initiator emits its offer before returning.
func (n *Negotiator) NewSession(remoteID string, initiator bool, local peer.LocalStream, emit func(peer.SessionEvent)) (peer.Session, error) {
	pc, err := n.api.NewPeerConnection(n.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &session{
		remoteID: remoteID,
		pc:       pc,
		emit:     emit,
		logger:   n.logger.With().Str("remoteID", remoteID).Logger(),
	}

	if err := s.addLocal(local); err != nil {
		_ = pc.Close()
		return nil, err
	}
	s.watch()

	if initiator {
		if err := s.offer(); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	return s, nil
}
