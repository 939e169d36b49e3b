package peer

import (
	"context"
	"encoding/json"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

// Track is a local media track that can be muted, stopped and swapped
type Track interface {
	ID() string
	Kind() models.MediaKind
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
	// Ended is closed when the track stops producing media, either through
	// Stop or because its source went away.
	Ended() <-chan struct{}
}

// LocalStream is the captured camera and microphone. Either may be nil.
type LocalStream struct {
	Audio Track
	Video Track
}

func (s LocalStream) tracks() []Track {
	var out []Track
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// MediaSource captures local media
type MediaSource interface {
	CaptureUserMedia(ctx context.Context) (LocalStream, error)
	CaptureScreen(ctx context.Context) (Track, error)
}

type SessionEventKind int

const (
	// SessionSignal carries a blob to forward to the remote participant
	SessionSignal SessionEventKind = iota
	SessionConnect
	SessionStream
	SessionError
	SessionClose
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionSignal:
		return "signal"
	case SessionConnect:
		return "connect"
	case SessionStream:
		return "stream"
	case SessionError:
		return "error"
	case SessionClose:
		return "close"
	}
	return "unknown"
}

// RemoteTrack describes media received from a remote participant
type RemoteTrack struct {
	ID   string
	Kind models.MediaKind
}

type SessionEvent struct {
	Kind   SessionEventKind
	Signal json.RawMessage
	Track  RemoteTrack
	Err    error
}

// Session is one negotiated connection to a single remote participant.
// Destroy must be safe to call on a session that already failed or closed.
type Session interface {
	ApplySignal(signal json.RawMessage) error
	ReplaceOutgoingTrack(old, next Track) error
	Destroy() error
}

// Negotiator opens sessions. emit may be called from any goroutine,
// including before NewSession returns.
type Negotiator interface {
	NewSession(remoteID string, initiator bool, local LocalStream, emit func(SessionEvent)) (Session, error)
}

// Transport is the client side of the signaling connection
type Transport interface {
	Send(event models.EventType, data any) error
	Events() <-chan models.Envelope
	Close() error
}
