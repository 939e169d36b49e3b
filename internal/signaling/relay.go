package signaling

import (
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/rs/zerolog"
)

// Relay rebroadcasts chat and media-state events to the rest of a room.
// Nothing is stored and delivery is best effort.
type Relay struct {
	registry *registry.Registry
	out      Deliverer
	logger   zerolog.Logger
}

func NewRelay(reg *registry.Registry, out Deliverer, logger *zerolog.Logger) *Relay {
	return &Relay{
		registry: reg,
		out:      out,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// Chat sends msg to everyone in the room but the sender. The meeting id is
// not part of the rebroadcast payload.
func (r *Relay) Chat(meetingID, fromID string, msg models.ChatMessage) int {
	msg.UserID = fromID
	env, err := models.NewEnvelope(models.EventChatMessage, msg)
	if err != nil {
		r.logger.Error().Err(err).Msg("chat dropped")
		return 0
	}
	return r.broadcast(meetingID, fromID, env)
}

// MediaState forwards an advisory media toggle
func (r *Relay) MediaState(meetingID, fromID string, ev models.MediaStateChange) int {
	ev.MeetingID = meetingID
	ev.UserID = fromID
	env, err := models.NewEnvelope(models.EventMediaStateChange, ev)
	if err != nil {
		r.logger.Error().Err(err).Msg("media state dropped")
		return 0
	}
	return r.broadcast(meetingID, fromID, env)
}

func (r *Relay) broadcast(meetingID, fromID string, env models.Envelope) int {
	r.registry.Touch(meetingID)

	sent := 0
	for _, id := range r.registry.Members(meetingID, fromID) {
		if r.out.Deliver(id, env) {
			sent++
		}
	}
	r.logger.Trace().
		Str("meetingID", meetingID).
		Str("from", fromID).
		Str("event", string(env.Event)).
		Int("delivered", sent).
		Msg("relayed")
	return sent
}
