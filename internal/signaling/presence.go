package signaling

import (
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/rs/zerolog"
)

// Broadcaster turns registry membership changes into presence events.
// It runs under the room lock, so every member sees joins and leaves in
// registry order.
type Broadcaster struct {
	out    Deliverer
	logger zerolog.Logger
}

var _ registry.Observer = (*Broadcaster)(nil)

func NewBroadcaster(out Deliverer, logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		out:    out,
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

func (b *Broadcaster) Joined(res registry.JoinResult) {
	roster, err := models.NewEnvelope(models.EventParticipantsList, res.Roster)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to build participants list")
		return
	}
	b.out.Deliver(res.Session.ConnectionID, roster)

	// the others already know this connection
	if res.Repeated {
		return
	}

	joined, err := models.NewEnvelope(models.EventUserJoined, models.ParticipantInfo{
		UserID:   res.Session.ParticipantID,
		Username: res.Session.DisplayName,
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to build user-joined")
		return
	}
	sent := b.fanout(res.Recipients, joined)

	b.logger.Debug().
		Str("meetingID", res.MeetingID).
		Str("participantID", res.Session.ParticipantID).
		Int("roster", len(res.Roster)).
		Int("notified", sent).
		Msg("join announced")
}

func (b *Broadcaster) Left(res registry.LeaveResult) {
	if !res.WasPresent {
		return
	}
	left, err := models.NewEnvelope(models.EventUserLeft, models.UserLeft{UserID: res.ParticipantID})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to build user-left")
		return
	}
	sent := b.fanout(res.Recipients, left)

	b.logger.Debug().
		Str("meetingID", res.MeetingID).
		Str("participantID", res.ParticipantID).
		Int("notified", sent).
		Msg("leave announced")
}

// Evicted rooms were idle for the whole ttl; nobody is owed a notice.
func (b *Broadcaster) Evicted(string) {}

func (b *Broadcaster) Touched(string) {}

func (b *Broadcaster) fanout(connIDs []string, env models.Envelope) int {
	sent := 0
	for _, id := range connIDs {
		if b.out.Deliver(id, env) {
			sent++
		}
	}
	return sent
}
