package signaling

import (
	"encoding/json"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/rs/zerolog"
)

// Router forwards negotiation blobs between two members of a room. It never
// looks inside the blob.
type Router struct {
	registry *registry.Registry
	out      Deliverer
	logger   zerolog.Logger
}

func NewRouter(reg *registry.Registry, out Deliverer, logger *zerolog.Logger) *Router {
	return &Router{
		registry: reg,
		out:      out,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Relay delivers payload to toID as coming from fromID. A target that is not
// in the room is dropped silently; the sender is never told.
func (r *Router) Relay(meetingID, fromID, toID string, payload json.RawMessage) bool {
	logger := r.logger.With().
		Str("meetingID", meetingID).
		Str("from", fromID).
		Str("to", toID).
		Logger()

	r.registry.Touch(meetingID)

	connID, ok := r.registry.ResolveConnection(meetingID, toID)
	if !ok {
		logger.Debug().Msg("signal dropped, target not in room")
		return false
	}

	env, err := models.NewEnvelope(models.EventSignal, models.SignalDelivery{
		UserID: fromID,
		Signal: payload,
	})
	if err != nil {
		logger.Error().Err(err).Msg("signal dropped")
		return false
	}
	if !r.out.Deliver(connID, env) {
		logger.Debug().Msg("signal dropped, target connection gone")
		return false
	}
	logger.Trace().Msg("signal forwarded")
	return true
}
