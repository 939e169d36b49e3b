package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/meeting-signaling/internal/directory"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/rs/zerolog"
)

const defaultLookupTimeout = 5 * time.Second

var (
	ErrWrongMeeting = errors.New("join-meeting names a different meeting than the connection")
	ErrWrongUser    = errors.New("join-meeting names a different user than the token")
	ErrLookup       = errors.New("unable to resolve user")
)

type Config struct {
	Registry      *registry.Registry
	Connections   *Connections
	Directory     directory.Directory
	Logger        *zerolog.Logger
	LookupTimeout time.Duration
}

// Hub dispatches inbound websocket events to the registry, router and relay.
// Events from one connection are handled in order on its read pump.
type Hub struct {
	registry  *registry.Registry
	conns     *Connections
	directory directory.Directory
	router    *Router
	relay     *Relay

	lookupTimeout time.Duration
	logger        zerolog.Logger
}

// NewHub wires a hub. The registry is expected to carry a Broadcaster built
// on the same Connections so presence events reach these clients.
func NewHub(cfg Config) *Hub {
	lookupTimeout := cfg.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	return &Hub{
		registry:      cfg.Registry,
		conns:         cfg.Connections,
		directory:     cfg.Directory,
		router:        NewRouter(cfg.Registry, cfg.Connections, cfg.Logger),
		relay:         NewRelay(cfg.Registry, cfg.Connections, cfg.Logger),
		lookupTimeout: lookupTimeout,
		logger:        cfg.Logger.With().Str("component", "hub").Logger(),
	}
}

// Serve takes ownership of an upgraded connection and runs its pumps
func (h *Hub) Serve(conn *websocket.Conn, meetingID, userID string) *Client {
	c := newClient(h, conn, uuid.New().String(), meetingID, userID)
	h.conns.add(c)
	c.logger.Info().Msg("client connected")

	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) handle(c *Client, env models.Envelope) {
	var err error
	switch env.Event {
	case models.EventJoinMeeting:
		err = h.join(c, env)
	case models.EventLeaveMeeting:
		h.teardown(c)
	case models.EventSignal:
		err = h.signal(c, env)
	case models.EventChatMessage:
		err = h.chat(c, env)
	case models.EventMediaStateChange:
		err = h.mediaState(c, env)
	default:
		c.logger.Warn().Str("event", string(env.Event)).Msg("unknown event")
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("event", string(env.Event)).Msg("event rejected")
	}
}

func (h *Hub) join(c *Client, env models.Envelope) error {
	var req models.JoinMeeting
	if err := env.Decode(&req); err != nil {
		return err
	}
	if req.MeetingID != c.MeetingID {
		c.sendError(ErrWrongMeeting.Error())
		return ErrWrongMeeting
	}
	if req.UserID != c.UserID {
		c.sendError(ErrWrongUser.Error())
		return ErrWrongUser
	}

	// resolve the username before touching any room state
	ctx, cancel := context.WithTimeout(context.Background(), h.lookupTimeout)
	user, err := h.directory.Lookup(ctx, req.UserID)
	cancel()
	if err != nil {
		c.sendError(ErrLookup.Error())
		return errors.Join(ErrLookup, err)
	}

	h.registry.Join(c.MeetingID, registry.Session{
		ParticipantID: user.ID,
		ConnectionID:  c.ID,
		DisplayName:   user.Username,
	})
	c.logger.Info().Str("username", user.Username).Msg("joined meeting")
	return nil
}

// teardown is the single exit path for explicit leaves and dropped transports
func (h *Hub) teardown(c *Client) {
	res := h.registry.LeaveConnection(c.ID)
	if res.WasPresent {
		c.logger.Info().Bool("roomNowEmpty", res.RoomNowEmpty).Msg("left meeting")
	}
}

func (h *Hub) disconnect(c *Client) {
	h.teardown(c)
	h.conns.remove(c.ID)
	c.logger.Info().Msg("client disconnected")
}

// participant returns who the connection currently speaks for
func (h *Hub) participant(c *Client) (registry.Binding, bool) {
	b, ok := h.registry.Binding(c.ID)
	if !ok {
		c.logger.Debug().Msg("event from connection that has not joined")
	}
	return b, ok
}

func (h *Hub) signal(c *Client, env models.Envelope) error {
	var req models.SignalRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	b, ok := h.participant(c)
	if !ok {
		return nil
	}
	h.router.Relay(b.MeetingID, b.ParticipantID, req.To, req.Signal)
	return nil
}

func (h *Hub) chat(c *Client, env models.Envelope) error {
	var req models.ChatRequest
	if err := env.Decode(&req); err != nil {
		return err
	}
	b, ok := h.participant(c)
	if !ok {
		return nil
	}
	h.relay.Chat(b.MeetingID, b.ParticipantID, req.Message)
	return nil
}

func (h *Hub) mediaState(c *Client, env models.Envelope) error {
	var req models.MediaStateChange
	if err := env.Decode(&req); err != nil {
		return err
	}
	if req.Type != models.MediaAudio && req.Type != models.MediaVideo {
		return errors.New("unknown media type " + string(req.Type))
	}
	b, ok := h.participant(c)
	if !ok {
		return nil
	}
	h.relay.MediaState(b.MeetingID, b.ParticipantID, req)
	return nil
}
