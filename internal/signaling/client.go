package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Large enough for non-trickled SDP.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Client is one websocket connection. The meeting and user it may act for
// are fixed at connect time. Whether it currently serves a participant is
// answered by the registry's reverse index, not by the client.
type Client struct {
	ID        string
	MeetingID string
	UserID    string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	logger zerolog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, id, meetingID, userID string) *Client {
	return &Client{
		ID:        id,
		MeetingID: meetingID,
		UserID:    userID,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		logger: hub.logger.With().
			Str("connectionID", id).
			Str("meetingID", meetingID).
			Str("userID", userID).
			Logger(),
	}
}

// enqueue hands a frame to the write pump without blocking
func (c *Client) enqueue(env models.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(env.Event)).Msg("failed to marshal message")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn().Str("event", string(env.Event)).Msg("failed to send message, buffer full")
		return false
	}
}

func (c *Client) sendError(msg string) {
	env, err := models.NewEnvelope(models.EventError, models.ErrorPayload{Error: msg})
	if err != nil {
		return
	}
	c.enqueue(env)
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn().Err(err).Msg("failed to parse message")
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
