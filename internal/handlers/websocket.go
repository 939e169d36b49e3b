package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/signaling"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades an authenticated request into a meeting
// connection. The meeting comes from the path, the user from the token.
func HandleSignaling(hub *signaling.Hub, logger *zerolog.Logger) gin.HandlerFunc {
	l := logger.With().Str("component", "websocket").Logger()
	return func(c *gin.Context) {
		meetingID := c.Param("meetingId")
		if meetingID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "meetingId is required"})
			return
		}
		userID := c.GetString(middleware.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			l.Warn().Err(err).Msg("failed to upgrade connection")
			return
		}

		hub.Serve(conn, meetingID, userID)
	}
}
