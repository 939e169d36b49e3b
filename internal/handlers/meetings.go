package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/meeting-signaling/internal/presence"
	"github.com/rs/zerolog"
)

// GetMeeting returns the mirrored participant list of a meeting
func GetMeeting(store presence.Store, logger *zerolog.Logger) gin.HandlerFunc {
	l := logger.With().Str("component", "meetings").Logger()
	return func(c *gin.Context) {
		meetingID := c.Param("meetingId")

		status, err := presence.Status(c.Request.Context(), store, meetingID)
		if err != nil {
			l.Error().Err(err).Str("meetingID", meetingID).Msg("failed to read meeting status")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read meeting"})
			return
		}
		if status.Count == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not active"})
			return
		}

		c.JSON(http.StatusOK, status)
	}
}
