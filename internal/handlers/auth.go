package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/rs/zerolog"
)

const tokenTTL = 24 * time.Hour

// Registrar creates or finds directory users by username
type Registrar interface {
	Register(ctx context.Context, username string) (models.User, error)
}

// Login handles user login and JWT generation.
// For demo purposes, accepts any username/password combination.
func Login(users Registrar, jwtSecret string, logger *zerolog.Logger) gin.HandlerFunc {
	l := logger.With().Str("component", "auth").Logger()
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		user, err := users.Register(c.Request.Context(), req.Username)
		if err != nil {
			l.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to register user",
			})
			return
		}

		token, err := middleware.IssueToken(jwtSecret, user.ID, tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		l.Info().Str("userID", user.ID).Str("username", user.Username).Msg("user logged in")
		c.JSON(http.StatusOK, models.LoginResponse{
			Token:  token,
			UserID: user.ID,
		})
	}
}
