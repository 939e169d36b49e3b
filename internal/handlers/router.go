package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/presence"
	"github.com/mossy-p/meeting-signaling/internal/signaling"
	"github.com/rs/zerolog"
)

type Deps struct {
	Hub            *signaling.Hub
	Users          Registrar
	Presence       presence.Store
	JWTSecret      string
	AllowedOrigins []string
	Logger         *zerolog.Logger
}

// NewEngine builds the HTTP surface: health, login, meeting status and the
// websocket signaling endpoint
func NewEngine(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(d.Logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.JWTAuth(d.JWTSecret)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(d.Users, d.JWTSecret, d.Logger))
		apiGroup.GET("/meetings/:meetingId", auth, GetMeeting(d.Presence, d.Logger))
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/meetings/:meetingId", auth, HandleSignaling(d.Hub, d.Logger))
	}

	return router
}
