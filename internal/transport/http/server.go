package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/config"
	"github.com/deskchat/deskchat-server/internal/core"
	"github.com/deskchat/deskchat-server/internal/store"
)

// NewServer builds the HTTP server: the websocket endpoint plus the REST
// read surface around the store. The websocket handler is served on a plain
// mux beside the gin engine; gin's wrapped writer interferes with the
// hijacked connection's frame negotiation.
func NewServer(hub *core.Hub, st store.Store, cfg config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	handlers := NewAPIHandlers(hub, st, logger)
	api := router.Group("/api")
	{
		api.GET("/rooms/:room/messages", handlers.ListRoomMessages)
		api.GET("/conversations", handlers.ListConversations)
		api.GET("/presence", handlers.ListPresence)
		api.GET("/help-requests", handlers.ListHelpRequests)
		api.POST("/help-requests", handlers.CreateHelpRequest)
		api.PATCH("/help-requests/:id", handlers.UpdateHelpRequest)
		api.POST("/users", handlers.UpsertUser)
		api.GET("/users/:username", handlers.GetUser)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, cfg.EventBuffer, logger))
	mux.Handle("/", router)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
