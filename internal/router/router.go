package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/call-relay-service/internal/handler"
	"github.com/psds-microservice/call-relay-service/pkg/constants"
)

// New builds the HTTP router.
func New(
	statusHandler *handler.StatusHandler,
	chatWS *handler.ChatWSHandler,
	health *handler.HealthHandler,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	r.GET(constants.PathStatus, statusHandler.Status)
	r.GET(constants.PathAvailability, statusHandler.Availability)

	// WebSocket: login and every chat/call event go through /ws
	r.GET(constants.PathWS, chatWS.ServeWS)

	return r
}
