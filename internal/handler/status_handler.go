package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/call-relay-service/internal/errs"
	"github.com/psds-microservice/call-relay-service/internal/model"
	"github.com/psds-microservice/call-relay-service/internal/service"
)

// StatusReader reads coordinator state from outside the event loop.
type StatusReader interface {
	Status(ctx context.Context) (model.StatusResponse, error)
	Availability(ctx context.Context, identity string) (model.Availability, error)
}

// StatusHandler serves read-only coordinator state over REST.
type StatusHandler struct {
	hub StatusReader
	cfg *service.WSConfig
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(hub StatusReader, wsBaseURL string) *StatusHandler {
	return &StatusHandler{
		hub: hub,
		cfg: &service.WSConfig{BaseURL: wsBaseURL},
	}
}

// Status godoc
// GET /status
func (h *StatusHandler) Status(c *gin.Context) {
	st, err := h.hub.Status(c.Request.Context())
	if err != nil {
		respondUnavailable(c, err)
		return
	}
	st.WSURL = h.cfg.WSURL()
	c.JSON(http.StatusOK, st)
}

// Availability godoc
// GET /users/:identity/availability
func (h *StatusHandler) Availability(c *gin.Context) {
	identity := service.NormalizeIdentity(c.Param("identity"))
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity required"})
		return
	}
	av, err := h.hub.Availability(c.Request.Context(), identity)
	if err != nil {
		respondUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, av)
}

func respondUnavailable(c *gin.Context, err error) {
	if errors.Is(err, errs.ErrHubStopped) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "coordinator stopped"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
