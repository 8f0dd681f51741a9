package handlers

import (
	"context"
	"net/http"
	"time"

	"relay-service/internal/config"
	"relay-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

const authProbeTimeout = 3 * time.Second

// AuthProbe reports whether the token validation backend answers.
type AuthProbe interface {
	Healthy(ctx context.Context) bool
}

type StatusHandler struct {
	hub     *websocket.Hub
	cfg     *config.Config
	probe   AuthProbe
	started time.Time
	now     func() time.Time
}

// NewStatusHandler builds the status endpoints. probe may be nil when
// tokens are not validated over HTTP.
func NewStatusHandler(hub *websocket.Hub, cfg *config.Config, probe AuthProbe) *StatusHandler {
	return &StatusHandler{
		hub:     hub,
		cfg:     cfg,
		probe:   probe,
		started: time.Now(),
		now:     time.Now,
	}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": websocket.Timestamp(h.now()),
		"clients":   h.hub.ConnectionCount(),
	})
}

func (h *StatusHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":             h.cfg.App.Name,
		"version":          h.cfg.App.Version,
		"environment":      h.cfg.App.Env,
		"connectedClients": h.hub.ConnectionCount(),
		"uptime":           int64(h.now().Sub(h.started).Seconds()),
		"authService":      h.authService(c.Request.Context()),
	})
}

func (h *StatusHandler) authService(ctx context.Context) gin.H {
	status := gin.H{"mode": h.cfg.Auth.Mode}
	if h.probe == nil {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, authProbeTimeout)
	defer cancel()
	status["url"] = h.cfg.Auth.APIURL
	status["timeout"] = h.cfg.Auth.Timeout.Milliseconds()
	status["healthy"] = h.probe.Healthy(ctx)
	return status
}
