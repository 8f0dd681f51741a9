package routes

import (
	"fmt"

	"relay-service/internal/api/handlers"
	"relay-service/internal/api/middleware"
	"relay-service/internal/config"
	"relay-service/internal/monitoring"
	"relay-service/internal/origin"
	"relay-service/internal/services"
	"relay-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	engine        *gin.Engine
	cfg           *config.Config
	wsHandler     *handlers.WSHandler
	statusHandler *handlers.StatusHandler
	rateLimitMW   *middleware.RateLimitMiddleware
	gatherer      prometheus.Gatherer
}

// NewRouter wires the HTTP surface: status endpoints, metrics and the
// WebSocket upgrade. probe may be nil.
func NewRouter(
	hub *websocket.Hub,
	cfg *config.Config,
	monitor *monitoring.Monitor,
	gatherer prometheus.Gatherer,
	limiter services.RateLimiter,
	probe handlers.AuthProbe,
) (*Router, error) {
	allowed, err := origin.NewMatcher(cfg.WebSocket.AllowedOrigins)
	if err != nil {
		return nil, fmt.Errorf("ALLOWED_ORIGINS: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(allowed))
	engine.Use(middleware.LogApi(monitor.Logger()))

	return &Router{
		engine:        engine,
		cfg:           cfg,
		wsHandler:     handlers.NewWSHandler(hub, websocket.NewUpgrader(allowed)),
		statusHandler: handlers.NewStatusHandler(hub, cfg, probe),
		rateLimitMW:   middleware.NewRateLimitMiddleware(limiter, monitor),
		gatherer:      gatherer,
	}, nil
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", r.statusHandler.Health)
	r.engine.GET("/info", r.statusHandler.Info)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))

	// WebSocket endpoint; clients authenticate with their first message
	upgradeLimit := r.rateLimitMW.RateLimitIP(r.cfg.WebSocket.UpgradeLimit, r.cfg.WebSocket.UpgradeWindow)
	r.engine.GET("/", upgradeLimit, r.wsHandler.HandleWebSocket)
	r.engine.GET("/ws", upgradeLimit, r.wsHandler.HandleWebSocket)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
