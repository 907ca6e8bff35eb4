package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/prometheus"
)

// RouterConfig aggregates the handlers and middleware dependencies for the
// full route tree.  Nil handlers leave their routes unregistered, which
// keeps partial wiring (tests, the dispatcher's bare status server) cheap.
type RouterConfig struct {
	Tests  *TestHandler
	Events *EventHandler
	Queue  *QueueHandler
	Health *HealthHandler

	Logger  logging.Logger
	Metrics *prometheus.Metrics

	Server config.ServerConfig
}

// NewRouter builds the gin engine with global middleware and all routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(ginMode(cfg.Server.Mode))

	r := gin.New()
	r.Use(RequestID())
	if cfg.Logger != nil {
		r.Use(Recovery(cfg.Logger))
		r.Use(RequestLogger(cfg.Logger))
	} else {
		r.Use(gin.Recovery())
	}
	if cfg.Metrics != nil {
		r.Use(RequestMetrics(cfg.Metrics))
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	if cfg.Health != nil {
		r.GET("/healthz", cfg.Health.Liveness)
		r.GET("/readyz", cfg.Health.Readiness)
	}

	api := r.Group("/api/v1")

	if h := cfg.Tests; h != nil {
		api.POST("/tests", h.Create)
		api.GET("/tests", h.List)
		api.GET("/tests/:id", h.Get)
		api.POST("/tests/:id/activate", h.Activate)
		api.GET("/tests/:id/results", h.Results)
		api.GET("/tests/:id/results/export", h.ExportResults)
		api.POST("/tests/:id/winner", h.DeclareWinner)
	}
	if h := cfg.Events; h != nil {
		api.POST("/tests/:id/events", h.Record)
	}
	if h := cfg.Queue; h != nil {
		api.POST("/queue/items", h.Enqueue)
		api.POST("/queue/items/batch", h.EnqueueBatch)
		api.GET("/queue/items/:id", h.GetItem)
		api.GET("/queue/accounts/:key", h.AccountStatus)
		api.GET("/queue/stats", h.Stats)
		api.POST("/dispatch", h.Dispatch)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func ginMode(mode string) string {
	switch mode {
	case "debug":
		return gin.DebugMode
	case "test":
		return gin.TestMode
	default:
		return gin.ReleaseMode
	}
}
