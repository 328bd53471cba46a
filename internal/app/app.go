// Package app assembles the server from configuration.
package app

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	sessionhttp "github.com/veoanimator/server/internal/adapter/inbound/http/session"
	"github.com/veoanimator/server/internal/module/session"
	"github.com/veoanimator/server/internal/shared/config"
	"github.com/veoanimator/server/internal/shared/metrics"
	"github.com/veoanimator/server/internal/shared/middleware"
)

// App represents the application.
type App struct {
	config   *config.Config
	router   *gin.Engine
	registry *session.Registry
	logger   *zap.Logger
}

// NewApp creates the application from its wired parts.
func NewApp(cfg *config.Config, router *gin.Engine, registry *session.Registry, log *zap.Logger) *App {
	return &App{
		config:   cfg,
		router:   router,
		registry: registry,
		logger:   log,
	}
}

// New builds the application and starts its background work.
func New(cfg *config.Config) (*App, func(), error) {
	app, cleanup, err := InitializeApp(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := app.Start(context.Background()); err != nil {
		cleanup()
		return nil, nil, err
	}
	return app, cleanup, nil
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Start starts background components.
func (a *App) Start(ctx context.Context) error {
	return a.registry.Start(ctx)
}

// Stop closes every session and stops background components.
func (a *App) Stop(ctx context.Context) {
	a.registry.Stop(ctx)
	_ = a.logger.Sync()
}

// newRouter creates and configures the gin engine.
func newRouter(cfg *config.Config, sessions *sessionhttp.Handler, limiter middleware.RateLimiter, m *metrics.Metrics, reg *prometheus.Registry, log *zap.Logger) *gin.Engine {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(log))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(m))
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Uploads up to the image limit stay in memory.
	r.MaxMultipartMemory = cfg.Session.MaxImageBytes + 1<<20

	generateLimit := middleware.RateLimit(limiter, middleware.RateLimitConfig{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window,
	}, log)

	v1 := r.Group("/api/v1")
	sessions.RegisterRoutes(v1, generateLimit)

	return r
}
