package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	sessionhttp "github.com/veoanimator/server/internal/adapter/inbound/http/session"
	"github.com/veoanimator/server/internal/adapter/outbound/blob"
	"github.com/veoanimator/server/internal/adapter/outbound/credential"
	redisadapter "github.com/veoanimator/server/internal/adapter/outbound/redis"
	s3adapter "github.com/veoanimator/server/internal/adapter/outbound/s3"
	"github.com/veoanimator/server/internal/adapter/outbound/veo"
	"github.com/veoanimator/server/internal/infra/httpclient"
	"github.com/veoanimator/server/internal/infra/ratelimit"
	"github.com/veoanimator/server/internal/module/generation"
	"github.com/veoanimator/server/internal/module/session"
	"github.com/veoanimator/server/internal/shared/cache"
	"github.com/veoanimator/server/internal/shared/config"
	"github.com/veoanimator/server/internal/shared/logger"
	"github.com/veoanimator/server/internal/shared/metrics"
	"github.com/veoanimator/server/internal/shared/middleware"
)

// ===== Infrastructure Providers =====

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvidePrometheusRegistry,
	ProvideMetrics,
	ProvideHTTPClient,
	ProvideRedisClient,
	ProvideBlobStore,
	ProvideRateLimiter,
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) *zap.Logger {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// ProvidePrometheusRegistry creates the registry served on /metrics.
func ProvidePrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the application metrics.
func ProvideMetrics(cfg *config.Config, reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(cfg.Metrics.Namespace, reg)
}

// ProvideHTTPClient creates the shared outbound HTTP client.
func ProvideHTTPClient(cfg *config.Config) *http.Client {
	return httpclient.New(cfg.HTTPClient)
}

// ProvideRedisClient connects to Redis when a configured backend needs it.
func ProvideRedisClient(cfg *config.Config, log *zap.Logger) (goredis.UniversalClient, func(), error) {
	if !cfg.UsesRedis() {
		return nil, func() {}, nil
	}
	client, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideBlobStore creates the video store for the configured backend.
func ProvideBlobStore(cfg *config.Config) (generation.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		client, err := s3adapter.NewClient(context.Background(), &cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init s3 client: %w", err)
		}
		return s3adapter.NewVideoStore(client, cfg.Storage.Bucket, cfg.Storage.Prefix), nil
	default:
		return blob.NewMemoryStore(), nil
	}
}

// ProvideRateLimiter creates the limiter for generation submissions.
func ProvideRateLimiter(cfg *config.Config, rdb goredis.UniversalClient) middleware.RateLimiter {
	if cfg.RateLimit.Limit <= 0 {
		return nil
	}
	if cfg.RateLimit.Backend == "redis" {
		return redisadapter.NewRateLimiter(rdb)
	}
	return ratelimit.NewMemoryLimiter()
}

// ===== Generation Providers =====

// GenerationSet provides the video provider and the orchestrator.
var GenerationSet = wire.NewSet(
	ProvideVideoProvider,
	ProvideOrchestrator,
	wire.Bind(new(session.Generator), new(*generation.Orchestrator)),
)

// ProvideVideoProvider creates the Veo client behind a circuit breaker.
func ProvideVideoProvider(cfg *config.Config, httpClient *http.Client, m *metrics.Metrics, log *zap.Logger) generation.Provider {
	client := veo.NewClient(httpClient, &veo.Config{
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.Provider.Model,
		APIKey:  cfg.Provider.APIKey,
	}, log)

	breakerCfg := veo.DefaultBreakerConfig()
	breakerCfg.FailureThreshold = cfg.Provider.FailureThreshold
	if cfg.Provider.CircuitTimeout > 0 {
		breakerCfg.Timeout = cfg.Provider.CircuitTimeout
	}
	return veo.NewBreakerProvider(client, breakerCfg, m, log)
}

// ProvideOrchestrator creates the generation orchestrator.
func ProvideOrchestrator(cfg *config.Config, provider generation.Provider, blobs generation.BlobStore, m *metrics.Metrics, log *zap.Logger) *generation.Orchestrator {
	genCfg := generation.DefaultConfig()
	genCfg.PollInterval = cfg.Generation.PollInterval
	genCfg.PollTimeout = cfg.Generation.PollTimeout
	genCfg.MaxPollAttempts = cfg.Generation.MaxPollAttempts
	if cfg.Generation.DefaultPrompt != "" {
		genCfg.DefaultPrompt = cfg.Generation.DefaultPrompt
	}
	if cfg.Provider.Resolution != "" {
		genCfg.Resolution = cfg.Provider.Resolution
	}
	return generation.NewOrchestrator(provider, blobs, genCfg, m, log)
}

// ===== Session Providers =====

// SessionSet provides the session registry and its HTTP handler.
var SessionSet = wire.NewSet(
	ProvideCapabilityFactory,
	ProvideSessionRegistry,
	ProvideSessionHandler,
)

// ProvideCapabilityFactory selects where user keys live.
func ProvideCapabilityFactory(cfg *config.Config, rdb goredis.UniversalClient) session.CapabilityFactory {
	switch cfg.Credential.Backend {
	case "env":
		capability := credential.NewEnvCapability(cfg.Provider.APIKey)
		return func(string) session.CredentialCapability { return capability }
	case "redis":
		store := redisadapter.NewCredentialStore(rdb, cfg.Credential.TTL)
		return func(id string) session.CredentialCapability {
			return credential.NewSessionCapability(store, id)
		}
	default:
		store := credential.NewMemoryKeyStore(cfg.Credential.TTL)
		return func(id string) session.CredentialCapability {
			return credential.NewSessionCapability(store, id)
		}
	}
}

// ProvideSessionRegistry creates the session registry.
func ProvideSessionRegistry(cfg *config.Config, capabilities session.CapabilityFactory, generator session.Generator, blobs generation.BlobStore, m *metrics.Metrics, log *zap.Logger) *session.Registry {
	regCfg := session.DefaultRegistryConfig()
	regCfg.IdleTTL = cfg.Session.IdleTTL
	if cfg.Session.SweepInterval > 0 {
		regCfg.SweepInterval = cfg.Session.SweepInterval
	}
	return session.NewRegistry(capabilities, generator, blobs, regCfg, m, log)
}

// ProvideSessionHandler creates the session HTTP handler.
func ProvideSessionHandler(cfg *config.Config, registry *session.Registry, log *zap.Logger) *sessionhttp.Handler {
	return sessionhttp.NewHandler(registry, cfg.Session.MaxImageBytes, log)
}

// ===== HTTP Providers =====

// ProvideRouter creates the gin engine with every route registered.
func ProvideRouter(cfg *config.Config, sessions *sessionhttp.Handler, limiter middleware.RateLimiter, m *metrics.Metrics, reg *prometheus.Registry, log *zap.Logger) *gin.Engine {
	return newRouter(cfg, sessions, limiter, m, reg, log)
}

// AppSet is the complete provider set.
var AppSet = wire.NewSet(
	InfraSet,
	GenerationSet,
	SessionSet,
	ProvideRouter,
	NewApp,
)
