package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veoanimator/server/internal/module/generation"
)

// CapabilityFactory binds a credential capability to a new session.
type CapabilityFactory func(sessionID string) CredentialCapability

// Gauge receives the number of live sessions.
type Gauge interface {
	SetActiveSessions(n int)
}

// RegistryConfig holds session registry configuration.
type RegistryConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Controller    *ControllerConfig
}

// DefaultRegistryConfig returns the default registry configuration.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		IdleTTL:       2 * time.Hour,
		SweepInterval: 5 * time.Minute,
		Controller:    DefaultControllerConfig(),
	}
}

type registryEntry struct {
	controller *Controller
	lastAccess time.Time
}

// Registry tracks live sessions and expires idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registryEntry

	capabilities CapabilityFactory
	generator    Generator
	blobs        generation.BlobStore
	config       *RegistryConfig
	gauge        Gauge
	logger       *zap.Logger
	now          func() time.Time

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewRegistry creates a session registry.
func NewRegistry(capabilities CapabilityFactory, generator Generator, blobs generation.BlobStore, cfg *RegistryConfig, gauge Gauge, logger *zap.Logger) *Registry {
	if cfg == nil {
		cfg = DefaultRegistryConfig()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions:     make(map[string]*registryEntry),
		capabilities: capabilities,
		generator:    generator,
		blobs:        blobs,
		config:       cfg,
		gauge:        gauge,
		logger:       logger,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Create starts a new session and checks its credential once.
func (r *Registry) Create(ctx context.Context) *Controller {
	id := uuid.NewString()
	c := NewController(id, r.capabilities(id), r.generator, r.blobs, r.config.Controller, r.logger)
	c.CheckAuth(ctx)

	r.mu.Lock()
	r.sessions[id] = &registryEntry{controller: c, lastAccess: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()

	r.reportActive(n)
	r.logger.Info("session created", zap.String("session_id", id))
	return c
}

// Get returns a live session and records the access.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastAccess = r.now()
	return e.controller, nil
}

// Remove closes and forgets a session.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.controller.Close(ctx)
	r.reportActive(n)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the idle TTL. Sessions with a
// generation in flight are kept.
func (r *Registry) Sweep(ctx context.Context) int {
	if r.config.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.config.IdleTTL)

	r.mu.Lock()
	var expired []*Controller
	for id, e := range r.sessions {
		if e.lastAccess.Before(cutoff) && !e.controller.Busy() {
			expired = append(expired, e.controller)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, c := range expired {
		c.Close(ctx)
	}
	if len(expired) > 0 {
		r.reportActive(n)
		r.logger.Info("expired idle sessions", zap.Int("count", len(expired)), zap.Int("active", n))
	}
	return len(expired)
}

// Start starts the idle sweep loop.
func (r *Registry) Start(ctx context.Context) error {
	r.wg.Add(1)
	go r.sweepLoop(context.WithoutCancel(ctx))

	r.logger.Info("session registry started",
		zap.Duration("idle_ttl", r.config.IdleTTL),
		zap.Duration("sweep_interval", r.config.SweepInterval))
	return nil
}

// Stop stops the sweep loop and closes every session.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stopCh)
	sessions := r.sessions
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()

	r.wg.Wait()

	for _, e := range sessions {
		e.controller.Close(ctx)
	}
	for _, e := range sessions {
		e.controller.Wait()
	}
	r.reportActive(0)
	r.logger.Info("session registry stopped", zap.Int("closed", len(sessions)))
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Registry) reportActive(n int) {
	if r.gauge != nil {
		r.gauge.SetActiveSessions(n)
	}
}
