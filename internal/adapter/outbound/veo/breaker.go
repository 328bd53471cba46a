package veo

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/veoanimator/server/internal/module/generation"
)

// BreakerConfig contains circuit breaker configuration.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
	MaxHalfOpen      uint32
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Name:             "veo",
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		MaxHalfOpen:      1,
	}
}

// StateObserver receives circuit breaker state changes.
type StateObserver interface {
	SetBreakerState(name string, state int)
}

// BreakerProvider guards operation calls with a circuit breaker. Downloads
// go straight to the wrapped provider.
type BreakerProvider struct {
	next    generation.Provider
	breaker *gobreaker.CircuitBreaker[*generation.Operation]
}

// NewBreakerProvider wraps next with a circuit breaker.
func NewBreakerProvider(next generation.Provider, cfg *BreakerConfig, observer StateObserver, logger *zap.Logger) *BreakerProvider {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MaxHalfOpen == 0 {
		cfg.MaxHalfOpen = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("breaker")

	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxHalfOpen,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if observer != nil {
				observer.SetBreakerState(name, int(to))
			}
		},
	}

	if observer != nil {
		observer.SetBreakerState(cfg.Name, int(gobreaker.StateClosed))
	}

	return &BreakerProvider{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[*generation.Operation](settings),
	}
}

// CreateOperation submits a prediction through the breaker.
func (p *BreakerProvider) CreateOperation(ctx context.Context, req *generation.CreateRequest) (*generation.Operation, error) {
	op, err := p.breaker.Execute(func() (*generation.Operation, error) {
		return p.next.CreateOperation(ctx, req)
	})
	return op, breakerError(err)
}

// RefreshOperation refreshes an operation through the breaker.
func (p *BreakerProvider) RefreshOperation(ctx context.Context, name, accessToken string) (*generation.Operation, error) {
	op, err := p.breaker.Execute(func() (*generation.Operation, error) {
		return p.next.RefreshOperation(ctx, name, accessToken)
	})
	return op, breakerError(err)
}

// Download fetches a generated video.
func (p *BreakerProvider) Download(ctx context.Context, uri, accessToken string) (*generation.Video, error) {
	return p.next.Download(ctx, uri, accessToken)
}

// State returns the current breaker state.
func (p *BreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

// isBreakerSuccess keeps caller faults from tripping the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if generation.KindOf(err) == generation.KindAuth {
		return true
	}
	var httpErr *generation.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode < http.StatusInternalServerError && httpErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return generation.NewError(generation.KindProvider, "video provider is temporarily unavailable", err)
	}
	return err
}

// Compile-time interface check
var _ generation.Provider = (*BreakerProvider)(nil)
