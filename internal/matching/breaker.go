package matching

import (
	"github.com/sony/gobreaker"

	"procureiq/internal/config"
)

type CircuitBreaker interface {
	Execute(fn func() error) error
}

type noopBreaker struct{}

func (noopBreaker) Execute(fn func() error) error { return fn() }

// NoopBreaker never trips.
func NoopBreaker() CircuitBreaker { return noopBreaker{} }

type gobreakerWrapper struct {
	cb *gobreaker.CircuitBreaker
}

func (g gobreakerWrapper) Execute(fn func() error) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// NewCircuitBreaker returns a gobreaker-backed breaker, or a no-op one when
// disabled.
func NewCircuitBreaker(name string, cfg config.Breaker) CircuitBreaker {
	if !cfg.Enabled {
		return NoopBreaker()
	}
	maxHalfOpen := cfg.HalfOpenMax
	if maxHalfOpen <= 0 {
		maxHalfOpen = 1
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxHalfOpen),
		Interval:    cfg.SamplingWindow,
		Timeout:     cfg.RecoveryTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	}
	return gobreakerWrapper{cb: gobreaker.NewCircuitBreaker(settings)}
}
