package resilient

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/NoriginMedia/nannoq-tools-sub001/application/ports"
	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// BreakerSettings holds configuration for the store circuit breaker
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration

	// The breaker trips once MinRequests calls were seen and the failure
	// ratio reaches FailureThreshold.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerSettings returns the settings used for version histories
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// VersionStore guards another store with a circuit breaker. Validation
// failures are caller mistakes and never count against the breaker.
type VersionStore struct {
	next    ports.VersionStore
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewVersionStore wraps next with a circuit breaker
func NewVersionStore(next ports.VersionStore, settings BreakerSettings, logger *zap.Logger) *VersionStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.IsValidation(err)
		},
	})

	return &VersionStore{next: next, breaker: cb, logger: logger}
}

// State reports the current breaker state
func (s *VersionStore) State() gobreaker.State {
	return s.breaker.State()
}

// Append adds a version through the breaker
func (s *VersionStore) Append(ctx context.Context, key string, version *versioning.Version) error {
	_, err := s.execute("append", func() (interface{}, error) {
		return nil, s.next.Append(ctx, key, version)
	})
	return err
}

// List reads a history through the breaker
func (s *VersionStore) List(ctx context.Context, key string) ([]*versioning.Version, error) {
	out, err := s.execute("list", func() (interface{}, error) {
		return s.next.List(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	history, _ := out.([]*versioning.Version)
	return history, nil
}

// Prune drops expired versions through the breaker
func (s *VersionStore) Prune(ctx context.Context, now time.Time) (int, error) {
	out, err := s.execute("prune", func() (interface{}, error) {
		return s.next.Prune(ctx, now)
	})
	if err != nil {
		return 0, err
	}
	removed, _ := out.(int)
	return removed, nil
}

func (s *VersionStore) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	out, err := s.breaker.Execute(fn)
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Warn("Version store call rejected",
			zap.String("operation", op),
			zap.String("state", s.breaker.State().String()),
		)
		return nil, errors.NewInternalError("version store temporarily unavailable").WithCause(err)
	}
	return out, err
}

var _ ports.VersionStore = (*VersionStore)(nil)
