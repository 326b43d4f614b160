package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NoriginMedia/nannoq-tools-sub001/application/ports"
	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// VersionStore keeps version histories in memory under a retention policy
type VersionStore struct {
	mu     sync.RWMutex
	items  map[string][]*versioning.Version
	policy versioning.RetentionPolicy
	logger *zap.Logger
}

// NewVersionStore creates a new in-memory version store
func NewVersionStore(policy versioning.RetentionPolicy, logger *zap.Logger) *VersionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionStore{
		items:  make(map[string][]*versioning.Version),
		policy: policy,
		logger: logger,
	}
}

// Append stores version at the end of the history of key. The oldest
// versions are dropped once the history exceeds MaxVersions.
func (s *VersionStore) Append(ctx context.Context, key string, version *versioning.Version) error {
	if key == "" {
		return errors.NewValidationError("history key cannot be empty")
	}
	if version == nil {
		return errors.NewValidationError("version cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.items[key], version)
	if limit := s.policy.MaxVersions; limit > 0 && len(history) > limit {
		dropped := len(history) - limit
		history = append([]*versioning.Version(nil), history[dropped:]...)
		s.logger.Debug("Trimmed version history",
			zap.String("key", key),
			zap.Int("dropped", dropped),
		)
	}
	s.items[key] = history
	return nil
}

// List returns a copy of the history of key, oldest first
func (s *VersionStore) List(ctx context.Context, key string) ([]*versioning.Version, error) {
	if key == "" {
		return nil, errors.NewValidationError("history key cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.items[key]
	out := make([]*versioning.Version, len(history))
	copy(out, history)
	return out, nil
}

// Prune removes every version that expired at now
func (s *VersionStore) Prune(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, history := range s.items {
		kept := history[:0]
		for _, v := range history {
			if s.policy.Expired(v, now) {
				removed++
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 0 {
			delete(s.items, key)
			continue
		}
		s.items[key] = kept
	}

	if removed > 0 {
		s.logger.Info("Pruned expired versions", zap.Int("removed", removed))
	}
	return removed, nil
}

// Clear removes all histories
func (s *VersionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string][]*versioning.Version)
	return nil
}

// SetPolicy replaces the retention policy. Histories are trimmed to the new
// MaxVersions on their next Append.
func (s *VersionStore) SetPolicy(policy versioning.RetentionPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policy = policy
	s.logger.Info("Updated retention policy",
		zap.Int("max_versions", policy.MaxVersions),
		zap.Duration("retention_period", policy.RetentionPeriod),
	)
}

var _ ports.RetentionAwareVersionStore = (*VersionStore)(nil)
