package ports

import (
	"context"
	"time"

	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
)

// VersionStore defines the interface for version history persistence
type VersionStore interface {
	// Append adds a version to the end of the history of key
	Append(ctx context.Context, key string, version *versioning.Version) error

	// List returns the history of key, oldest first
	List(ctx context.Context, key string) ([]*versioning.Version, error)

	// Prune drops versions that expired at now and returns how many were removed
	Prune(ctx context.Context, now time.Time) (int, error)
}

// RetentionAwareVersionStore is a VersionStore whose retention policy can be
// replaced while it is in use
type RetentionAwareVersionStore interface {
	VersionStore

	// SetPolicy swaps the retention policy applied by later calls
	SetPolicy(policy versioning.RetentionPolicy)
}

// EventPublisher delivers versioning events to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, events ...versioning.VersionCommitted) error
}
