package resilient

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/infrastructure/persistence/memory"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

type failingStore struct {
	err   error
	calls int
}

func (f *failingStore) Append(ctx context.Context, key string, version *versioning.Version) error {
	f.calls++
	return f.err
}

func (f *failingStore) List(ctx context.Context, key string) ([]*versioning.Version, error) {
	f.calls++
	return nil, f.err
}

func (f *failingStore) Prune(ctx context.Context, now time.Time) (int, error) {
	f.calls++
	return 0, f.err
}

func testSettings() BreakerSettings {
	settings := DefaultBreakerSettings("test")
	settings.MinRequests = 3
	settings.FailureThreshold = 1
	return settings
}

func TestVersionStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	store := NewVersionStore(memory.NewVersionStore(versioning.DefaultRetentionPolicy(), nil), testSettings(), nil)

	require.NoError(t, store.Append(ctx, "k", &versioning.Version{ID: "a", CreatedAt: time.Now()}))
	history, err := store.List(ctx, "k")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "a", history[0].ID)

	removed, err := store.Prune(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestVersionStore_TripsOnFailures(t *testing.T) {
	// Arrange
	ctx := context.Background()
	next := &failingStore{err: errors.NewInternalError("disk on fire")}
	store := NewVersionStore(next, testSettings(), nil)

	// Act
	for i := 0; i < 3; i++ {
		_, err := store.List(ctx, "k")
		require.Error(t, err)
	}
	err := store.Append(ctx, "k", &versioning.Version{})

	// Assert
	assert.Equal(t, gobreaker.StateOpen, store.State())
	assert.Equal(t, 3, next.calls, "open breaker must not reach the store")
	assert.True(t, errors.IsInternal(err))
	assert.True(t, stderrors.Is(err, gobreaker.ErrOpenState))
}

func TestVersionStore_ValidationFailuresDoNotTrip(t *testing.T) {
	ctx := context.Background()
	next := &failingStore{err: errors.NewValidationError("history key cannot be empty")}
	store := NewVersionStore(next, testSettings(), nil)

	for i := 0; i < 5; i++ {
		err := store.Append(ctx, "", &versioning.Version{})
		assert.True(t, errors.IsValidation(err))
	}

	assert.Equal(t, gobreaker.StateClosed, store.State())
	assert.Equal(t, 5, next.calls)
}
