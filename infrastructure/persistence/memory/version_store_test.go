package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

func versionAt(id string, at time.Time) *versioning.Version {
	return &versioning.Version{ID: id, CreatedAt: at}
}

func ids(history []*versioning.Version) []string {
	out := make([]string, len(history))
	for i, v := range history {
		out[i] = v.ID
	}
	return out
}

func TestVersionStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name        string
		maxVersions int
		appended    []string
		want        []string
	}{
		{name: "under the limit", maxVersions: 3, appended: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "oldest dropped", maxVersions: 2, appended: []string{"a", "b", "c"}, want: []string{"b", "c"}},
		{name: "unbounded", maxVersions: 0, appended: []string{"a", "b", "c"}, want: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			store := NewVersionStore(versioning.RetentionPolicy{MaxVersions: tt.maxVersions}, nil)

			// Act
			for _, id := range tt.appended {
				require.NoError(t, store.Append(ctx, "order-1", versionAt(id, now)))
			}
			history, err := store.List(ctx, "order-1")

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(history))
		})
	}
}

func TestVersionStore_ListIsACopy(t *testing.T) {
	ctx := context.Background()
	store := NewVersionStore(versioning.DefaultRetentionPolicy(), nil)
	require.NoError(t, store.Append(ctx, "k", versionAt("a", time.Now())))

	history, err := store.List(ctx, "k")
	require.NoError(t, err)
	history[0] = nil

	again, err := store.List(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(again))

	unknown, err := store.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestVersionStore_InvalidInput(t *testing.T) {
	ctx := context.Background()
	store := NewVersionStore(versioning.DefaultRetentionPolicy(), nil)

	err := store.Append(ctx, "", &versioning.Version{})
	assert.True(t, errors.IsValidation(err))

	err = store.Append(ctx, "k", nil)
	assert.True(t, errors.IsValidation(err))

	_, err = store.List(ctx, "")
	assert.True(t, errors.IsValidation(err))
}

func TestVersionStore_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := NewVersionStore(versioning.RetentionPolicy{RetentionPeriod: 24 * time.Hour}, nil)

	require.NoError(t, store.Append(ctx, "a", versionAt("a1", now.Add(-48*time.Hour))))
	require.NoError(t, store.Append(ctx, "a", versionAt("a2", now.Add(-time.Hour))))
	require.NoError(t, store.Append(ctx, "b", versionAt("b1", now.Add(-72*time.Hour))))

	removed, err := store.Prune(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	a, _ := store.List(ctx, "a")
	assert.Equal(t, []string{"a2"}, ids(a))
	b, _ := store.List(ctx, "b")
	assert.Empty(t, b)

	require.NoError(t, store.Clear(ctx))
	a, _ = store.List(ctx, "a")
	assert.Empty(t, a)
}

func TestVersionStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewVersionStore(versioning.RetentionPolicy{MaxVersions: 1000}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Append(ctx, "k", versionAt(fmt.Sprint(i), time.Now()))
		}(i)
	}
	wg.Wait()

	history, err := store.List(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, history, 50)
}

func TestVersionStore_SetPolicy(t *testing.T) {
	ctx := context.Background()
	store := NewVersionStore(versioning.RetentionPolicy{MaxVersions: 5}, nil)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, "k", versionAt(id, time.Now())))
	}

	store.SetPolicy(versioning.RetentionPolicy{MaxVersions: 2})
	require.NoError(t, store.Append(ctx, "k", versionAt("d", time.Now())))

	history, err := store.List(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, ids(history))
}
