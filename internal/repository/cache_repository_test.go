package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-roster-import/pkg/errors"
)

type cachedReport struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestMemoryCacheRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryCacheRepository()
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "imports:1", cachedReport{ID: "1", Status: "completed"}, time.Minute))

	var got cachedReport
	require.NoError(t, repo.Get(ctx, "imports:1", &got))
	assert.Equal(t, cachedReport{ID: "1", Status: "completed"}, got)

	require.NoError(t, repo.Delete(ctx, "imports:1"))
	assert.ErrorIs(t, repo.Get(ctx, "imports:1", &got), appErrors.ErrCacheMiss)
}

func TestMemoryCacheRepositoryExpires(t *testing.T) {
	repo := NewMemoryCacheRepository()
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "imports:2", cachedReport{ID: "2"}, time.Hour))
	now = now.Add(59 * time.Minute)
	var got cachedReport
	require.NoError(t, repo.Get(ctx, "imports:2", &got))

	now = now.Add(time.Minute)
	assert.ErrorIs(t, repo.Get(ctx, "imports:2", &got), appErrors.ErrCacheMiss)
}

func TestCacheRepositoryWithoutClientMisses(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	var got cachedReport

	assert.ErrorIs(t, repo.Get(context.Background(), "imports:3", &got), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "imports:3", got, time.Minute))
	assert.NoError(t, repo.Close())
}
