package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "", zap.NewNop())
	ctx := context.Background()

	var dest map[string]int
	require.ErrorIs(t, repo.Get(ctx, "report:24_25", &dest), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(ctx, "report:24_25", map[string]int{"statusMismatches": 2}, time.Minute))
	require.NoError(t, repo.DeleteByPattern(ctx, "report:*"))
	require.NoError(t, repo.Close())
}
