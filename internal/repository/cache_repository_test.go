package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	var dest map[string]int
	assert.ErrorIs(t, repo.Get(ctx, "requests:stats:all", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "requests:stats:all", map[string]int{"APPROVED": 1}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "requests:stats:*"))
	assert.NoError(t, repo.Close())
}

func TestCacheKeysAreNamespaced(t *testing.T) {
	assert.Equal(t, "sis:requests:stats:*", namespaced("requests:stats:*"))
}
