package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ClaimOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Claim(ctx, "enr-1:0:0", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.Claim(ctx, "enr-1:0:0", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestMemoryStore_ExpiredClaimReusable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Claim(ctx, "enr-1:0:0", -time.Second)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.Claim(ctx, "enr-1:0:0", time.Minute)
	require.NoError(t, err)
	assert.True(t, second)
}

func TestMemoryStore_DistinctKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Claim(ctx, "enr-1:0:0", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	other, err := store.Claim(ctx, "enr-1:0:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, other)
}
