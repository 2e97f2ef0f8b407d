package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedItem struct {
	ID     uint64 `json:"id"`
	Seller string `json:"seller"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	ctx := context.Background()

	in := []feedItem{{ID: 1, Seller: "Player#1234"}, {ID: 2, Seller: "Player#5678"}}
	require.NoError(t, c.Set(ctx, "k", in, time.Minute))

	var out []feedItem
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, in, out)

	// Get 返回的是副本, 改它不影响缓存
	out[0].Seller = "mutated"
	var again []feedItem
	require.NoError(t, c.Get(ctx, "k", &again))
	assert.Equal(t, "Player#1234", again[0].Seller)
}

func TestMemoryCacheMissAndDelete(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	ctx := context.Background()

	var out []feedItem
	assert.ErrorIs(t, c.Get(ctx, "nope", &out), ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []feedItem{{ID: 1}}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []feedItem{{ID: 1}}, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	var out []feedItem
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)
}
