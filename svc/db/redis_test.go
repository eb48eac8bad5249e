package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasties/cfg"
	"pasties/pkg/domain"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	r, err := NewRedis(context.Background(), &cfg.Cfg{RedisURL: url, RedisTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisViewCache(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	v := &domain.PasteView{URL: "redis-test-view", Content: "hi", DatePublished: 1, DateEdited: 2}
	require.NoError(t, r.client.Del(ctx, tombKey(v.URL)).Err())

	require.NoError(t, r.CacheView(ctx, v, time.Minute))
	got, err := r.GetView(ctx, v.URL)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	require.NoError(t, r.Delete(ctx, v.URL, "redis-test-other"))
	got, err = r.GetView(ctx, v.URL)
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, r.Ping(ctx))
}

func TestRedisTombstoneBlocksStaleFill(t *testing.T) {
	r := newTestRedis(t)
	r.tombstone = 500 * time.Millisecond
	ctx := context.Background()
	v := &domain.PasteView{URL: "redis-test-tomb", Content: "old"}

	require.NoError(t, r.Delete(ctx, v.URL))
	require.NoError(t, r.CacheView(ctx, v, time.Minute))
	got, err := r.GetView(ctx, v.URL)
	require.NoError(t, err)
	assert.Nil(t, got)

	time.Sleep(600 * time.Millisecond)
	require.NoError(t, r.CacheView(ctx, v, time.Minute))
	got, err = r.GetView(ctx, v.URL)
	require.NoError(t, err)
	assert.Equal(t, v, got)
	require.NoError(t, r.Delete(ctx, v.URL))
}
