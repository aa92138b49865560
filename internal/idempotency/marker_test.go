package idempotency

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "fraud:finalized:tx-1", redisKey("tx-1"))
}

func TestMarker_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	_, err := NewMarker(client, time.Minute).Acquire(context.Background(), "tx-1")
	assert.ErrorIs(t, err, ErrMarkerUnavailable)
}

func TestMarker_SingleWinnerUnderContention(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	defer client.Close()

	ctx := context.Background()
	marker := NewMarker(client, time.Minute)
	txID := "marker-" + uuid.NewString()
	t.Cleanup(func() { _ = marker.Release(ctx, txID) })

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := marker.Acquire(ctx, txID)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	ok, err := marker.Acquire(ctx, txID)
	require.NoError(t, err)
	assert.False(t, ok, "claim is still held")

	require.NoError(t, marker.Release(ctx, txID))
	ok, err = marker.Acquire(ctx, txID)
	require.NoError(t, err)
	assert.True(t, ok)
}
