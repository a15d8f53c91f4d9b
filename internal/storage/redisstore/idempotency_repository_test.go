package redisstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func openTestClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("OMS_REDIS_TEST_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := Open(ctx, addr)
	if err != nil {
		t.Skipf("redis is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestTTLFor(t *testing.T) {
	now := time.Now()

	assert.Equal(t, time.Hour, ttlFor(now.Add(time.Hour), now))
	assert.Equal(t, time.Second, ttlFor(now.Add(-time.Minute), now))
}

func TestRecordRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	record := domain.IdempotencyRecord{
		Key:          "k",
		RequestHash:  "h",
		ResponseBody: []byte(`{"id":"order-1"}`),
		ResponseCode: 0,
		Status:       domain.IdempotencyStatusDone,
		TTLAt:        now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	data, err := encodeRecord(record)
	require.NoError(t, err)

	decoded, err := decodeRecord("k", data)
	require.NoError(t, err)
	assert.Equal(t, record.RequestHash, decoded.RequestHash)
	assert.Equal(t, record.ResponseBody, decoded.ResponseBody)
	assert.True(t, record.TTLAt.Equal(decoded.TTLAt))

	_, err = decodeRecord("k", []byte(`{"status":"bogus"}`))
	require.Error(t, err)
}

func TestIdempotencyRepository_ValidatesInput(t *testing.T) {
	repo := NewIdempotencyRepository(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "")

	_, err := repo.CreateProcessing(context.Background(), "", "hash", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	_, err = repo.CreateProcessing(context.Background(), "key", " ", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)

	require.ErrorIs(t, repo.Release(context.Background(), "  "), domain.ErrIdempotencyKeyRequired)

	removed, err := repo.DeleteExpired(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestIdempotencyRepository_RedisFlow(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	repo := NewIdempotencyRepository(client, "orders-test:"+uuid.NewString())

	created, err := repo.CreateProcessing(ctx, "create-1", "hash-a", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	ttl, err := client.TTL(ctx, repo.redisKey("create-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = repo.CreateProcessing(ctx, "create-1", "hash-a", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "create-1", "hash-b", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone(ctx, "create-1", []byte(`{"id":"order-1"}`), 0))
	got, err := repo.Get(ctx, "create-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, got.Status)
	assert.Equal(t, `{"id":"order-1"}`, string(got.ResponseBody))

	ttl, err = client.TTL(ctx, repo.redisKey("create-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "marking must keep ttl")

	require.NoError(t, repo.Release(ctx, "create-1"))
	_, err = repo.Get(ctx, "create-1")
	require.NoError(t, err, "done record must survive release")

	_, err = repo.CreateProcessing(ctx, "create-2", "hash-a", time.Time{})
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, "create-2"))
	_, err = repo.CreateProcessing(ctx, "create-2", "hash-a", time.Time{})
	require.NoError(t, err, "released key must be reusable")

	require.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 5), domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}
