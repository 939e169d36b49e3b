package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/meeting-signaling/internal/models"
	rkeys "github.com/mossy-p/meeting-signaling/internal/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Minute)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	meetingID := uuid.NewString()
	t.Cleanup(func() { _ = s.Drop(ctx, meetingID) })

	require.NoError(t, s.Put(ctx, meetingID, models.ParticipantInfo{UserID: "b", Username: "bob"}))
	require.NoError(t, s.Put(ctx, meetingID, models.ParticipantInfo{UserID: "a", Username: "alice"}))

	status, err := Status(ctx, s, meetingID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Count)
	assert.Equal(t, []models.ParticipantInfo{
		{UserID: "a", Username: "alice"},
		{UserID: "b", Username: "bob"},
	}, status.Participants)

	require.NoError(t, s.Remove(ctx, meetingID, "a"))
	list, err := s.List(ctx, meetingID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Drop(ctx, meetingID))
	list, err = s.List(ctx, meetingID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisStoreRefreshExtendsExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	meetingID := uuid.NewString()
	t.Cleanup(func() { _ = s.Drop(ctx, meetingID) })

	require.NoError(t, s.Put(ctx, meetingID, models.ParticipantInfo{UserID: "a", Username: "alice"}))
	key := rkeys.ParticipantsKey(meetingID)
	require.NoError(t, s.client.Expire(ctx, key, 5*time.Second).Err())

	require.NoError(t, s.Refresh(ctx, meetingID))
	ttl, err := s.client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Second)

	// refreshing a meeting with no copy is harmless
	assert.NoError(t, s.Refresh(ctx, uuid.NewString()))
}
