package redis

import (
	"context"
	"fmt"

	"github.com/mossy-p/meeting-signaling/config"
	"github.com/redis/go-redis/v9"
)

// Connect opens a Redis client and verifies it with a ping
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// UserKey is the hash holding a directory entry
func UserKey(userID string) string {
	return "user:" + userID
}

// UsernameKey maps a username to its user id
func UsernameKey(username string) string {
	return "username:" + username
}

// ParticipantsKey is the hash mirroring a meeting's live participants
func ParticipantsKey(meetingID string) string {
	return "meeting:" + meetingID + ":participants"
}
