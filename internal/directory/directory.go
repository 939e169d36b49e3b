package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mossy-p/meeting-signaling/internal/models"
	rkeys "github.com/mossy-p/meeting-signaling/internal/redis"
	"github.com/redis/go-redis/v9"
)

var ErrUserNotFound = errors.New("user not found")

// Directory resolves user ids to display names
type Directory interface {
	Lookup(ctx context.Context, userID string) (models.User, error)
}

// Redis stores users as hashes keyed by id, with a username index
type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (d *Redis) Lookup(ctx context.Context, userID string) (models.User, error) {
	username, err := d.client.HGet(ctx, rkeys.UserKey(userID), "username").Result()
	if errors.Is(err, redis.Nil) {
		return models.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return models.User{ID: userID, Username: username}, nil
}

// Register returns the user for username, creating it on first use
func (d *Redis) Register(ctx context.Context, username string) (models.User, error) {
	candidate := uuid.New().String()
	created, err := d.client.SetNX(ctx, rkeys.UsernameKey(username), candidate, 0).Result()
	if err != nil {
		return models.User{}, fmt.Errorf("register %s: %w", username, err)
	}

	userID := candidate
	if !created {
		userID, err = d.client.Get(ctx, rkeys.UsernameKey(username)).Result()
		if err != nil {
			return models.User{}, fmt.Errorf("register %s: %w", username, err)
		}
	}

	if err := d.client.HSet(ctx, rkeys.UserKey(userID), "username", username).Err(); err != nil {
		return models.User{}, fmt.Errorf("register %s: %w", username, err)
	}
	return models.User{ID: userID, Username: username}, nil
}
