package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
	rkeys "github.com/mossy-p/meeting-signaling/internal/redis"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Store persists a copy of room membership
type Store interface {
	Put(ctx context.Context, meetingID string, p models.ParticipantInfo) error
	Remove(ctx context.Context, meetingID, participantID string) error
	Drop(ctx context.Context, meetingID string) error
	// Refresh extends the lifetime of the meeting's copy
	Refresh(ctx context.Context, meetingID string) error
	List(ctx context.Context, meetingID string) ([]models.ParticipantInfo, error)
}

// RedisStore keeps one hash per meeting, field per participant, values
// msgpack encoded
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, meetingID string, p models.ParticipantInfo) error {
	b, err := msgpack.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	key := rkeys.ParticipantsKey(meetingID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, p.UserID, b)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put participant %s/%s: %w", meetingID, p.UserID, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, meetingID, participantID string) error {
	if err := s.client.HDel(ctx, rkeys.ParticipantsKey(meetingID), participantID).Err(); err != nil {
		return fmt.Errorf("remove participant %s/%s: %w", meetingID, participantID, err)
	}
	return nil
}

func (s *RedisStore) Drop(ctx context.Context, meetingID string) error {
	if err := s.client.Del(ctx, rkeys.ParticipantsKey(meetingID)).Err(); err != nil {
		return fmt.Errorf("drop meeting %s: %w", meetingID, err)
	}
	return nil
}

func (s *RedisStore) Refresh(ctx context.Context, meetingID string) error {
	if err := s.client.Expire(ctx, rkeys.ParticipantsKey(meetingID), s.ttl).Err(); err != nil {
		return fmt.Errorf("refresh meeting %s: %w", meetingID, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, meetingID string) ([]models.ParticipantInfo, error) {
	fields, err := s.client.HGetAll(ctx, rkeys.ParticipantsKey(meetingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list meeting %s: %w", meetingID, err)
	}
	out := make([]models.ParticipantInfo, 0, len(fields))
	for id, raw := range fields {
		var p models.ParticipantInfo
		if err := msgpack.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s/%s: %w", meetingID, id, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Status reads the mirrored membership of a meeting
func Status(ctx context.Context, store Store, meetingID string) (models.MeetingStatus, error) {
	participants, err := store.List(ctx, meetingID)
	if err != nil {
		return models.MeetingStatus{}, err
	}
	return models.MeetingStatus{
		MeetingID:    meetingID,
		Participants: participants,
		Count:        len(participants),
	}, nil
}
