package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "kino_bot:"

// Redis is a Store backed by Redis. Every key expires after ttl so abandoned
// sessions and pending codes do not accumulate.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a Redis Store using an existing client.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func sessionKey(userID int64) string {
	return keyPrefix + "session:" + strconv.FormatInt(userID, 10)
}

func pendingKey(userID int64) string {
	return keyPrefix + "pending:" + strconv.FormatInt(userID, 10)
}

// State returns the stored state of a user.
func (r *Redis) State(ctx context.Context, userID int64) (State, bool, error) {
	v, err := r.client.Get(ctx, sessionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get session: %w", err)
	}
	s, err := ParseState(v)
	if err != nil {
		return State{}, false, fmt.Errorf("decode session: %w", err)
	}
	return s, true, nil
}

// SetState stores the state of a user.
func (r *Redis) SetState(ctx context.Context, userID int64, s State) error {
	if err := r.client.Set(ctx, sessionKey(userID), s.String(), r.ttl).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// SetPending replaces the pending code of a user.
func (r *Redis) SetPending(ctx context.Context, userID int64, code string) error {
	if err := r.client.Set(ctx, pendingKey(userID), code, r.ttl).Err(); err != nil {
		return fmt.Errorf("set pending code: %w", err)
	}
	return nil
}

// TakePending atomically returns and clears the pending code of a user.
func (r *Redis) TakePending(ctx context.Context, userID int64) (string, bool, error) {
	code, err := r.client.GetDel(ctx, pendingKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("take pending code: %w", err)
	}
	return code, true, nil
}
