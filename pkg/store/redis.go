package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "goals:session:"

	fieldState = "state"
	fieldData  = "data"

	// DefaultSessionTTL bounds how long an abandoned dialogue survives.
	DefaultSessionTTL = 24 * time.Hour
)

// RedisStore keeps each chat's session in one Redis hash. Writes refresh
// the key's TTL.
type RedisStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisStore(client RedisClient, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(chatID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(chatID, 10)
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (s *RedisStore) GetState(ctx context.Context, chatID int64) (State, error) {
	raw, err := s.client.HGet(ctx, sessionKey(chatID), fieldState)
	if isNil(err) {
		return StateNone, nil
	}
	if err != nil {
		return StateNone, fmt.Errorf("get state: %w", err)
	}
	return ParseState(raw)
}

func (s *RedisStore) SetState(ctx context.Context, chatID int64, state State) error {
	if err := s.write(ctx, chatID, fieldState, state.String()); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (s *RedisStore) GetData(ctx context.Context, chatID int64) (Data, error) {
	raw, err := s.client.HGet(ctx, sessionKey(chatID), fieldData)
	if isNil(err) {
		return Data{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}
	return data, nil
}

func (s *RedisStore) SetData(ctx context.Context, chatID int64, data Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("set data: %w", err)
	}
	if err := s.write(ctx, chatID, fieldData, string(raw)); err != nil {
		return fmt.Errorf("set data: %w", err)
	}
	return nil
}

// MergeData reads, merges and writes back. A chat has a single writer, so
// no optimistic locking is done here.
func (s *RedisStore) MergeData(ctx context.Context, chatID int64, delta Data) error {
	data, err := s.GetData(ctx, chatID)
	if err != nil {
		return fmt.Errorf("merge data: %w", err)
	}
	for k, v := range delta {
		data[k] = v
	}
	return s.SetData(ctx, chatID, data)
}

func (s *RedisStore) Destroy(ctx context.Context, chatID int64) (bool, error) {
	n, err := s.client.Del(ctx, sessionKey(chatID))
	if err != nil {
		return false, fmt.Errorf("destroy session: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) write(ctx context.Context, chatID int64, field, value string) error {
	key := sessionKey(chatID)
	if err := s.client.HSet(ctx, key, field, value); err != nil {
		return err
	}
	if s.ttl > 0 {
		return s.client.Expire(ctx, key, s.ttl)
	}
	return nil
}

// decodeData turns JSON numbers back into int64 where they are integral so
// both backends hand out the same Go types.
func decodeData(raw string) (Data, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var data Data
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if data == nil {
		return Data{}, nil
	}
	for k, v := range data {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			data[k] = i
		} else if f, err := n.Float64(); err == nil {
			data[k] = f
		}
	}
	return data, nil
}
