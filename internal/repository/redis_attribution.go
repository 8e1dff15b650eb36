package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisAttributionStore struct {
	client redis.UniversalClient
}

func NewRedisAttributionStore(client redis.UniversalClient) *RedisAttributionStore {
	return &RedisAttributionStore{
		client: client,
	}
}

func attributionKey(userID, ownerID int) string {
	return fmt.Sprintf("attribution:%d:%d", userID, ownerID)
}

func (s *RedisAttributionStore) Save(
	ctx context.Context,
	userID int,
	attribution domain.Attribution,
	ttl time.Duration) error {

	data, err := json.Marshal(attribution)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, attributionKey(userID, attribution.OwnerID), data, ttl).Err()
}

func (s *RedisAttributionStore) Get(ctx context.Context, userID, ownerID int) (*domain.Attribution, error) {
	data, err := s.client.Get(ctx, attributionKey(userID, ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRecordNotFound
		}

		return nil, err
	}

	var attribution domain.Attribution
	err = json.Unmarshal(data, &attribution)
	if err != nil {
		return nil, err
	}

	return &attribution, nil
}
