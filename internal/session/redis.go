package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

const redisKeyPrefix = "qessign:session:"

// RedisStore shares records between instances behind a load balancer. Expiry
// is enforced by redis itself.
type RedisStore struct {
	client *redis.Client
	codec  codec
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, secret []byte) *RedisStore {
	return &RedisStore{client: client, codec: codec{secret: secret}, now: time.Now}
}

func (s *RedisStore) Put(ctx context.Context, p *model.PendingSignature) error {
	d, err := ttl(p, s.now())
	if err != nil {
		return err
	}
	data, err := s.codec.encode(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key(p.Authorization.State), data, d).Err(); err != nil {
		return fmt.Errorf("session store error: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, state string) (*model.PendingSignature, error) {
	data, err := s.client.GetDel(ctx, redisKeyPrefix+key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, signerr.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store error: %w", err)
	}
	p, err := s.codec.decode(data)
	if err != nil {
		return nil, err
	}
	return checkTaken(p, s.now())
}

func (s *RedisStore) Delete(ctx context.Context, state string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key(state)).Err(); err != nil {
		return fmt.Errorf("session store error: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
