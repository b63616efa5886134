package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPersister stores sessions as JSON under prefix+key.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

// NewRedisPersister builds a persister on an existing client.
func NewRedisPersister(client *redis.Client, prefix string) *RedisPersister {
	if prefix == "" {
		prefix = "portal:session:"
	}
	return &RedisPersister{client: client, prefix: prefix}
}

func (p *RedisPersister) Load(ctx context.Context, key string) (Session, bool, error) {
	raw, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func (p *RedisPersister) Save(ctx context.Context, key string, s Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return p.client.Set(ctx, p.prefix+key, raw, ttl).Err()
}

func (p *RedisPersister) Delete(ctx context.Context, key string) error {
	return p.client.Del(ctx, p.prefix+key).Err()
}
