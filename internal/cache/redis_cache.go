package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"warehouse/backend/internal/domain"
)

type RedisTemplateCache struct {
	client redis.UniversalClient
}

func NewRedisTemplateCache(addr string, password string, db int) *RedisTemplateCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTemplateCache{client: client}
}

// NewRedisTemplateCacheWithClient wraps an existing client.
func NewRedisTemplateCacheWithClient(client redis.UniversalClient) *RedisTemplateCache {
	return &RedisTemplateCache{client: client}
}

func (c *RedisTemplateCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTemplateCache) Close() error {
	return c.client.Close()
}

func (c *RedisTemplateCache) Get(ctx context.Context, id string) (*domain.ProductTemplate, bool, error) {
	val, err := c.client.Get(ctx, templateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var tpl domain.ProductTemplate
	if err := json.Unmarshal(val, &tpl); err != nil {
		return nil, false, err
	}
	return &tpl, true, nil
}

func (c *RedisTemplateCache) Set(ctx context.Context, tpl *domain.ProductTemplate, ttl time.Duration) error {
	if tpl == nil || tpl.ID == "" {
		return nil
	}
	payload, err := json.Marshal(tpl)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, templateKey(tpl.ID), payload, ttl).Err()
}

func (c *RedisTemplateCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, templateKey(id)).Err()
}
