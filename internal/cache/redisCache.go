package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/redis/go-redis/v9"
)

// RedisCache — реализация кэша поверх Redis с нативным TTL.
// Используется, когда инстансов приложения больше одного и снимки
// предложений должны быть видны всем.
type RedisCache struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

func NewRedisCache(client *redis.Client, prefix string) (*RedisCache, error) {
	ctx := context.Background()

	// Проверка подключения
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{
		client: client,
		prefix: prefix,
		ctx:    ctx,
	}, nil
}

// Префикс уже несет разделитель, ключ просто дописывается к нему
func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Put(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, c.key(key), data, ttl).Err()
}

func (c *RedisCache) Get(key string, dest interface{}) error {
	data, err := c.client.Get(c.ctx, c.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return entity.ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *RedisCache) Delete(key string) error {
	return c.client.Del(c.ctx, c.key(key)).Err()
}

// EvictExpired для Redis отдает уборку самому Redis: просроченные ключи
// удаляются сервером, поэтому здесь ничего не делаем.
func (c *RedisCache) EvictExpired() int {
	return 0
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
