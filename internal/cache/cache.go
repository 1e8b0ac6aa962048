package cache

import (
	"time"
)

// Cache хранит короткоживущие снимки (предложения, сессии оформления).
// Чтение просроченного и отсутствующего ключа неразличимы для вызывающей
// стороны: обе ситуации дают entity.ErrCacheMiss.
type Cache interface {
	Put(key string, value interface{}, ttl time.Duration) error
	Get(key string, dest interface{}) error
	Delete(key string) error
	EvictExpired() int
	Close() error
}
