package cache

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/odamigo/eurotrain-booking/internal/entity"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache — кэш в памяти процесса с ленивой проверкой срока жизни
// на чтении и периодической уборкой просроченных записей.
// Значения сериализуются в JSON, чтобы читатель получал копию,
// а не ссылку на разделяемый объект.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryCache создает кэш и запускает уборщик с указанным интервалом.
// При sweepInterval <= 0 уборщик не запускается, остается только
// ленивая проверка на Get.
func NewMemoryCache(sweepInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}

	if sweepInterval > 0 {
		go c.janitor(sweepInterval)
	}

	return c
}

func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}

func (c *MemoryCache) Put(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *MemoryCache) Get(key string, dest interface{}) error {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	// Просроченная запись эквивалентна отсутствующей
	if !ok || time.Now().After(entry.expiresAt) {
		return entity.ErrCacheMiss
	}

	decoder := json.NewDecoder(bytes.NewReader(entry.data))
	return decoder.Decode(dest)
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// EvictExpired удаляет просроченные записи и возвращает их количество.
// Проверка и удаление каждого ключа выполняются под одной блокировкой,
// поэтому конкурентное чтение живой записи уборка не ломает.
func (c *MemoryCache) EvictExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

func (c *MemoryCache) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

// Len возвращает число записей, включая еще не убранные просроченные
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
