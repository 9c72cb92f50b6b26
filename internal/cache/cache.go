// Package cache реализует in-memory TTL-кэш данных брокерских аккаунтов.
package cache

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"brokergate/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key - составной ключ кэша: пользователь, аккаунт, тип данных
type Key struct {
	UserID    string
	AccountID string
	Type      models.RequestType
}

// Entry - запись кэша. Создаётся только из успешного ответа брокера;
// для читателей данные read-only.
type Entry struct {
	Value     interface{}
	FetchedAt time.Time
	ExpiresAt time.Time
	size      int64 // оценка размера в байтах (для статистики)
}

// Expired возвращает true если запись устарела на момент now
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats - статистика кэша для health check.
// MemoryUsage - оценка (сумма длин сериализованных значений),
// используется только для наблюдаемости: вытеснения по объёму нет,
// записи удаляются только по TTL или явной инвалидации.
type Stats struct {
	TotalEntries int   `json:"total_entries"`
	MemoryUsage  int64 `json:"memory_usage_bytes"`
}

// Cache - потокобезопасный TTL-кэш в памяти процесса.
//
// Назначение:
// Единственный кэш между вызывающими (UI, фоновые задачи, AI-анализ)
// и rate-limited API брокера. Один экземпляр на процесс, внедряется
// через composition root (cmd/server).
//
// Гарантии:
// - Get после истечения TTL ведёт себя идентично промаху (запись
//   удаляется лениво, устаревшее значение не возвращается никогда)
// - Межпроцессной когерентности нет (single-process кэш)
type Cache struct {
	entries map[Key]*Entry
	memory  int64
	mu      sync.RWMutex

	// для тестов: переопределяемый источник времени
	now func() time.Time
}

// New создаёт пустой кэш
func New() *Cache {
	return &Cache{
		entries: make(map[Key]*Entry),
		now:     time.Now,
	}
}

// Get возвращает значение по ключу или промах.
// Устаревшая запись удаляется и трактуется как промах.
func (c *Cache) Get(userID, accountID string, requestType models.RequestType) (interface{}, bool) {
	entry, ok := c.GetEntry(userID, accountID, requestType)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// GetEntry возвращает живую запись целиком (значение + FetchedAt).
// Используется сервисом для поля last_updated в снапшоте.
func (c *Cache) GetEntry(userID, accountID string, requestType models.RequestType) (*Entry, bool) {
	key := Key{UserID: userID, AccountID: accountID, Type: requestType}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if entry.Expired(c.now()) {
		// Ленивое удаление под write lock; перепроверяем, что запись
		// не была заменена между RUnlock и Lock
		c.mu.Lock()
		if current, exists := c.entries[key]; exists && current == entry {
			c.memory -= current.size
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry, true
}

// Set сохраняет значение с заданным TTL.
// ttl <= 0 эквивалентен немедленному истечению (запись не сохраняется).
func (c *Cache) Set(userID, accountID string, requestType models.RequestType, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	key := Key{UserID: userID, AccountID: accountID, Type: requestType}
	now := c.now()

	entry := &Entry{
		Value:     value,
		FetchedAt: now,
		ExpiresAt: now.Add(ttl),
		size:      estimateSize(value),
	}

	c.mu.Lock()
	if old, exists := c.entries[key]; exists {
		c.memory -= old.size
	}
	c.entries[key] = entry
	c.memory += entry.size
	c.mu.Unlock()
}

// Invalidate удаляет одну запись
func (c *Cache) Invalidate(userID, accountID string, requestType models.RequestType) {
	key := Key{UserID: userID, AccountID: accountID, Type: requestType}

	c.mu.Lock()
	if entry, exists := c.entries[key]; exists {
		c.memory -= entry.size
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// InvalidateAccount удаляет все записи аккаунта (все типы данных).
// Используется force-refresh путём перед повторным запросом к брокеру.
func (c *Cache) InvalidateAccount(userID, accountID string) {
	c.mu.Lock()
	for key, entry := range c.entries {
		if key.UserID == userID && key.AccountID == accountID {
			c.memory -= entry.size
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// InvalidateAll очищает кэш полностью
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[Key]*Entry)
	c.memory = 0
	c.mu.Unlock()
}

// GetStats возвращает статистику кэша
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		TotalEntries: len(c.entries),
		MemoryUsage:  c.memory,
	}
}

// Cleanup удаляет все устаревшие записи.
// Ленивое удаление в Get не видит ключи, к которым не обращаются,
// поэтому janitor вызывает Cleanup периодически.
// Возвращает количество удалённых записей.
func (c *Cache) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			c.memory -= entry.size
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartJanitor запускает периодическую очистку устаревших записей.
// Возвращает функцию остановки; вызывается при graceful shutdown.
func (c *Cache) StartJanitor(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// estimateSize оценивает размер значения как длину его JSON-сериализации.
// jsoniter быстрее encoding/json на горячем пути Set.
func estimateSize(value interface{}) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
