package ratelimit

import (
	"math"
	"sync"
	"time"
)

// SlidingWindowLimiter - rate limiter со скользящим окном для контроля
// частоты запросов к API брокера
//
// Алгоритм Sliding Window:
// - Для каждого идентификатора хранится упорядоченный список timestamps
// - При каждой проверке из окна удаляются записи старше windowSize
// - Если оставшихся записей меньше limit, запрос разрешается и
//   фиксируется текущее время
// - Иначе запрос отклоняется (время до сброса - GetTimeUntilReset)
//
// Отличие от token bucket: лимит задаётся на каждый вызов, а не при
// создании limiter'а, поэтому один limiter обслуживает идентификаторы
// с разными лимитами (пользовательские запросы, фоновое обновление).
//
// Использование:
//
//	limiter := NewSlidingWindowLimiter(time.Minute)
//	if limiter.CanMakeRequest("user:42", 30) { ... }  // 30 req/min
//	retryAfter := limiter.GetTimeUntilReset("user:42")
type SlidingWindowLimiter struct {
	windowSize time.Duration
	windows    map[string][]time.Time
	mu         sync.Mutex

	// для тестов: переопределяемый источник времени
	now func() time.Time
}

// DefaultWindow - размер окна по умолчанию (лимиты брокера заданы per-minute)
const DefaultWindow = time.Minute

// NewSlidingWindowLimiter создаёт limiter с заданным размером окна.
// При windowSize <= 0 используется DefaultWindow.
func NewSlidingWindowLimiter(windowSize time.Duration) *SlidingWindowLimiter {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}

	return &SlidingWindowLimiter{
		windowSize: windowSize,
		windows:    make(map[string][]time.Time),
		now:        time.Now,
	}
}

// CanMakeRequest проверяет, разрешён ли запрос для идентификатора
// с заданным лимитом на окно, и при разрешении учитывает его.
//
// Политика краевых случаев:
//   - limit <= 0 или NaN: всегда false (запросы запрещены)
//   - limit = +Inf: всегда true (без учёта в окне)
//   - пустой или состоящий из пробелов идентификатор валиден и
//     отслеживается независимо от остальных
//
// Идентификаторы - непрозрачные строки без взаимного влияния.
func (l *SlidingWindowLimiter) CanMakeRequest(identifier string, limit float64) bool {
	if math.IsNaN(limit) || limit <= 0 {
		return false
	}

	if math.IsInf(limit, 1) {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.pruneLocked(identifier, now)

	if float64(len(window)) >= limit {
		// Окно заполнено; запись не добавляем
		return false
	}

	l.windows[identifier] = append(window, now)
	return true
}

// GetTimeUntilReset возвращает время до выхода самой старой записи
// из окна идентификатора, или 0 если окно пусто.
// Используется handlers для поля retry_after в ответе 429.
func (l *SlidingWindowLimiter) GetTimeUntilReset(identifier string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.pruneLocked(identifier, now)
	if len(window) == 0 {
		return 0
	}

	reset := window[0].Add(l.windowSize).Sub(now)
	if reset < 0 {
		return 0
	}
	return reset
}

// WindowUsage возвращает количество запросов в текущем окне идентификатора
// (для health check и отладки)
func (l *SlidingWindowLimiter) WindowUsage(identifier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.pruneLocked(identifier, l.now()))
}

// TrackedIdentifiers возвращает количество отслеживаемых идентификаторов
func (l *SlidingWindowLimiter) TrackedIdentifiers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// WindowSize возвращает размер скользящего окна
func (l *SlidingWindowLimiter) WindowSize() time.Duration {
	return l.windowSize
}

// pruneLocked удаляет из окна идентификатора записи старше windowSize
// и возвращает оставшиеся. Полностью устаревшее окно удаляется из map
// (ленивая сборка мусора на каждом обращении).
// ВАЖНО: вызывается под lock'ом.
func (l *SlidingWindowLimiter) pruneLocked(identifier string, now time.Time) []time.Time {
	window, ok := l.windows[identifier]
	if !ok {
		return nil
	}

	cutoff := now.Add(-l.windowSize)

	// timestamps упорядочены, ищем первую живую запись
	idx := 0
	for idx < len(window) && !window[idx].After(cutoff) {
		idx++
	}

	if idx == len(window) {
		delete(l.windows, identifier)
		return nil
	}

	if idx > 0 {
		window = window[idx:]
		l.windows[identifier] = window
	}

	return window
}

// Sweep удаляет идентификаторы, у которых всё окно устарело.
// Ограничивает память при большом количестве одноразовых идентификаторов,
// к которым больше не обращаются (ленивый prune их не увидит).
// Возвращает количество удалённых идентификаторов.
func (l *SlidingWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.windowSize)

	removed := 0
	for identifier, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, identifier)
			removed++
		}
	}

	return removed
}

// StartSweeper запускает периодическую очистку устаревших окон.
// Возвращает функцию остановки; вызывается при graceful shutdown.
func (l *SlidingWindowLimiter) StartSweeper(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = l.windowSize
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				l.Sweep()
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
