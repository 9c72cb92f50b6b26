package service

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки сервисного слоя.
//
// Таксономия:
//   - RateLimitError: лимит запросов исчерпан; несёт retry-after,
//     handlers транслируют в HTTP 429
//   - broker.Error (upstream): сетевая/HTTP ошибка брокера; внутри
//     батча не ретраится, handlers транслируют в HTTP 500
//   - ErrInvalidRequestType: ошибка программиста/внешнего ввода;
//     отклоняется до создания батча, без запроса к брокеру
//   - промах кэша ошибкой не является - это нормальное состояние,
//     запускающее путь батчера
var (
	ErrInvalidRequestType = errors.New("invalid request type")
	ErrAccountNotFound    = errors.New("account not found")
	ErrShuttingDown       = errors.New("service is shutting down")
)

// RateLimitError сигнализирует об исчерпании лимита запросов.
// Не жёсткий отказ: RetryAfter сообщает, когда запрос станет возможен.
type RateLimitError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q, retry after %v", e.Identifier, e.RetryAfter)
}
