// Package broker предоставляет клиент для upstream API брокера.
//
// Брокер применяет строгие per-key rate limits, поэтому клиент
// используется только через слой кэширования и коалесинга
// (internal/service), никогда напрямую из handlers.
package broker

import (
	"context"
	"fmt"

	"brokergate/internal/models"
)

// Credentials - реквизиты доступа к аккаунту брокера
type Credentials struct {
	APIKey     string
	IsPractice bool // practice (демо) или live окружение
}

// Client определяет интерфейс upstream клиента брокера.
// Каждый метод может вернуть сетевую/HTTP ошибку (*Error);
// вызывающий слой обязан перехватить её и не допустить паники.
type Client interface {
	// GetPositions возвращает открытые позиции аккаунта
	GetPositions(ctx context.Context) ([]models.Position, error)

	// GetAccount возвращает сводную информацию об аккаунте
	GetAccount(ctx context.Context) (*models.AccountInfo, error)

	// GetOrders возвращает открытые отложенные ордера
	GetOrders(ctx context.Context) ([]models.Order, error)
}

// Factory создаёт клиент для заданных реквизитов.
// Сервисный слой строит клиент per-account; фабрика внедряется через
// composition root, в тестах подменяется моком.
type Factory func(creds Credentials) Client

// Error представляет ошибку upstream API брокера
type Error struct {
	Op         string // операция: positions, account, orders
	StatusCode int    // HTTP статус (0 для сетевых ошибок)
	Message    string
	Original   error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("broker %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("broker %s: %s", e.Op, e.Message)
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Original
}
