package service

import (
	"context"
	"sync"
	"time"

	"brokergate/internal/broker"
	"brokergate/internal/cache"
	"brokergate/internal/models"
	"brokergate/pkg/ratelimit"
)

// AccountDataService - единственная точка входа для чтения данных
// брокерских аккаунтов.
//
// Назначение:
// Композиция RateLimiter + Cache + Batcher + клиент брокера.
// Вызывающие (handlers, фоновое обновление, AI-задачи) никогда не
// обращаются к брокеру напрямую: cache-first путь через батчер
// гарантирует не более одного in-flight запроса на аккаунт.
//
// Один экземпляр на процесс; создаётся в composition root (cmd/server)
// и внедряется в handlers, что сохраняет тестируемость (свежие
// экземпляры в каждом тесте).
type AccountDataService struct {
	cache   *cache.Cache
	limiter *ratelimit.SlidingWindowLimiter
	batcher *Batcher
}

// NewAccountDataService создаёт сервис поверх готовых компонентов
func NewAccountDataService(c *cache.Cache, limiter *ratelimit.SlidingWindowLimiter, batcher *Batcher) *AccountDataService {
	return &AccountDataService{
		cache:   c,
		limiter: limiter,
		batcher: batcher,
	}
}

// GetAccountData возвращает снапшот аккаунта cache-first путём.
//
// CacheHit в снапшоте означает, что портфель отдан из кэша;
// LastUpdated - время фактического получения портфеля от брокера.
// Stats всегда вычисляется детерминированно из текущего портфеля.
func (s *AccountDataService) GetAccountData(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error) {
	_, hit := s.cache.GetEntry(userID, accountID, models.RequestTypePortfolio)

	snapshot, err := s.collect(ctx, userID, accountID, creds, includeOrders)
	if err != nil {
		return nil, err
	}

	snapshot.CacheHit = hit
	return snapshot, nil
}

// ForceRefreshAccountData обходит чтение кэша (запись инвалидируется,
// путь батчера выполняется как при промахе), но успешный результат
// по-прежнему пишется в кэш. Используется фоновым обновлением и
// явным refresh из UI.
func (s *AccountDataService) ForceRefreshAccountData(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error) {
	s.cache.InvalidateAccount(userID, accountID)

	snapshot, err := s.collect(ctx, userID, accountID, creds, includeOrders)
	if err != nil {
		return nil, err
	}

	snapshot.CacheHit = false
	return snapshot, nil
}

// collect конкурентно запрашивает все нужные типы данных через батчер.
// Конкурентность существенна: запросы одного аккаунта, выпущенные в
// одном окне debounce, объединяются в один запрос к брокеру.
func (s *AccountDataService) collect(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error) {
	var wg sync.WaitGroup
	var positions []models.Position
	var account *models.AccountInfo
	var orders []models.Order
	var posErr, accErr, ordErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		value, err := s.batcher.Request(ctx, userID, accountID, creds, models.RequestTypePortfolio)
		if err != nil {
			posErr = err
			return
		}
		positions, _ = value.([]models.Position)
	}()
	go func() {
		defer wg.Done()
		value, err := s.batcher.Request(ctx, userID, accountID, creds, models.RequestTypeAccount)
		if err != nil {
			accErr = err
			return
		}
		account, _ = value.(*models.AccountInfo)
	}()

	if includeOrders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := s.batcher.Request(ctx, userID, accountID, creds, models.RequestTypeOrders)
			if err != nil {
				ordErr = err
				return
			}
			orders, _ = value.([]models.Order)
		}()
	}

	wg.Wait()

	for _, err := range []error{posErr, accErr, ordErr} {
		if err != nil {
			return nil, err
		}
	}

	// Пустые массивы вместо null в JSON ответах; orders остаётся nil
	// (null), когда ордера не запрашивались
	if positions == nil {
		positions = []models.Position{}
	}
	if includeOrders && orders == nil {
		orders = []models.Order{}
	}

	snapshot := &models.AccountSnapshot{
		Connected:   true,
		Account:     account,
		Portfolio:   positions,
		Orders:      orders,
		Stats:       s.ComputeStats(positions, account),
		LastUpdated: time.Now(),
	}

	// Точное время получения портфеля от брокера, если запись жива
	if entry, ok := s.cache.GetEntry(userID, accountID, models.RequestTypePortfolio); ok {
		snapshot.LastUpdated = entry.FetchedAt
	}

	return snapshot, nil
}

// ComputeStats детерминированно вычисляет статистику портфеля.
// Пустой портфель даёт нулевую статистику; деления нет вообще -
// процентные поля считают потребители из stats и account.
func (s *AccountDataService) ComputeStats(portfolio []models.Position, account *models.AccountInfo) models.PortfolioStats {
	stats := models.PortfolioStats{
		ActivePositions: len(portfolio),
	}

	for i := range portfolio {
		stats.TotalValue += portfolio[i].Quantity * portfolio[i].CurrentPrice
		stats.TotalPnl += portfolio[i].Pnl
		stats.TodayPnl += portfolio[i].PnlToday
	}

	return stats
}

// CanMakeRequest делегирует проверку лимита rate limiter'у.
// Handlers обязаны вызывать её до GetAccountData/ForceRefreshAccountData
// и при отказе отвечать 429 с retry-after из GetTimeUntilReset.
func (s *AccountDataService) CanMakeRequest(identifier string, limit float64) bool {
	return s.limiter.CanMakeRequest(identifier, limit)
}

// GetTimeUntilReset делегирует rate limiter'у
func (s *AccountDataService) GetTimeUntilReset(identifier string) time.Duration {
	return s.limiter.GetTimeUntilReset(identifier)
}

// GetCacheStats возвращает статистику кэша
func (s *AccountDataService) GetCacheStats() cache.Stats {
	return s.cache.GetStats()
}

// GetBatchStats возвращает статистику батчера
func (s *AccountDataService) GetBatchStats() BatchStats {
	return s.batcher.GetStats()
}

// RateLimiterStats - срез состояния rate limiter'а для health check
type RateLimiterStats struct {
	TrackedIdentifiers int    `json:"tracked_identifiers"`
	Window             string `json:"window"`
}

// HealthStatus - составной health документ слоя данных
type HealthStatus struct {
	Cache       cache.Stats      `json:"cache"`
	Batcher     BatchStats       `json:"batcher"`
	RateLimiter RateLimiterStats `json:"rate_limiter"`
}

// HealthCheck собирает статистику всех компонентов слоя
func (s *AccountDataService) HealthCheck() HealthStatus {
	return HealthStatus{
		Cache:   s.cache.GetStats(),
		Batcher: s.batcher.GetStats(),
		RateLimiter: RateLimiterStats{
			TrackedIdentifiers: s.limiter.TrackedIdentifiers(),
			Window:             s.limiter.WindowSize().String(),
		},
	}
}
