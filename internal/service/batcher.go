package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"brokergate/internal/broker"
	"brokergate/internal/cache"
	"brokergate/internal/models"
)

// pendingRequest - запрос одного вызывающего, ожидающий результата батча.
// Канал done буферизован (cap 1), поэтому запись результата не блокируется
// даже если вызывающий уже отменил контекст; каждый запрос разрешается
// или отклоняется ровно один раз.
type pendingRequest struct {
	requestType models.RequestType
	enqueuedAt  time.Time
	done        chan requestOutcome
}

type requestOutcome struct {
	value interface{}
	err   error
}

// batch - один цикл коалесинга для аккаунта.
//
// Жизненный цикл per-account: Idle -> Armed(timer) -> Executing(fetch) -> Idle.
// Все переходы вызываются ровно тремя событиями: постановка запроса,
// срабатывание debounce таймера, завершение запроса к брокеру.
// Состояние не хранится отдельным полем: Armed - это присутствие в
// Batcher.batches, Executing - отсутствие в map при живых pending.
type batch struct {
	userID    string
	accountID string
	creds     broker.Credentials
	timer     *time.Timer
	pending   []*pendingRequest
}

// fetchResult - результат одного объединённого запроса к брокеру
type fetchResult struct {
	positions []models.Position
	account   *models.AccountInfo
	orders    []models.Order
}

// BatchStats - статистика батчера для health check.
// Вычисляется из живой map батчей в момент вызова, не сэмплируется.
type BatchStats struct {
	PendingBatches       int `json:"pending_batches"`
	TotalPendingRequests int `json:"total_pending_requests"`
	ExecutingBatches     int `json:"executing_batches"`
}

// Batcher объединяет конкурентные запросы данных одного аккаунта
// в один запрос к брокеру (защита от cache stampede).
//
// Алгоритм:
//  1. Промах кэша создаёт батч для accountID в состоянии Armed и
//     взводит debounce таймер (по умолчанию 50ms)
//  2. Запросы, пришедшие до срабатывания таймера, присоединяются к
//     Armed батчу (join) и гарантированно попадают в его результат
//  3. По таймеру батч переходит в Executing и выполняет ровно один
//     запрос к брокеру за все запрошенные виды данных (ордера
//     запрашиваются только если их ждёт хотя бы один участник)
//  4. Пока батч Executing, новые запросы открывают свежий Armed батч
//     того же аккаунта - максимальное ожидание любого вызывающего
//     ограничено одним fetch + одним debounce
//  5. Успех: по одной записи кэша на каждый запрошенный тип, каждый
//     участник получает срез результата своего типа
//  6. Ошибка: все участники получают одну и ту же ошибку, кэш не
//     пишется (следующий запрос пойдёт к брокеру заново)
//
// Инварианты: не более одного Executing батча на аккаунт; все
// участники одного батча видят один и тот же результат брокера.
type Batcher struct {
	cache         *cache.Cache
	clientFactory broker.Factory
	ttl           TTLPolicy
	debounce      time.Duration
	fetchTimeout  time.Duration

	// batches содержит только Armed батчи; Executing батч удаляется
	// из map в момент перехода, чтобы новые запросы открывали свежий
	batches   map[string]*batch
	executing int
	shutdown  bool
	mu        sync.Mutex
}

// NewBatcher создаёт батчер поверх кэша и фабрики клиентов брокера
func NewBatcher(c *cache.Cache, factory broker.Factory, ttl TTLPolicy, debounce, fetchTimeout time.Duration) *Batcher {
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 7 * time.Second
	}

	return &Batcher{
		cache:         c,
		clientFactory: factory,
		ttl:           ttl,
		debounce:      debounce,
		fetchTimeout:  fetchTimeout,
		batches:       make(map[string]*batch),
	}
}

// Request возвращает данные типа requestType для аккаунта: из кэша
// при попадании, иначе через участие в батче.
//
// Неизвестный тип отклоняется немедленно - без батча и без запроса
// к брокеру. Отмена ctx освобождает вызывающего, но не влияет на
// батч: остальные участники дождутся результата.
func (b *Batcher) Request(ctx context.Context, userID, accountID string, creds broker.Credentials, requestType models.RequestType) (interface{}, error) {
	if !requestType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRequestType, string(requestType))
	}

	if value, ok := b.cache.Get(userID, accountID, requestType); ok {
		recordCacheHit(requestType.String())
		return value, nil
	}
	recordCacheMiss(requestType.String())

	pr := &pendingRequest{
		requestType: requestType,
		enqueuedAt:  time.Now(),
		done:        make(chan requestOutcome, 1),
	}

	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return nil, ErrShuttingDown
	}

	current, ok := b.batches[accountID]
	if !ok {
		current = &batch{
			userID:    userID,
			accountID: accountID,
			creds:     creds,
		}
		current.timer = time.AfterFunc(b.debounce, func() {
			b.execute(current)
		})
		b.batches[accountID] = current
	}
	current.pending = append(current.pending, pr)
	b.mu.Unlock()

	select {
	case outcome := <-pr.done:
		return outcome.value, outcome.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// execute переводит батч в Executing и выполняет объединённый запрос.
// Вызывается debounce таймером.
func (b *Batcher) execute(bt *batch) {
	b.mu.Lock()
	// Удаляем из map: батч теперь Executing, следующий запрос этого
	// аккаунта откроет новый
	if b.batches[bt.accountID] == bt {
		delete(b.batches, bt.accountID)
	}
	b.executing++
	pending := bt.pending
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.executing--
		b.mu.Unlock()
	}()

	recordBatchExecuted(len(pending))

	// Ордера запрашиваем только если их ждёт хотя бы один участник
	wantOrders := false
	for _, pr := range pending {
		if pr.requestType == models.RequestTypeOrders {
			wantOrders = true
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.fetchTimeout)
	defer cancel()

	started := time.Now()
	result, err := b.fetch(ctx, bt.creds, wantOrders)
	recordUpstreamFetch(time.Since(started), err)

	if err != nil {
		// Все участники получают одну и ту же ошибку, кэш не пишется -
		// неудачный запрос не отравляет последующие чтения
		log.Printf("Batch fetch failed for account %s: %v", bt.accountID, err)
		for _, pr := range pending {
			pr.done <- requestOutcome{err: err}
		}
		return
	}

	// Write-through: по одной записи на каждый запрошенный тип
	written := make(map[models.RequestType]bool)
	for _, pr := range pending {
		if written[pr.requestType] {
			continue
		}
		written[pr.requestType] = true
		b.cache.Set(bt.userID, bt.accountID, pr.requestType, sliceFor(pr.requestType, result), b.ttl.For(pr.requestType))
	}

	for _, pr := range pending {
		pr.done <- requestOutcome{value: sliceFor(pr.requestType, result)}
	}
}

// fetch выполняет запросы к брокеру конкурентно и собирает результат.
// Любая ошибка любого запроса делает весь батч неуспешным.
func (b *Batcher) fetch(ctx context.Context, creds broker.Credentials, wantOrders bool) (*fetchResult, error) {
	client := b.clientFactory(creds)
	result := &fetchResult{}

	var wg sync.WaitGroup
	var posErr, accErr, ordErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		result.positions, posErr = client.GetPositions(ctx)
	}()
	go func() {
		defer wg.Done()
		result.account, accErr = client.GetAccount(ctx)
	}()

	if wantOrders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.orders, ordErr = client.GetOrders(ctx)
		}()
	}

	wg.Wait()

	for _, err := range []error{posErr, accErr, ordErr} {
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// sliceFor возвращает срез результата батча для типа запроса
func sliceFor(requestType models.RequestType, result *fetchResult) interface{} {
	switch requestType {
	case models.RequestTypeAccount:
		return result.account
	case models.RequestTypeOrders:
		return result.orders
	default:
		// portfolio и positions - один и тот же список позиций,
		// кэшируются под разными ключами со своими TTL
		return result.positions
	}
}

// GetStats возвращает статистику живых батчей
func (b *Batcher) GetStats() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, bt := range b.batches {
		total += len(bt.pending)
	}

	return BatchStats{
		PendingBatches:       len(b.batches),
		TotalPendingRequests: total,
		ExecutingBatches:     b.executing,
	}
}

// Shutdown останавливает приём новых запросов и отклоняет все Armed
// батчи. Executing батчи завершатся сами: их результат пишется в
// буферизованные каналы и не держит процесс.
func (b *Batcher) Shutdown() {
	b.mu.Lock()
	b.shutdown = true
	armed := make([]*batch, 0, len(b.batches))
	for accountID, bt := range b.batches {
		// Если таймер уже сработал, execute() сам разрешит участников -
		// принудительно отклоняем только батчи с остановленным таймером
		if bt.timer.Stop() {
			armed = append(armed, bt)
			delete(b.batches, accountID)
		}
	}
	b.mu.Unlock()

	for _, bt := range armed {
		for _, pr := range bt.pending {
			pr.done <- requestOutcome{err: ErrShuttingDown}
		}
	}
}
