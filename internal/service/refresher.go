package service

import (
	"context"
	"log"
	"sync"
	"time"

	"brokergate/internal/broker"
	"brokergate/internal/models"
	"brokergate/pkg/ratelimit"
)

// AccountDirectory - источник аккаунтов для фонового обновления
type AccountDirectory interface {
	ListActive() ([]models.LinkedAccount, error)
	ResolveCredentials(userID, accountID string) (broker.Credentials, error)
	RecordRefreshError(userID, accountID string, refreshErr error)
	ClearRefreshError(userID, accountID string)
}

// DataProvider - подмножество AccountDataService, нужное refresher'у
type DataProvider interface {
	ForceRefreshAccountData(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error)
}

// SnapshotBroadcaster рассылает результаты обновления подписчикам
// WebSocket: свежие снапшоты и ошибки обновления (frontend помечает
// данные аккаунта устаревшими). Интерфейс разрывает зависимость
// service -> websocket.
type SnapshotBroadcaster interface {
	BroadcastSnapshot(userID, accountID string, snapshot *models.AccountSnapshot)
	BroadcastRefreshError(userID, accountID string, err error)
}

// RefresherStatus - состояние фонового обновления для health check
type RefresherStatus struct {
	Running   bool      `json:"running"`
	LastSweep time.Time `json:"last_sweep"`
	Interval  string    `json:"interval"`
}

// Refresher периодически обновляет данные активных аккаунтов, чтобы
// UI чаще попадал в тёплый кэш.
//
// Алгоритм прохода:
//  1. Список активных аккаунтов берётся из БД (ListActive)
//  2. Каждый аккаунт проверяется через общий rate limiter - тот же
//     бюджет, что и запросы пользователей, фон никогда не выжигает
//     лимит брокера целиком
//  3. ForceRefreshAccountData: кэш инвалидируется и наполняется заново
//  4. Ошибка одного аккаунта логируется, пишется в last_error,
//     рассылается подписчикам как refreshError и не прерывает проход
//  5. Успешный снапшот рассылается WebSocket подписчикам
type Refresher struct {
	accounts    AccountDirectory
	data        DataProvider
	limiter     *ratelimit.SlidingWindowLimiter
	broadcaster SnapshotBroadcaster // может быть nil

	interval    time.Duration
	stopTimeout time.Duration
	keyLimit    float64

	running   bool
	lastSweep time.Time
	mu        sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// NewRefresher создаёт фоновое обновление (не запускает)
func NewRefresher(accounts AccountDirectory, data DataProvider, limiter *ratelimit.SlidingWindowLimiter, broadcaster SnapshotBroadcaster, interval, stopTimeout time.Duration, keyLimit float64) *Refresher {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}

	return &Refresher{
		accounts:    accounts,
		data:        data,
		limiter:     limiter,
		broadcaster: broadcaster,
		interval:    interval,
		stopTimeout: stopTimeout,
		keyLimit:    keyLimit,
	}
}

// Start запускает цикл обновления. Повторный Start без Stop - no-op.
func (r *Refresher) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	log.Printf("Background refresher started (interval %v)", r.interval)

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// Stop останавливает цикл и ждёт завершения текущего прохода,
// но не дольше stopTimeout
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		log.Println("Background refresher stopped")
	case <-time.After(r.stopTimeout):
		log.Println("Background refresher stop timed out, abandoning sweep")
	}
}

// IsRunning сообщает, запущен ли цикл обновления
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Status возвращает состояние для health check
func (r *Refresher) Status() RefresherStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RefresherStatus{
		Running:   r.running,
		LastSweep: r.lastSweep,
		Interval:  r.interval.String(),
	}
}

// Sweep выполняет один проход по активным аккаунтам.
// Вызывается тикером; экспортирован для ручного запуска и тестов.
func (r *Refresher) Sweep() {
	r.mu.Lock()
	r.lastSweep = time.Now()
	r.mu.Unlock()

	accounts, err := r.accounts.ListActive()
	if err != nil {
		log.Printf("Refresher: failed to list active accounts: %v", err)
		RefreshSweeps.WithLabelValues("partial").Inc()
		return
	}

	failures := 0
	for _, account := range accounts {
		if err := r.refreshAccount(account); err != nil {
			failures++
		}
	}

	result := "ok"
	if failures > 0 {
		result = "partial"
		log.Printf("Refresher: sweep finished with %d/%d failures", failures, len(accounts))
	}
	RefreshSweeps.WithLabelValues(result).Inc()
}

// refreshAccount обновляет один аккаунт; ошибка не прерывает проход
func (r *Refresher) refreshAccount(account models.LinkedAccount) error {
	identifier := "refresh:" + account.AccountID
	if !r.limiter.CanMakeRequest(identifier, r.keyLimit) {
		// Не ошибка аккаунта: лимит общий с пользовательскими
		// запросами, аккаунт обновится на следующем проходе
		RecordRateLimited("refresher")
		return nil
	}

	creds, err := r.accounts.ResolveCredentials(account.UserID, account.AccountID)
	if err != nil {
		log.Printf("Refresher: failed to resolve credentials for account %s: %v", account.AccountID, err)
		r.recordFailure(account, err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snapshot, err := r.data.ForceRefreshAccountData(ctx, account.UserID, account.AccountID, creds, false)
	if err != nil {
		log.Printf("Refresher: failed to refresh account %s: %v", account.AccountID, err)
		r.recordFailure(account, err)
		return err
	}

	r.accounts.ClearRefreshError(account.UserID, account.AccountID)

	if r.broadcaster != nil {
		r.broadcaster.BroadcastSnapshot(account.UserID, account.AccountID, snapshot)
	}

	return nil
}

// recordFailure пишет ошибку в last_error и уведомляет подписчиков,
// что данные аккаунта перестали обновляться
func (r *Refresher) recordFailure(account models.LinkedAccount, refreshErr error) {
	RefreshAccountErrors.Inc()
	r.accounts.RecordRefreshError(account.UserID, account.AccountID, refreshErr)

	if r.broadcaster != nil {
		r.broadcaster.BroadcastRefreshError(account.UserID, account.AccountID, refreshErr)
	}
}
