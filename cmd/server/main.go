package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokergate/internal/api"
	"brokergate/internal/broker"
	"brokergate/internal/cache"
	"brokergate/internal/config"
	"brokergate/internal/repository"
	"brokergate/internal/service"
	"brokergate/internal/websocket"
	"brokergate/pkg/ratelimit"
	"brokergate/pkg/retry"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database (%s)", cfg.Database.DSNWithoutPassword())

	// Репозиторий привязанных аккаунтов
	accountRepo := repository.NewAccountRepository(db)

	// Кэш данных брокера с фоновой уборкой просроченных записей
	dataCache := cache.New()
	stopJanitor := dataCache.StartJanitor(cfg.Data.CleanupInterval)
	defer stopJanitor()

	// Rate limiter с фоновой уборкой пустых окон
	limiter := ratelimit.NewSlidingWindowLimiter(cfg.Broker.RateWindow)
	stopSweeper := limiter.StartSweeper(cfg.Broker.RateWindow)
	defer stopSweeper()

	// Клиент брокера и батчер
	brokerFactory := broker.NewRESTFactory(broker.DefaultHTTPClientConfig(), cfg.Broker.LiveBaseURL, cfg.Broker.PracticeBaseURL)
	ttl := service.TTLPolicy{
		Portfolio: cfg.Data.PortfolioTTL,
		Account:   cfg.Data.AccountTTL,
		Orders:    cfg.Data.OrdersTTL,
		Positions: cfg.Data.PositionsTTL,
	}
	batcher := service.NewBatcher(dataCache, brokerFactory.Client, ttl, cfg.Data.DebounceDelay, cfg.Broker.FetchTimeout)

	// Сервисы
	dataService := service.NewAccountDataService(dataCache, limiter, batcher)
	accountService := service.NewAccountService(accountRepo, []byte(cfg.Security.EncryptionKey))

	// WebSocket hub для real-time снапшотов
	hub := websocket.NewHub()
	go hub.Run()

	// Фоновое обновление активных аккаунтов
	refresher := service.NewRefresher(
		accountService,
		dataService,
		limiter,
		hub,
		cfg.Refresher.Interval,
		cfg.Refresher.StopTimeout,
		cfg.Broker.KeyLimitPerWindow,
	)
	refresher.Start()

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		DataService:        dataService,
		Accounts:           accountService,
		Refresher:          refresher,
		Hub:                hub,
		UserLimitPerWindow: cfg.Broker.UserLimitPerWindow,
		AccessTokenHash:    cfg.Security.AccessTokenHash,
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Порядок остановки: сначала фон, потом приём запросов, потом
	// внутренности - ожидающие запросы получают ответ или отказ
	refresher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	batcher.Shutdown()
	hub.Stop()
	brokerFactory.Close()

	log.Println("Server exited")
}

// initDatabase создает подключение к базе данных.
// Ping выполняется с retry: при старте через docker-compose Postgres
// может подняться позже сервиса.
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retryCfg := retry.NetworkConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Printf("Database not ready (attempt %d): %v, retrying in %v", attempt+1, err, delay)
	}

	if err := retry.Do(ctx, func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return db.PingContext(pingCtx)
	}, retryCfg); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
