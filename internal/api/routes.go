package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brokergate/internal/api/handlers"
	"brokergate/internal/api/middleware"
	"brokergate/internal/service"
	"brokergate/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	DataService service.DataService
	Accounts    service.CredentialsResolver
	Refresher   handlers.RefresherStatusProvider
	Hub         *websocket.Hub

	// Лимит запросов пользователя в окно rate limiter'а
	UserLimitPerWindow float64

	// bcrypt хеш access token дашборда; пустой - auth выключен
	AccessTokenHash string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Назначение:
// Центральное место для определения всех API endpoints.
// Регистрирует handlers для каждого маршрута.
// Применяет middleware к группам маршрутов.
// Организует версионирование API (v1).
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /accounts/
//	│   ├── GET  /{accountId}/data?orders=true - снапшот аккаунта
//	│   └── POST /{accountId}/refresh - принудительное обновление
//	└── /health/
//	    └── GET /data - состояние кэша, батчера, rate limiter'а
//
// /ws/
//
//	└── /stream - WebSocket для real-time снапшотов
//
// /health - liveness probe
// /metrics - Prometheus метрики
// /debug/pprof/* - профилирование, за Basic auth (DebugAuth)
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// Создание handlers с внедрением зависимостей
	var accountHandler *handlers.AccountDataHandler
	if deps != nil && deps.DataService != nil && deps.Accounts != nil {
		accountHandler = handlers.NewAccountDataHandler(deps.DataService, deps.Accounts, deps.UserLimitPerWindow)
	}

	var healthHandler *handlers.HealthHandler
	if deps != nil && deps.DataService != nil {
		var clients handlers.ClientCounter
		if deps.Hub != nil {
			clients = deps.Hub
		}
		healthHandler = handlers.NewHealthHandler(deps.DataService, deps.Refresher, clients)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	if deps != nil {
		api.Use(middleware.NewAuth(deps.AccessTokenHash))
	}

	// Account data routes
	if accountHandler != nil {
		api.HandleFunc("/accounts/{accountId}/data", accountHandler.GetAccountData).Methods("GET")
		api.HandleFunc("/accounts/{accountId}/refresh", accountHandler.RefreshAccountData).Methods("POST")
	}

	// Data layer health
	if healthHandler != nil {
		api.HandleFunc("/health/data", healthHandler.GetDataHealth).Methods("GET")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// pprof за Basic auth (DEBUG_USERNAME/DEBUG_PASSWORD)
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	// Index обслуживает и /debug/pprof/, и именованные профили (heap, goroutine...)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
