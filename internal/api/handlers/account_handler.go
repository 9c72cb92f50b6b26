package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"brokergate/internal/broker"
	"brokergate/internal/service"
)

// AccountDataHandler обрабатывает HTTP запросы за данными брокерских
// аккаунтов.
//
// Endpoints:
// - GET  /api/v1/accounts/{accountId}/data?orders=true - снапшот аккаунта
// - POST /api/v1/accounts/{accountId}/refresh - принудительное обновление
//
// Пользователь идентифицируется заголовком X-User-ID (проставляется
// auth middleware после проверки токена).
//
// Коды ответов:
// - 200: снапшот (cache_hit показывает источник, connected всегда true)
// - 400: нет X-User-ID / некорректные параметры
// - 404: аккаунт не привязан
// - 429: исчерпан лимит запросов, Retry-After в секундах
// - 500: ошибка брокера или внутренняя; деградированное тело
//   {error, connected:false, positions:[]}
type AccountDataHandler struct {
	data      service.DataService
	accounts  service.CredentialsResolver
	userLimit float64
}

// NewAccountDataHandler создает новый AccountDataHandler с внедрением зависимостей.
// userLimit - лимит запросов пользователя в окно rate limiter'а.
func NewAccountDataHandler(data service.DataService, accounts service.CredentialsResolver, userLimit float64) *AccountDataHandler {
	return &AccountDataHandler{
		data:      data,
		accounts:  accounts,
		userLimit: userLimit,
	}
}

// GetAccountData возвращает снапшот аккаунта.
//
// GET /api/v1/accounts/{accountId}/data?orders=true
//
// Response 200 OK:
//
//	{
//	  "connected": true,
//	  "account": {"account_id": "acc-100", "currency": "USD", "cash": 1000, ...},
//	  "positions": [{"symbol": "AAPL", "quantity": 10, ...}],
//	  "orders": [...],               // только при orders=true
//	  "stats": {"total_value": 3180, "total_pnl": 180, ...},
//	  "cache_hit": true,
//	  "last_updated": "2026-08-31T12:00:00Z"
//	}
func (h *AccountDataHandler) GetAccountData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.data == nil || h.accounts == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "data service not initialized"})
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "missing X-User-ID header"})
		return
	}
	accountID := mux.Vars(r)["accountId"]

	includeOrders := false
	if ordersStr := r.URL.Query().Get("orders"); ordersStr != "" {
		parsed, err := strconv.ParseBool(ordersStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(ErrorResponse{Error: "invalid orders parameter", Details: err.Error()})
			return
		}
		includeOrders = parsed
	}

	identifier := "user:" + userID
	if !h.data.CanMakeRequest(identifier, h.userLimit) {
		h.writeRateLimited(w, identifier)
		return
	}

	creds, err := h.accounts.ResolveCredentials(userID, accountID)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	snapshot, err := h.data.GetAccountData(r.Context(), userID, accountID, creds, includeOrders)
	if err != nil {
		h.writeDataError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(snapshot)
}

// RefreshAccountData принудительно обновляет данные аккаунта.
//
// POST /api/v1/accounts/{accountId}/refresh
//
// Кэш инвалидируется и наполняется свежими данными брокера.
// Ответ идентичен GetAccountData, cache_hit всегда false.
func (h *AccountDataHandler) RefreshAccountData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.data == nil || h.accounts == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "data service not initialized"})
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "missing X-User-ID header"})
		return
	}
	accountID := mux.Vars(r)["accountId"]

	identifier := "user:" + userID
	if !h.data.CanMakeRequest(identifier, h.userLimit) {
		h.writeRateLimited(w, identifier)
		return
	}

	creds, err := h.accounts.ResolveCredentials(userID, accountID)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	snapshot, err := h.data.ForceRefreshAccountData(r.Context(), userID, accountID, creds, false)
	if err != nil {
		h.writeDataError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(snapshot)
}

// writeRateLimited отвечает 429 с Retry-After
func (h *AccountDataHandler) writeRateLimited(w http.ResponseWriter, identifier string) {
	service.RecordRateLimited("user")
	retryAfter := h.data.GetTimeUntilReset(identifier)
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:      "rate limit exceeded",
		Code:       "RATE_LIMITED",
		RetryAfter: seconds,
	})
}

// writeResolveError транслирует ошибки поиска привязки в HTTP коды
func (h *AccountDataHandler) writeResolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrAccountNotFound) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "account not found", Code: "ACCOUNT_NOT_FOUND"})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(ErrorResponse{Error: "failed to resolve account", Details: err.Error()})
}

// writeDataError транслирует ошибки слоя данных в HTTP коды
func (h *AccountDataHandler) writeDataError(w http.ResponseWriter, err error) {
	var rateErr *service.RateLimitError
	if errors.As(err, &rateErr) {
		seconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:      "rate limit exceeded",
			Code:       "RATE_LIMITED",
			RetryAfter: seconds,
		})
		return
	}

	if errors.Is(err, service.ErrShuttingDown) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "service is shutting down"})
		return
	}

	// Ошибка брокера и неожиданные ошибки - 500 с деградированным телом:
	// connected=false и пустые позиции, dashboard показывает
	// "disconnected" вместо падения
	w.WriteHeader(http.StatusInternalServerError)

	var brokerErr *broker.Error
	if errors.As(err, &brokerErr) {
		json.NewEncoder(w).Encode(NewDegradedResponse("broker request failed", "UPSTREAM_ERROR", brokerErr.Error()))
		return
	}
	json.NewEncoder(w).Encode(NewDegradedResponse("failed to get account data", "", err.Error()))
}
