package handlers

import (
	"encoding/json"
	"net/http"

	"brokergate/internal/service"
)

// RefresherStatusProvider - источник состояния фонового обновления
type RefresherStatusProvider interface {
	Status() service.RefresherStatus
}

// ClientCounter - источник количества WebSocket подписчиков
type ClientCounter interface {
	ClientCount() int
}

// HealthHandler отдаёт состояние слоя данных.
//
// Endpoints:
// - GET /api/v1/health/data - кэш, батчер, rate limiter, refresher, ws
type HealthHandler struct {
	data      service.DataService
	refresher RefresherStatusProvider // может быть nil
	clients   ClientCounter           // может быть nil
}

// NewHealthHandler создает новый HealthHandler с внедрением зависимостей.
func NewHealthHandler(data service.DataService, refresher RefresherStatusProvider, clients ClientCounter) *HealthHandler {
	return &HealthHandler{
		data:      data,
		refresher: refresher,
		clients:   clients,
	}
}

// dataHealthResponse - документ ответа health check слоя данных
type dataHealthResponse struct {
	Status           string                   `json:"status"`
	Data             service.HealthStatus     `json:"data"`
	Refresher        *service.RefresherStatus `json:"refresher,omitempty"`
	WebSocketClients *int                     `json:"websocket_clients,omitempty"`
}

// GetDataHealth возвращает статистику кэша, батчера и rate limiter'а.
//
// GET /api/v1/health/data
//
// Response 200 OK:
//
//	{
//	  "status": "ok",
//	  "data": {
//	    "cache": {"total_entries": 12, "memory_usage_bytes": 40960},
//	    "batcher": {"pending_batches": 0, "total_pending_requests": 0, "executing_batches": 1},
//	    "rate_limiter": {"tracked_identifiers": 3, "window": "1m0s"}
//	  },
//	  "refresher": {"running": true, "last_sweep": "...", "interval": "2m0s"},
//	  "websocket_clients": 2
//	}
func (h *HealthHandler) GetDataHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.data == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "data service not initialized"})
		return
	}

	response := dataHealthResponse{
		Status: "ok",
		Data:   h.data.HealthCheck(),
	}

	if h.refresher != nil {
		status := h.refresher.Status()
		response.Refresher = &status
	}
	if h.clients != nil {
		count := h.clients.ClientCount()
		response.WebSocketClients = &count
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
