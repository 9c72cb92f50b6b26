package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"brokergate/internal/models"
)

// URL окружений брокера по умолчанию
const (
	DefaultLiveBaseURL     = "https://live.brokerapi.com"
	DefaultPracticeBaseURL = "https://demo.brokerapi.com"
)

// RESTFactory создаёт REST клиентов брокера, разделяющих один
// connection pool. Один экземпляр на процесс.
type RESTFactory struct {
	httpClient  *http.Client
	liveURL     string
	practiceURL string
}

// NewRESTFactory создаёт фабрику REST клиентов.
// Пустые URL заменяются на значения по умолчанию.
func NewRESTFactory(config HTTPClientConfig, liveURL, practiceURL string) *RESTFactory {
	if liveURL == "" {
		liveURL = DefaultLiveBaseURL
	}
	if practiceURL == "" {
		practiceURL = DefaultPracticeBaseURL
	}

	return &RESTFactory{
		httpClient:  newHTTPClient(config),
		liveURL:     liveURL,
		practiceURL: practiceURL,
	}
}

// Client возвращает клиент для заданных реквизитов.
// Сигнатура совместима с broker.Factory.
func (f *RESTFactory) Client(creds Credentials) Client {
	baseURL := f.liveURL
	if creds.IsPractice {
		baseURL = f.practiceURL
	}

	return &restClient{
		httpClient: f.httpClient,
		baseURL:    baseURL,
		apiKey:     creds.APIKey,
	}
}

// Close закрывает idle соединения пула.
// Вызывается при graceful shutdown.
func (f *RESTFactory) Close() {
	closeIdleConnections(f.httpClient)
}

// restClient - клиент одного аккаунта поверх REST API брокера
type restClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// GetPositions возвращает открытые позиции аккаунта
func (c *restClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	if err := c.doGet(ctx, "positions", "/api/v1/equity/portfolio", &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetAccount возвращает сводную информацию об аккаунте
func (c *restClient) GetAccount(ctx context.Context) (*models.AccountInfo, error) {
	account := &models.AccountInfo{}
	if err := c.doGet(ctx, "account", "/api/v1/equity/account", account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetOrders возвращает открытые отложенные ордера
func (c *restClient) GetOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := c.doGet(ctx, "orders", "/api/v1/equity/orders", &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// doGet выполняет GET запрос и декодирует JSON ответ в out.
// Любая сетевая или HTTP ошибка заворачивается в *Error,
// чтобы вызывающий слой мог отличить ошибку брокера от внутренней.
func (c *restClient) doGet(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &Error{Op: op, Message: "failed to build request", Original: err}
	}

	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Message: err.Error(), Original: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Читаем тело ограниченно: диагностика без риска раздуть логи
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Op:       op,
			Message:  fmt.Sprintf("failed to decode response: %v", err),
			Original: err,
		}
	}

	return nil
}
