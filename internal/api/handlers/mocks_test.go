package handlers

import (
	"context"
	"sync"
	"time"

	"brokergate/internal/broker"
	"brokergate/internal/cache"
	"brokergate/internal/models"
	"brokergate/internal/service"
)

// ============ Mock Data Service ============

// MockDataService мок для service.DataService
type MockDataService struct {
	snapshot   *models.AccountSnapshot
	orders     []models.Order
	getErr     error
	refreshErr error

	allowRequests bool
	resetIn       time.Duration

	getCalls     int
	refreshCalls int
	mu           sync.Mutex
}

// NewMockDataService создает мок слоя данных с типовым снапшотом
func NewMockDataService() *MockDataService {
	return &MockDataService{
		snapshot: &models.AccountSnapshot{
			Connected: true,
			Account: &models.AccountInfo{
				AccountID: "acc-100",
				Currency:  "USD",
				Cash:      1000,
				Total:     3180,
			},
			Portfolio: []models.Position{
				{Symbol: "AAPL", Quantity: 10, CurrentPrice: 170, Pnl: 200, PnlToday: 15},
			},
			Stats: models.PortfolioStats{
				TotalValue:      1700,
				TotalPnl:        200,
				TodayPnl:        15,
				ActivePositions: 1,
			},
			CacheHit:    false,
			LastUpdated: time.Now(),
		},
		orders: []models.Order{
			{ID: "ord-1", Symbol: "NVDA", Side: models.OrderSideBuy, Status: models.OrderStatusWorking},
		},
		allowRequests: true,
		resetIn:       30 * time.Second,
	}
}

func (m *MockDataService) GetAccountData(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	snapshot := *m.snapshot
	if includeOrders {
		snapshot.Orders = m.orders
	}
	return &snapshot, nil
}

func (m *MockDataService) ForceRefreshAccountData(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshCalls++
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	snapshot := *m.snapshot
	snapshot.CacheHit = false
	return &snapshot, nil
}

func (m *MockDataService) CanMakeRequest(identifier string, limit float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowRequests
}

func (m *MockDataService) GetTimeUntilReset(identifier string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetIn
}

func (m *MockDataService) HealthCheck() service.HealthStatus {
	return service.HealthStatus{
		Cache: cache.Stats{TotalEntries: 3, MemoryUsage: 1024},
		Batcher: service.BatchStats{
			PendingBatches: 1,
		},
		RateLimiter: service.RateLimiterStats{
			TrackedIdentifiers: 2,
			Window:             "1m0s",
		},
	}
}

func (m *MockDataService) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

func (m *MockDataService) RefreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

// ============ Mock Credentials Resolver ============

// MockCredentialsResolver мок для service.CredentialsResolver
type MockCredentialsResolver struct {
	creds broker.Credentials
	err   error
}

func NewMockCredentialsResolver() *MockCredentialsResolver {
	return &MockCredentialsResolver{
		creds: broker.Credentials{APIKey: "test-key"},
	}
}

func (m *MockCredentialsResolver) ResolveCredentials(userID, accountID string) (broker.Credentials, error) {
	if m.err != nil {
		return broker.Credentials{}, m.err
	}
	return m.creds, nil
}

// ============ Mock Refresher Status ============

type MockRefresherStatus struct {
	status service.RefresherStatus
}

func (m *MockRefresherStatus) Status() service.RefresherStatus {
	return m.status
}

// ============ Mock Client Counter ============

type MockClientCounter struct {
	count int
}

func (m *MockClientCounter) ClientCount() int {
	return m.count
}
