package service

import (
	"context"
	"sync"
	"time"

	"brokergate/internal/broker"
	"brokergate/internal/models"
	"brokergate/internal/repository"
)

// ============================================================
// Моки для тестов сервисного слоя
// ============================================================

// mockBrokerClient - мок клиента брокера с подсчётом вызовов.
// SetError(operation, err) настраивает ошибку для конкретной операции.
type mockBrokerClient struct {
	mu sync.Mutex

	positions []models.Position
	account   *models.AccountInfo
	orders    []models.Order

	errors map[string]error
	delay  time.Duration

	positionsCalls int
	accountCalls   int
	ordersCalls    int
}

func newMockBrokerClient() *mockBrokerClient {
	return &mockBrokerClient{
		positions: []models.Position{
			{Symbol: "AAPL", Quantity: 10, AveragePrice: 150, CurrentPrice: 170, Pnl: 200, PnlToday: 15, Currency: "USD"},
			{Symbol: "TSLA", Quantity: 2, AveragePrice: 250, CurrentPrice: 240, Pnl: -20, PnlToday: -5, Currency: "USD"},
		},
		account: &models.AccountInfo{
			AccountID: "acc-100",
			Currency:  "USD",
			Cash:      1000,
			Invested:  2180,
			Total:     3180,
		},
		orders: []models.Order{
			{ID: "ord-1", Symbol: "NVDA", Side: models.OrderSideBuy, Quantity: 1, Status: models.OrderStatusWorking},
		},
		errors: make(map[string]error),
	}
}

func (m *mockBrokerClient) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[operation] = err
}

func (m *mockBrokerClient) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *mockBrokerClient) wait(ctx context.Context) error {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay == 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockBrokerClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	m.mu.Lock()
	m.positionsCalls++
	err := m.errors["GetPositions"]
	positions := m.positions
	m.mu.Unlock()

	if werr := m.wait(ctx); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return positions, nil
}

func (m *mockBrokerClient) GetAccount(ctx context.Context) (*models.AccountInfo, error) {
	m.mu.Lock()
	m.accountCalls++
	err := m.errors["GetAccount"]
	account := m.account
	m.mu.Unlock()

	if werr := m.wait(ctx); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (m *mockBrokerClient) GetOrders(ctx context.Context) ([]models.Order, error) {
	m.mu.Lock()
	m.ordersCalls++
	err := m.errors["GetOrders"]
	orders := m.orders
	m.mu.Unlock()

	if werr := m.wait(ctx); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (m *mockBrokerClient) PositionsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionsCalls
}

func (m *mockBrokerClient) AccountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountCalls
}

func (m *mockBrokerClient) OrdersCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ordersCalls
}

// factoryFor оборачивает мок-клиент в broker.Factory с подсчётом вызовов
func factoryFor(client *mockBrokerClient) (broker.Factory, *int32Counter) {
	calls := &int32Counter{}
	return func(creds broker.Credentials) broker.Client {
		calls.Inc()
		return client
	}, calls
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) Inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// mockAccountStore - мок AccountStore для AccountService
type mockAccountStore struct {
	mu sync.Mutex

	accounts map[string]*models.LinkedAccount // key: userID + "/" + accountID
	active   []models.LinkedAccount
	errors   map[string]error

	lastErrors map[string]string
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{
		accounts:   make(map[string]*models.LinkedAccount),
		errors:     make(map[string]error),
		lastErrors: make(map[string]string),
	}
}

func (m *mockAccountStore) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[operation] = err
}

func (m *mockAccountStore) Add(account models.LinkedAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.UserID+"/"+account.AccountID] = &account
	if account.Active {
		m.active = append(m.active, account)
	}
}

func (m *mockAccountStore) GetByUserAndAccount(userID, accountID string) (*models.LinkedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["GetByUserAndAccount"]; err != nil {
		return nil, err
	}
	account, ok := m.accounts[userID+"/"+accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return account, nil
}

func (m *mockAccountStore) GetActive() ([]models.LinkedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["GetActive"]; err != nil {
		return nil, err
	}
	return m.active, nil
}

func (m *mockAccountStore) SetLastError(userID, accountID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["SetLastError"]; err != nil {
		return err
	}
	m.lastErrors[userID+"/"+accountID] = lastError
	return nil
}

func (m *mockAccountStore) LastError(userID, accountID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErrors[userID+"/"+accountID]
}

// mockDirectory - мок AccountDirectory для refresher
type mockDirectory struct {
	mu sync.Mutex

	active []models.LinkedAccount
	creds  broker.Credentials
	errors map[string]error

	recorded map[string]string
	cleared  map[string]bool
}

func newMockDirectory(active ...models.LinkedAccount) *mockDirectory {
	return &mockDirectory{
		active:   active,
		creds:    broker.Credentials{APIKey: "key"},
		errors:   make(map[string]error),
		recorded: make(map[string]string),
		cleared:  make(map[string]bool),
	}
}

func (m *mockDirectory) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[operation] = err
}

func (m *mockDirectory) ListActive() ([]models.LinkedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["ListActive"]; err != nil {
		return nil, err
	}
	return m.active, nil
}

func (m *mockDirectory) ResolveCredentials(userID, accountID string) (broker.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["ResolveCredentials"]; err != nil {
		return broker.Credentials{}, err
	}
	return m.creds, nil
}

func (m *mockDirectory) RecordRefreshError(userID, accountID string, refreshErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded[userID+"/"+accountID] = refreshErr.Error()
}

func (m *mockDirectory) ClearRefreshError(userID, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared[userID+"/"+accountID] = true
}

// mockDataProvider - мок DataProvider для refresher
type mockDataProvider struct {
	mu sync.Mutex

	snapshot *models.AccountSnapshot
	err      error
	calls    []string // accountID в порядке вызовов
}

func newMockDataProvider() *mockDataProvider {
	return &mockDataProvider{
		snapshot: &models.AccountSnapshot{
			Account:   &models.AccountInfo{AccountID: "acc-100"},
			Portfolio: []models.Position{},
		},
	}
}

func (m *mockDataProvider) ForceRefreshAccountData(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, accountID)
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

func (m *mockDataProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockBroadcaster фиксирует разосланные снапшоты и ошибки обновления
type mockBroadcaster struct {
	mu        sync.Mutex
	snapshots []string          // accountID
	errors    map[string]string // accountID -> текст ошибки
}

func (m *mockBroadcaster) BroadcastSnapshot(userID, accountID string, snapshot *models.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, accountID)
}

func (m *mockBroadcaster) BroadcastRefreshError(userID, accountID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]string)
	}
	m.errors[accountID] = err.Error()
}

func (m *mockBroadcaster) Broadcasts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.snapshots...)
}

func (m *mockBroadcaster) RefreshError(accountID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[accountID]
}
