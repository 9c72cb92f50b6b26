// Package integration contains integration tests for the brokerage data gateway.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle through all layers
//   Handler → Service → Batcher → Cache → Broker client
// - WebSocket tests: connection, broadcast messaging
//
// The upstream broker API is replaced with an httptest server; everything
// else (cache, batcher, rate limiter, services, router) is real.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"brokergate/internal/api"
	"brokergate/internal/broker"
	"brokergate/internal/cache"
	"brokergate/internal/models"
	"brokergate/internal/repository"
	"brokergate/internal/service"
	"brokergate/internal/websocket"
	"brokergate/pkg/crypto"
	"brokergate/pkg/ratelimit"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// upstreamBroker is a fake broker API backed by httptest.
// Counts requests per endpoint so tests can assert coalescing.
type upstreamBroker struct {
	server *httptest.Server

	mu             sync.Mutex
	portfolioCalls int
	accountCalls   int
	ordersCalls    int
	failAll        bool
}

func newUpstreamBroker() *upstreamBroker {
	u := &upstreamBroker{}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/equity/portfolio", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.portfolioCalls++
		fail := u.failAll
		u.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]models.Position{
			{Symbol: "AAPL", Quantity: 10, AveragePrice: 150, CurrentPrice: 170, Pnl: 200, PnlToday: 15, Currency: "USD"},
		})
	})
	router.HandleFunc("/api/v1/equity/account", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.accountCalls++
		fail := u.failAll
		u.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(&models.AccountInfo{
			AccountID: "acc-100", Currency: "USD", Cash: 1000, Invested: 1700, Total: 2700,
		})
	})
	router.HandleFunc("/api/v1/equity/orders", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.ordersCalls++
		fail := u.failAll
		u.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]models.Order{
			{ID: "ord-1", Symbol: "NVDA", Side: models.OrderSideBuy, Quantity: 1, Status: models.OrderStatusWorking},
		})
	})

	u.server = httptest.NewServer(router)
	return u
}

func (u *upstreamBroker) PortfolioCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.portfolioCalls
}

func (u *upstreamBroker) SetFailAll(fail bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failAll = fail
}

// memoryAccountStore is an in-memory service.AccountStore replacement.
// The real PostgreSQL repository is covered by sqlmock unit tests.
type memoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.LinkedAccount
}

func newMemoryAccountStore() *memoryAccountStore {
	return &memoryAccountStore{accounts: make(map[string]*models.LinkedAccount)}
}

func (s *memoryAccountStore) add(t *testing.T, userID, accountID, apiKey string) {
	t.Helper()
	encrypted, err := crypto.Encrypt(apiKey, testEncryptionKey)
	if err != nil {
		t.Fatalf("failed to encrypt api key: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[userID+"/"+accountID] = &models.LinkedAccount{
		UserID:          userID,
		AccountID:       accountID,
		APIKeyEncrypted: encrypted,
		Active:          true,
	}
}

func (s *memoryAccountStore) GetByUserAndAccount(userID, accountID string) (*models.LinkedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID+"/"+accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return account, nil
}

func (s *memoryAccountStore) GetActive() ([]models.LinkedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.LinkedAccount, 0, len(s.accounts))
	for _, account := range s.accounts {
		if account.Active {
			result = append(result, *account)
		}
	}
	return result, nil
}

func (s *memoryAccountStore) SetLastError(userID, accountID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[userID+"/"+accountID]; ok {
		account.LastError = lastError
	}
	return nil
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	Upstream *upstreamBroker
	Store    *memoryAccountStore
	Hub      *websocket.Hub
	Data     *service.AccountDataService
	Accounts *service.AccountService
	Server   *httptest.Server
	Cleanup  func()
}

// SetupTestServer wires the full stack with a fake upstream broker
func SetupTestServer(t *testing.T) *TestServer {
	return SetupTestServerWithLimit(t, 1000)
}

// SetupTestServerWithLimit allows tests to set the per-user request limit
func SetupTestServerWithLimit(t *testing.T, userLimit float64) *TestServer {
	t.Helper()

	upstream := newUpstreamBroker()

	factory := broker.NewRESTFactory(broker.DefaultHTTPClientConfig(), upstream.server.URL, upstream.server.URL)
	dataCache := cache.New()
	limiter := ratelimit.NewSlidingWindowLimiter(time.Minute)
	batcher := service.NewBatcher(dataCache, factory.Client, service.DefaultTTLPolicy(), 20*time.Millisecond, 2*time.Second)
	dataService := service.NewAccountDataService(dataCache, limiter, batcher)

	store := newMemoryAccountStore()
	store.add(t, "user-1", "acc-100", "integration-api-key")
	accountService := service.NewAccountService(store, testEncryptionKey)

	hub := websocket.NewHub()
	go hub.Run()

	router := api.SetupRoutes(&api.Dependencies{
		DataService:        dataService,
		Accounts:           accountService,
		Hub:                hub,
		UserLimitPerWindow: userLimit,
	})

	server := httptest.NewServer(router)

	return &TestServer{
		Upstream: upstream,
		Store:    store,
		Hub:      hub,
		Data:     dataService,
		Accounts: accountService,
		Server:   server,
		Cleanup: func() {
			server.Close()
			hub.Stop()
			batcher.Shutdown()
			factory.Close()
			upstream.server.Close()
		},
	}
}
