package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"brokergate/internal/models"
)

func doRequest(t *testing.T, method, url, userID string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp, body
}

func decodeSnapshot(t *testing.T, body []byte) *models.AccountSnapshot {
	t.Helper()

	var snapshot models.AccountSnapshot
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v\nbody: %s", err, body)
	}
	return &snapshot
}

func TestAPI_GetAccountData_MissThenHit(t *testing.T) {
	ts := SetupTestServer(t)
	defer ts.Cleanup()

	url := ts.Server.URL + "/api/v1/accounts/acc-100/data"

	// First request: cache is empty, broker gets called
	resp, body := doRequest(t, "GET", url, "user-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	snapshot := decodeSnapshot(t, body)
	if snapshot.CacheHit {
		t.Error("first request must not be a cache hit")
	}
	if !snapshot.Connected {
		t.Error("successful snapshot must report connected=true")
	}
	if snapshot.Account == nil || snapshot.Account.AccountID != "acc-100" {
		t.Errorf("unexpected account in snapshot: %+v", snapshot.Account)
	}
	if len(snapshot.Portfolio) != 1 || snapshot.Portfolio[0].Symbol != "AAPL" {
		t.Errorf("unexpected portfolio: %+v", snapshot.Portfolio)
	}
	if snapshot.Orders != nil {
		t.Errorf("orders not requested, got %+v", snapshot.Orders)
	}
	if snapshot.Stats.TotalValue != 1700 {
		t.Errorf("expected total value 1700, got %v", snapshot.Stats.TotalValue)
	}

	// Second request: served from cache, no extra upstream call
	resp, body = doRequest(t, "GET", url, "user-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	snapshot = decodeSnapshot(t, body)
	if !snapshot.CacheHit {
		t.Error("second request must be a cache hit")
	}

	if calls := ts.Upstream.PortfolioCalls(); calls != 1 {
		t.Errorf("expected 1 upstream portfolio call, got %d", calls)
	}
}

func TestAPI_GetAccountData_WithOrders(t *testing.T) {
	ts := SetupTestServer(t)
	defer ts.Cleanup()

	resp, body := doRequest(t, "GET", ts.Server.URL+"/api/v1/accounts/acc-100/data?orders=true", "user-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	snapshot := decodeSnapshot(t, body)
	if len(snapshot.Orders) != 1 || snapshot.Orders[0].ID != "ord-1" {
		t.Errorf("unexpected orders: %+v", snapshot.Orders)
	}
}

func TestAPI_GetAccountData_InvalidOrdersParam(t *testing.T) {
	ts := SetupTestServer(t)
	defer ts.Cleanup()

	resp, body := doRequest(t, "GET", ts.Server.URL+"/api/v1/accounts/acc-100/data?orders=maybe", "user-1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}
}

func TestAPI_GetAccountData_MissingUserHeader(t *testing.T) {
	ts := SetupTestServer(t)
	defer ts.Cleanup()

	resp, body := doRequest(t, "GET", ts.Server.URL+"/api/v1/accounts/acc-100/data", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}
}

func TestAPI_GetAccountData_UnknownAccount(t *testing.T) {
	ts := SetupTestServer(t)
	defer ts.Cleanup()

	resp, body := doRequest(t, "GET", ts.Server.URL+"/api/v1/accounts/acc-999/data", "user-1")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.StatusCode, body)
	}

	var errResp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Code != "ACCOUNT_NOT_FOUND" {
		t.Errorf("expected code ACCOUNT_NOT_FOUND, got %q", errResp.Code)
	}
}

func TestAPI_GetAccountData_UpstreamFailure(t *testing.T) {
	ts := SetupTestServer(t)
	defer ts.Cleanup()

	ts.Upstream.SetFailAll(true)

	resp, body := doRequest(t, "GET", ts.Server.URL+"/api/v1/accounts/acc-100/data", "user-1")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", resp.StatusCode, body)
	}

	// Degraded body: dashboard shows a disconnected tile instead of crashing
	var degraded struct {
		Connected bool              `json:"connected"`
		Positions []models.Position `json:"positions"`
	}
	if err := json.Unmarshal(body, &degraded); err != nil {
		t.Fatalf("failed to decode degraded body: %v", err)
	}
	if degraded.Connected {
		t.Error("degraded body must report connected=false")
	}
	if degraded.Positions == nil || len(degraded.Positions) != 0 {
		t.Errorf("expected empty positions array, got %+v", degraded.Positions)
	}

	// Failed batch must not poison the cache: after recovery the data flows
	ts.Upstream.SetFailAll(false)

	resp, body = doRequest(t, "GET", ts.Server.URL+"/api/v1/accounts/acc-100/data", "user-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after upstream recovery, got %d: %s", resp.StatusCode, body)
	}
	if snapshot := decodeSnapshot(t, body); snapshot.CacheHit {
		t.Error("request after failed batch must not be a cache hit")
	}
}

func TestAPI_RefreshAccountData(t *testing.T) {
	ts := SetupTestServer(t)
	defer ts.Cleanup()

	dataURL := ts.Server.URL + "/api/v1/accounts/acc-100/data"

	// Populate cache
	resp, body := doRequest(t, "GET", dataURL, "user-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	// Refresh must bypass the cache and hit the broker again
	resp, body = doRequest(t, "POST", ts.Server.URL+"/api/v1/accounts/acc-100/refresh", "user-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	snapshot := decodeSnapshot(t, body)
	if snapshot.CacheHit {
		t.Error("refresh response must not be a cache hit")
	}

	if calls := ts.Upstream.PortfolioCalls(); calls != 2 {
		t.Errorf("expected 2 upstream portfolio calls, got %d", calls)
	}
}

func TestAPI_RateLimitExceeded(t *testing.T) {
	ts := SetupTestServerWithLimit(t, 2)
	defer ts.Cleanup()

	url := ts.Server.URL + "/api/v1/accounts/acc-100/data"

	for i := 0; i < 2; i++ {
		resp, body := doRequest(t, "GET", url, "user-1")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i+1, resp.StatusCode, body)
		}
	}

	resp, body := doRequest(t, "GET", url, "user-1")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 response must carry Retry-After header")
	}

	// Limits are per user: another user is not affected
	resp, body = doRequest(t, "GET", url, "user-2")
	if resp.StatusCode == http.StatusTooManyRequests {
		t.Fatalf("rate limit must not leak to another user: %s", body)
	}
}

func TestAPI_HealthEndpoints(t *testing.T) {
	ts := SetupTestServer(t)
	defer ts.Cleanup()

	resp, body := doRequest(t, "GET", ts.Server.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("expected OK body, got %q", body)
	}

	resp, body = doRequest(t, "GET", ts.Server.URL+"/api/v1/health/data", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /api/v1/health/data, got %d: %s", resp.StatusCode, body)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("expected status ok, got %q", health.Status)
	}

	resp, body = doRequest(t, "GET", ts.Server.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
	if len(body) == 0 {
		t.Error("expected non-empty metrics output")
	}
}
