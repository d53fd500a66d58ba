package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"signalpipeline/internal/exchange"
	"signalpipeline/internal/ingress"
	"signalpipeline/internal/monitor"
	"signalpipeline/internal/notify"
	"signalpipeline/internal/queue"
	"signalpipeline/internal/store"
	"signalpipeline/pkg/crypto"
)

const testJWTSecret = "test-secret"

func newTestAPIServer(t *testing.T) (*httptest.Server, *store.Store, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key := make([]byte, 32)
	t.Setenv("MASTER_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))
	km, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}

	st, err := store.Open(":memory:", km)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	q := queue.New(nil) // no Redis calls are exercised by these control-plane tests
	ing := ingress.New(st.Strategy, q)
	registry := exchange.NewRegistry(exchange.DefaultRegistryConfig())
	bus := notify.NewBus()
	metrics := monitor.NewSystemMetrics()

	server := NewServer(ing, st, registry, bus, metrics, SystemMeta{DryRun: true, Version: "test"}, testJWTSecret)
	httpServer := httptest.NewServer(server.Router)

	cleanup := func() {
		httpServer.Close()
		_ = st.Close()
	}
	return httpServer, st, cleanup
}

func authToken(t *testing.T, userID string) string {
	t.Helper()
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthReportsVersionAndDryRun(t *testing.T) {
	ts, _, cleanup := newTestAPIServer(t)
	defer cleanup()

	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		DryRun  bool   `json:"dry_run"`
	}
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/health", "", nil, &resp)
	if status != http.StatusOK || resp.Version != "test" || !resp.DryRun {
		t.Fatalf("unexpected health response: status=%d resp=%+v", status, resp)
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	ts, _, cleanup := newTestAPIServer(t)
	defer cleanup()

	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/v1/portfolio", "", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", status)
	}
}

func TestRegisterExchangeKeyRoundTripsCredentials(t *testing.T) {
	ts, st, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()
	token := authToken(t, "u1")

	var keyResp struct {
		KeyID string `json:"key_id"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/keys", token, map[string]string{
		"exchange":   "binance_usdt_futures",
		"api_key":    "ak",
		"api_secret": "as",
	}, &keyResp)
	if status != http.StatusCreated || keyResp.KeyID == "" {
		t.Fatalf("register key failed: status=%d resp=%+v", status, keyResp)
	}

	creds, err := st.Keys.Credentials(context.Background(), "u1", "binance_usdt_futures")
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if creds.APIKey != "ak" || creds.APISecret != "as" {
		t.Fatalf("credentials did not round-trip: %+v", creds)
	}
}

func TestRiskSettingsRoundTrip(t *testing.T) {
	ts, _, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()
	token := authToken(t, "u1")

	update := map[string]any{
		"max_position_size_usd":          "2500",
		"max_leverage":                   5,
		"max_open_positions":             3,
		"max_daily_trades":                10,
		"max_daily_loss_percent":         "5",
		"max_portfolio_exposure_percent": "50",
		"default_risk_per_trade_percent": "1",
		"require_stop_loss":              true,
	}
	status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/v1/risk/strat-1", token, update, nil)
	if status != http.StatusOK {
		t.Fatalf("update risk settings failed: status=%d", status)
	}

	var got struct {
		MaxLeverage      int  `json:"MaxLeverage"`
		RequireStopLoss  bool `json:"RequireStopLoss"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/risk/strat-1", token, nil, &got)
	if status != http.StatusOK || got.MaxLeverage != 5 || !got.RequireStopLoss {
		t.Fatalf("unexpected risk settings: status=%d got=%+v", status, got)
	}
}
