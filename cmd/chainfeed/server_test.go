package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/chainfeed/internal/api"
	"github.com/rickgao/chainfeed/internal/config"
	"github.com/rickgao/chainfeed/internal/connection"
	"github.com/rickgao/chainfeed/internal/model"
	"github.com/rickgao/chainfeed/internal/optionchain"
	"github.com/rickgao/chainfeed/internal/router"
	"github.com/rickgao/chainfeed/internal/subscription"
)

type fakePinger struct {
	info api.PingInfo
	err  error
}

func (p fakePinger) Ping(context.Context) (api.PingInfo, error) {
	return p.info, p.err
}

type fakeFeed struct {
	status connection.Status
}

func (f fakeFeed) Status() connection.Status { return f.status }

type fixedQuote struct {
	ltp float64
}

func (q fixedQuote) Quotes(context.Context, string, string) (api.Quote, error) {
	return api.Quote{LTP: q.ltp}, nil
}

func newTestServer(t *testing.T, initialize bool) *server {
	t.Helper()

	rt := router.NewRouter(nil)
	registry := subscription.NewRegistry(subscription.DefaultConfig(), nil)
	co := optionchain.NewCoordinator(nil)
	ch := optionchain.New(optionchain.Config{Underlying: "NIFTY", Expiry: "28-AUG-25"},
		fixedQuote{ltp: 24837}, registry, rt, optionchain.NewMemoryCache(200, time.Minute), nil)
	if err := co.Add(ch); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if initialize {
		if err := co.InitializeAll(context.Background()); err != nil {
			t.Fatalf("InitializeAll: %v", err)
		}
	}

	return &server{
		chains: co,
		feed: fakeFeed{status: connection.Status{
			State:         connection.StateAuthenticated,
			Authenticated: true,
			Connected:     true,
		}},
		broker: fakePinger{info: api.PingInfo{Broker: "zerodha", Message: "pong"}},
		accounts: []model.Account{
			{ID: 1, Name: "primary", APIKey: "abcd1234efgh5678", Host: "http://127.0.0.1:5000", Priority: 0},
			{ID: 2, Name: "backup", APIKey: "wxyz9876stuv5432", Host: "http://127.0.0.1:5001", Priority: 1},
		},
		pingFor: func(model.Account) pinger {
			return fakePinger{info: api.PingInfo{Broker: "zerodha", Message: "pong"}}
		},
		logger: slog.Default(),
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Status
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(t, true)
		rec := do(t, s.handler(), http.MethodGet, "/health")
		if rec.Code != http.StatusOK {
			t.Errorf("code = %d, want 200", rec.Code)
		}
		if got := decodeHealth(t, rec); got != "healthy" {
			t.Errorf("status = %q, want healthy", got)
		}
	})

	t.Run("broker unreachable", func(t *testing.T) {
		s := newTestServer(t, true)
		s.broker = fakePinger{err: errors.New("connection refused")}
		rec := do(t, s.handler(), http.MethodGet, "/health")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("code = %d, want 503", rec.Code)
		}
		if got := decodeHealth(t, rec); got != "unhealthy" {
			t.Errorf("status = %q, want unhealthy", got)
		}
	})

	t.Run("feed not authenticated", func(t *testing.T) {
		s := newTestServer(t, true)
		s.feed = fakeFeed{status: connection.Status{State: connection.StateConnecting}}
		rec := do(t, s.handler(), http.MethodGet, "/health")
		if rec.Code != http.StatusOK {
			t.Errorf("code = %d, want 200", rec.Code)
		}
		if got := decodeHealth(t, rec); got != "degraded" {
			t.Errorf("status = %q, want degraded", got)
		}
	})

	t.Run("feed failed", func(t *testing.T) {
		s := newTestServer(t, true)
		s.feed = fakeFeed{status: connection.Status{State: connection.StateFailed}}
		rec := do(t, s.handler(), http.MethodGet, "/health")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("code = %d, want 503", rec.Code)
		}
	})

	t.Run("chain not initialized", func(t *testing.T) {
		s := newTestServer(t, false)
		rec := do(t, s.handler(), http.MethodGet, "/health")
		if got := decodeHealth(t, rec); got != "degraded" {
			t.Errorf("status = %q, want degraded", got)
		}
	})
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, true)
	rec := do(t, s.handler(), http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}

	var body struct {
		Version struct {
			Version string `json:"version"`
		} `json:"version"`
		Connection struct {
			Status        string `json:"status"`
			Authenticated bool   `json:"authenticated"`
		} `json:"connection"`
		Chains []string `json:"chains"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Version.Version == "" {
		t.Error("version missing")
	}
	if !body.Connection.Authenticated {
		t.Error("connection.authenticated = false, want true")
	}
	if len(body.Chains) != 1 || body.Chains[0] != "NIFTY" {
		t.Errorf("chains = %v, want [NIFTY]", body.Chains)
	}
}

func TestChainSnapshot(t *testing.T) {
	s := newTestServer(t, true)
	rec := do(t, s.handler(), http.MethodGet, "/option-chain/nifty")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var snap optionchain.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Underlying != "NIFTY" {
		t.Errorf("underlying = %q, want NIFTY", snap.Underlying)
	}
	if snap.ATMStrike != 24850 {
		t.Errorf("atm_strike = %v, want 24850", snap.ATMStrike)
	}
	if len(snap.Options) != 41 {
		t.Errorf("options = %d, want 41", len(snap.Options))
	}
	if snap.Expiry != "28-AUG-25" {
		t.Errorf("expiry = %q, want 28-AUG-25", snap.Expiry)
	}
}

func TestChainSnapshot_Unknown(t *testing.T) {
	s := newTestServer(t, true)
	rec := do(t, s.handler(), http.MethodGet, "/option-chain/SENSEX")
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestListChains(t *testing.T) {
	s := newTestServer(t, false)
	rec := do(t, s.handler(), http.MethodGet, "/option-chain")

	var body map[string][]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := body["underlyings"]; len(got) != 1 || got[0] != "NIFTY" {
		t.Errorf("underlyings = %v, want [NIFTY]", got)
	}
}

func TestChainMonitor(t *testing.T) {
	s := newTestServer(t, true)
	h := s.handler()
	ch, _ := s.chains.Get("NIFTY")

	if rec := do(t, h, http.MethodPost, "/option-chain/NIFTY/start"); rec.Code != http.StatusOK {
		t.Fatalf("start code = %d, want 200", rec.Code)
	}
	if !ch.Active() {
		t.Error("chain not active after start")
	}

	if rec := do(t, h, http.MethodPost, "/option-chain/NIFTY/stop"); rec.Code != http.StatusOK {
		t.Fatalf("stop code = %d, want 200", rec.Code)
	}
	if ch.Active() {
		t.Error("chain active after stop")
	}

	if rec := do(t, h, http.MethodGet, "/option-chain/NIFTY/start"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start code = %d, want 405", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/option-chain/UNKNOWN/start"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown start code = %d, want 404", rec.Code)
	}
}

func TestListAccounts_MasksKeys(t *testing.T) {
	s := newTestServer(t, false)
	rec := do(t, s.handler(), http.MethodGet, "/accounts")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if strings.Contains(body, "abcd1234efgh5678") {
		t.Error("response leaks the full api key")
	}

	var got []accountView
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("accounts = %d, want 2", len(got))
	}
	if got[0].APIKey != "abcd...5678" {
		t.Errorf("api_key = %q, want abcd...5678", got[0].APIKey)
	}
	if got[1].Name != "backup" || got[1].Priority != 1 {
		t.Errorf("accounts[1] = %+v", got[1])
	}
}

func TestPingAccount(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		pingErr  error
		wantCode int
	}{
		{"success", "/accounts/2/ping", nil, http.StatusOK},
		{"unknown id", "/accounts/9/ping", nil, http.StatusNotFound},
		{"bad id", "/accounts/abc/ping", nil, http.StatusBadRequest},
		{"broker error", "/accounts/1/ping", errors.New("invalid api key"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			var pinged model.Account
			s.pingFor = func(a model.Account) pinger {
				pinged = a
				return fakePinger{info: api.PingInfo{Broker: "zerodha"}, err: tt.pingErr}
			}

			rec := do(t, s.handler(), http.MethodPost, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.name == "success" && pinged.Name != "backup" {
				t.Errorf("pinged account = %q, want backup", pinged.Name)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "chainfeed_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := newTestServer(t, false)
	s.gatherer = reg
	s.metricsPath = "/metrics"

	rec := do(t, s.handler(), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chainfeed_test_total 1") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestManagerConfig(t *testing.T) {
	off := false
	mc := managerConfig(config.FeedConfig{
		WSURL:             "ws://feed:8765",
		ReconnectAttempts: 7,
		BackoffInitial:    2 * time.Second,
		BackoffBase:       1.5,
		BackoffMax:        30 * time.Second,
		FailoverEnabled:   &off,
		WriteTimeout:      3 * time.Second,
		PingInterval:      10 * time.Second,
		PingTimeout:       40 * time.Second,
	})

	if mc.URL != "ws://feed:8765" || mc.Client.URL != "ws://feed:8765" {
		t.Errorf("URL = %q / %q", mc.URL, mc.Client.URL)
	}
	if mc.ReconnectAttempts != 7 {
		t.Errorf("ReconnectAttempts = %d, want 7", mc.ReconnectAttempts)
	}
	if mc.BackoffBase != 1.5 || mc.BackoffInitial != 2*time.Second || mc.BackoffMax != 30*time.Second {
		t.Errorf("backoff = %v/%v/%v", mc.BackoffInitial, mc.BackoffBase, mc.BackoffMax)
	}
	if mc.FailoverEnabled {
		t.Error("FailoverEnabled = true, want false")
	}
	if mc.Client.PingInterval != 10*time.Second || mc.Client.PingTimeout != 40*time.Second {
		t.Errorf("ping = %v/%v", mc.Client.PingInterval, mc.Client.PingTimeout)
	}
	if mc.Client.QueueSize != connection.DefaultClientConfig().QueueSize {
		t.Errorf("QueueSize = %d, want default", mc.Client.QueueSize)
	}
}

func TestNewDepthCache_Memory(t *testing.T) {
	cache, closeFn, err := newDepthCache(context.Background(), config.CacheConfig{
		Backend: config.CacheBackendMemory,
		TTL:     time.Minute,
		MaxSize: 10,
	}, slog.Default())
	if err != nil {
		t.Fatalf("newDepthCache: %v", err)
	}
	defer closeFn()

	if _, ok := cache.(*optionchain.MemoryCache); !ok {
		t.Errorf("cache = %T, want *optionchain.MemoryCache", cache)
	}
}

func TestNewDepthCache_RedisBadURL(t *testing.T) {
	_, _, err := newDepthCache(context.Background(), config.CacheConfig{
		Backend:  config.CacheBackendRedis,
		RedisURL: "not-a-url",
	}, slog.Default())
	if err == nil {
		t.Error("expected error for bad redis url")
	}
}

func TestLoadAccounts_FillsURLs(t *testing.T) {
	cfg := &config.Config{
		API:  config.APIConfig{RestURL: "http://127.0.0.1:5000"},
		Feed: config.FeedConfig{WSURL: "ws://127.0.0.1:8765"},
		Accounts: config.AccountsConfig{
			Source:  config.AccountSourceInline,
			Primary: model.Account{Name: "primary", APIKey: "key-one-123456"},
			Backups: []model.Account{{Name: "b", APIKey: "key-two-123456", Host: "http://other:5000"}},
		},
	}

	accounts, err := loadAccounts(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("loadAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(accounts))
	}
	if accounts[0].Host != "http://127.0.0.1:5000" || accounts[0].WSURL != "ws://127.0.0.1:8765" {
		t.Errorf("primary urls = %q / %q", accounts[0].Host, accounts[0].WSURL)
	}
	if accounts[1].Host != "http://other:5000" {
		t.Errorf("backup host = %q, want http://other:5000", accounts[1].Host)
	}
}

func TestLoadAccounts_Empty(t *testing.T) {
	cfg := &config.Config{Accounts: config.AccountsConfig{Source: config.AccountSourceInline}}
	if _, err := loadAccounts(context.Background(), cfg, slog.Default()); err == nil {
		t.Error("expected error for empty account list")
	}
}

// flakyQuote fails until up is set.
type flakyQuote struct {
	up *atomic.Bool
}

func (q flakyQuote) Quotes(context.Context, string, string) (api.Quote, error) {
	if !q.up.Load() {
		return api.Quote{}, errors.New("broker unreachable")
	}
	return api.Quote{LTP: 24837}, nil
}

func TestRetryPendingChains(t *testing.T) {
	up := &atomic.Bool{}
	rt := router.NewRouter(nil)
	registry := subscription.NewRegistry(subscription.DefaultConfig(), nil)
	co := optionchain.NewCoordinator(nil)
	ch := optionchain.New(optionchain.Config{Underlying: "NIFTY", Expiry: "28-AUG-25"},
		flakyQuote{up: up}, registry, rt, nil, nil)
	co.Add(ch)

	if err := co.InitializeAll(context.Background()); err == nil {
		t.Fatal("InitializeAll succeeded while broker down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		retryPendingChains(ctx, co, 10*time.Millisecond, slog.Default())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if ch.Initialized() {
		t.Fatal("chain initialized while broker down")
	}

	up.Store(true)
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("retry loop did not finish after broker came back")
	}

	if !ch.Initialized() {
		t.Error("chain not initialized after retry")
	}
	if got := registry.Len(); got != 83 {
		t.Errorf("registry Len = %d, want 83", got)
	}
}
