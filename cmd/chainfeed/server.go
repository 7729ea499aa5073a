package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/chainfeed/internal/api"
	"github.com/rickgao/chainfeed/internal/connection"
	"github.com/rickgao/chainfeed/internal/model"
	"github.com/rickgao/chainfeed/internal/optionchain"
	"github.com/rickgao/chainfeed/internal/version"
)

const pingTimeout = 5 * time.Second

// pinger checks broker REST reachability.
type pinger interface {
	Ping(ctx context.Context) (api.PingInfo, error)
}

// statusSource reports the feed connection state.
type statusSource interface {
	Status() connection.Status
}

// server holds what the HTTP handlers read from.
type server struct {
	chains      *optionchain.Coordinator
	feed        statusSource
	broker      pinger
	accounts    []model.Account
	pingFor     func(model.Account) pinger
	gatherer    prometheus.Gatherer
	metricsPath string
	logger      *slog.Logger
}

// accountView is an account as exposed over HTTP.
type accountView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	APIKey   string `json:"api_key"`
	Host     string `json:"host"`
	WSURL    string `json:"ws_url"`
	Priority int    `json:"priority"`
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /status", s.status)
	mux.HandleFunc("GET /option-chain", s.listChains)
	mux.HandleFunc("GET /option-chain/{underlying}", s.chainSnapshot)
	mux.HandleFunc("POST /option-chain/{underlying}/start", s.chainMonitor(true))
	mux.HandleFunc("POST /option-chain/{underlying}/stop", s.chainMonitor(false))
	mux.HandleFunc("GET /accounts", s.listAccounts)
	mux.HandleFunc("POST /accounts/{id}/ping", s.pingAccount)

	if s.gatherer != nil && s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	// Check broker REST
	if info, err := s.broker.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Components["broker_api"] = map[string]string{
			"status": "unreachable",
			"error":  err.Error(),
		}
	} else {
		health.Components["broker_api"] = map[string]string{
			"status": "reachable",
			"broker": info.Broker,
		}
	}

	// Check feed
	st := s.feed.Status()
	health.Components["feed"] = map[string]any{
		"status":        st.State,
		"authenticated": st.Authenticated,
		"subscriptions": st.Subscriptions,
	}
	switch {
	case st.State == connection.StateFailed:
		health.Status = "unhealthy"
	case !st.Authenticated && health.Status == "healthy":
		health.Status = "degraded"
	}

	// Check chains
	chains := make(map[string]bool)
	for _, u := range s.chains.Underlyings() {
		ch, err := s.chains.Get(u)
		if err != nil {
			continue
		}
		ready := ch.Snapshot().Initialized
		chains[u] = ready
		if !ready && health.Status == "healthy" {
			health.Status = "degraded"
		}
	}
	health.Components["option_chains"] = chains

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Version    version.Info      `json:"version"`
		Connection connection.Status `json:"connection"`
		Chains     []string          `json:"chains"`
	}{
		Version:    version.Get(),
		Connection: s.feed.Status(),
		Chains:     s.chains.Underlyings(),
	})
}

func (s *server) listChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"underlyings": s.chains.Underlyings()})
}

func (s *server) chainSnapshot(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.lookupChain(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ch.Snapshot())
}

func (s *server) chainMonitor(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := s.lookupChain(w, r)
		if !ok {
			return
		}
		if start {
			ch.Start()
		} else {
			ch.Stop()
		}
		s.logger.Info("option chain monitoring changed",
			"underlying", ch.Underlying(),
			"active", ch.Active(),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"underlying": ch.Underlying(),
			"active":     ch.Active(),
		})
	}
}

func (s *server) lookupChain(w http.ResponseWriter, r *http.Request) (*optionchain.Chain, bool) {
	ch, err := s.chains.Get(r.PathValue("underlying"))
	if errors.Is(err, optionchain.ErrUnknownUnderlying) {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return ch, true
}

func (s *server) listAccounts(w http.ResponseWriter, r *http.Request) {
	out := make([]accountView, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, accountView{
			ID:       a.ID,
			Name:     a.Name,
			APIKey:   a.MaskedKey(),
			Host:     a.Host,
			WSURL:    a.WSURL,
			Priority: a.Priority,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) pingAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("account id must be an integer"))
		return
	}

	var account model.Account
	found := false
	for _, a := range s.accounts {
		if a.ID == id {
			account, found = a, true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.New("account not found"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	info, err := s.pingFor(account).Ping(ctx)
	if err != nil {
		s.logger.Warn("account ping failed", "account", account.Name, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"id":     account.ID,
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      account.ID,
		"status":  "success",
		"broker":  info.Broker,
		"message": info.Message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
