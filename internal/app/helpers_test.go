package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tropiwallet/wallet-service/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeAPI is a TropiPay API double that counts the calls the service makes.
type fakeAPI struct {
	t           *testing.T
	requires2FA atomic.Bool

	tokenCalls    atomic.Int32
	simulateCalls atomic.Int32
	executeCalls  atomic.Int32
	smsCalls      atomic.Int32

	mu           sync.Mutex
	lastExecute  map[string]any
	lastDeleteID string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/access/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["client_secret"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "invalid client credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok-" + body["client_id"], "expires_in": 3600})
	})
	mux.HandleFunc("GET /api/users/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 42, "email": "ana@example.com", "name": "Ana", "twoFactorType": "1"})
	})
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"rows": []map[string]any{
			{"id": "acc-usd", "currency": "USD", "balance": 150025, "available": 150000, "isDefault": true, "status": "ACTIVE"},
			{"id": "acc-eur", "currency": "EUR", "balance": 999, "available": 999, "status": "ACTIVE"},
		}, "count": 2})
	})
	mux.HandleFunc("GET /api/deposit_accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "ben-1", "type": "INTERNAL", "name": "Luis", "accountNumber": "9225069991234567", "currency": "USD"},
			{"id": "ben-2", "type": "INTERNAL", "name": "Marta", "accountNumber": "9225069997654321", "currency": "USD"},
		})
	})
	mux.HandleFunc("DELETE /api/deposit_accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastDeleteID = r.PathValue("id")
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v2/transfers/simulate", func(w http.ResponseWriter, r *http.Request) {
		f.simulateCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		amount, _ := body["amount"].(float64)
		writeJSON(w, http.StatusOK, map[string]any{
			"amountToPay": amount + 50, "amountToReceive": amount, "fees": 50, "exchangeRate": 1,
			"requires2FA": f.requires2FA.Load(), "accountBalanceAfter": 150025 - amount - 50,
		})
	})
	mux.HandleFunc("POST /api/v2/transfers", func(w http.ResponseWriter, r *http.Request) {
		f.executeCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastExecute = body
		f.mu.Unlock()
		amount, _ := body["amount"].(float64)
		writeJSON(w, http.StatusOK, map[string]any{
			"id": 9001, "reference": "TP-9001", "status": "PROCESSING",
			"amountSent": amount + 50, "amountReceived": amount, "fees": 50, "currency": "USD",
		})
	})
	mux.HandleFunc("GET /api/v2/transfers/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "status": "COMPLETED", "amountSent": 1050})
	})
	mux.HandleFunc("POST /api/v2/security/sms", func(w http.ResponseWriter, r *http.Request) {
		f.smsCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("POST /api/v2/access/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       any
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, body any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type testEnv struct {
	service   *Service
	api       *fakeAPI
	server    *httptest.Server
	cache     *store.SQLiteCacheRepository
	publisher *recordingPublisher
	bridge    *EventBridge
}

func newTestEnv(t *testing.T, configure ...func(*ServiceConfig)) *testEnv {
	t.Helper()
	api := &fakeAPI{t: t}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	cache, err := store.NewSQLiteCacheRepository(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCacheRepository: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	cfg := ServiceConfig{
		Environment:      "development",
		BaseURLs:         map[string]string{"development": server.URL, "production": server.URL},
		DeviceID:         "test-device",
		Timeout:          2 * time.Second,
		AutoRefresh:      true,
		RetryOnRateLimit: false,
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	logger := quietLogger()
	sessions := NewSessionRegistry(time.Hour, logger)
	sessions.hashCost = bcrypt.MinCost
	publisher := &recordingPublisher{}
	bridge := NewEventBridge(publisher, "wallet.events", logger)
	tokens := NewSessionTokens("test-signing-secret", time.Hour)

	return &testEnv{
		service:   NewService(cfg, cache, sessions, tokens, bridge, logger),
		api:       api,
		server:    server,
		cache:     cache,
		publisher: publisher,
		bridge:    bridge,
	}
}
