package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tropiwallet/wallet-service/internal/app"
	"github.com/tropiwallet/wallet-service/internal/domain"
	"github.com/tropiwallet/wallet-service/internal/logger"
	"github.com/tropiwallet/wallet-service/internal/store"
	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeTropiPay answers the subset of the TropiPay API the handlers reach.
func fakeTropiPay() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/access/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["client_secret"] != "secret" {
			respond(w, http.StatusUnauthorized, map[string]any{"message": "invalid client credentials"})
			return
		}
		respond(w, http.StatusOK, map[string]any{"access_token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("GET /api/users/profile", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]any{"id": "p-1", "email": "ana@example.com", "twoFactorType": "1"})
	})
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, []map[string]any{
			{"id": "acc-usd", "currency": "USD", "balance": 50000, "available": 50000, "isDefault": true, "status": "ACTIVE"},
			{"id": "acc-eur", "currency": "EUR", "balance": 1234, "available": 1234, "status": "ACTIVE"},
		})
	})
	mux.HandleFunc("GET /api/accounts/{id}/movements", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			respond(w, http.StatusBadRequest, map[string]any{"message": "unexpected limit"})
			return
		}
		respond(w, http.StatusOK, map[string]any{"rows": []map[string]any{
			{"id": "mv-1", "type": "OUT", "amount": 1050, "currency": "USD", "balanceBefore": 51050, "balanceAfter": 50000},
		}})
	})
	mux.HandleFunc("GET /api/deposit_accounts", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, []map[string]any{{"id": "ben-1", "type": "INTERNAL", "name": "Luis", "accountNumber": "9225069991234567", "currency": "USD"}})
	})
	mux.HandleFunc("DELETE /api/deposit_accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v2/transfers/simulate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		amount, _ := body["amount"].(float64)
		if amount > 50000 {
			respond(w, http.StatusBadRequest, map[string]any{"code": "INSUFFICIENT_FUNDS", "message": "not enough balance", "available": 50000})
			return
		}
		respond(w, http.StatusOK, map[string]any{"amountToPay": amount + 50, "amountToReceive": amount, "fees": 50, "exchangeRate": 1, "requires2FA": false})
	})
	mux.HandleFunc("POST /api/v2/transfers", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]any{"id": "tr-1", "status": "PROCESSING", "amountSent": 1050, "amountReceived": 1000, "fees": 50})
	})
	mux.HandleFunc("GET /api/v2/transfers/{id}", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "status": "COMPLETED"})
	})
	mux.HandleFunc("POST /api/v2/security/sms", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]any{"success": true})
	})
	return mux
}

type testServer struct {
	server   *httptest.Server
	upstream *httptest.Server
}

func newTestServer(t *testing.T, signingSecret string, limiter app.RateLimiter) *testServer {
	t.Helper()
	upstream := httptest.NewServer(fakeTropiPay())
	t.Cleanup(upstream.Close)

	discard := logger.Discard()
	cache, err := store.NewSQLiteCacheRepository(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCacheRepository: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	tokens := app.NewSessionTokens(signingSecret, time.Hour)
	service := app.NewService(app.ServiceConfig{
		Environment: "development",
		BaseURLs:    map[string]string{"development": upstream.URL},
		Timeout:     2 * time.Second,
		AutoRefresh: true,
	}, cache, app.NewSessionRegistry(time.Hour, discard), tokens, nil, discard)

	handler := WalletRoutes(NewWalletHandlers(service, discard, "test"), RouterOptions{
		AllowedOrigins:  []string{"http://localhost:3000"},
		Tokens:          tokens,
		TransferLimiter: limiter,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testServer{server: server, upstream: upstream}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func (s *testServer) login(t *testing.T) domain.UserView {
	t.Helper()
	resp, raw := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"client_id": "client-a", "client_secret": "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d: %s", resp.StatusCode, raw)
	}
	var out domain.LoginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out.User
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, "", nil)
	resp, raw := s.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health domain.HealthStatus
	if err := json.Unmarshal(raw, &health); err != nil || health.Status != "ok" || health.Version != "test" || health.Timestamp.IsZero() {
		t.Fatalf("unexpected health body %s (%v)", raw, err)
	}
}

func TestLoginResponseShape(t *testing.T) {
	s := newTestServer(t, "", nil)
	resp, raw := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"client_id": "client-a", "client_secret": "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var body map[string]map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	user := body["user"]
	for _, key := range []string{"id", "client_id", "profile", "accounts", "token", "expires_at"} {
		if _, ok := user[key]; !ok {
			t.Fatalf("expected key %q in %s", key, raw)
		}
	}
	if _, ok := user["session_token"]; ok {
		t.Fatal("session_token must be omitted when tokens are disabled")
	}
	accounts := user["accounts"].([]any)
	if first := accounts[0].(map[string]any); first["balance"] != 500.0 || first["accountId"] != "acc-usd" {
		t.Fatalf("expected display-unit accounts, got %v", first)
	}
}

func TestLoginErrors(t *testing.T) {
	s := newTestServer(t, "", nil)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantKind   string
	}{
		{name: "missing fields", body: map[string]string{}, wantStatus: http.StatusBadRequest, wantKind: tropipay.KindValidation},
		{name: "malformed body", body: "not-an-object", wantStatus: http.StatusBadRequest, wantKind: tropipay.KindValidation},
		{name: "bad secret", body: map[string]string{"client_id": "client-a", "client_secret": "nope"}, wantStatus: http.StatusUnauthorized, wantKind: tropipay.KindAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := s.do(t, http.MethodPost, "/auth/login", "", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, resp.StatusCode, raw)
			}
			var body errorResponse
			if err := json.Unmarshal(raw, &body); err != nil || body.Error != tt.wantKind || body.Message == "" {
				t.Fatalf("unexpected error body %s", raw)
			}
		})
	}
}

func TestAccountsServeCacheWhenUpstreamIsDown(t *testing.T) {
	s := newTestServer(t, "", nil)
	user := s.login(t)

	resp, raw := s.do(t, http.MethodGet, "/accounts/"+user.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}

	s.upstream.Close()
	resp, raw = s.do(t, http.MethodGet, "/accounts/"+user.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected cached 200, got %d: %s", resp.StatusCode, raw)
	}
	var accounts []tropipay.Account
	if err := json.Unmarshal(raw, &accounts); err != nil || len(accounts) != 2 || accounts[1].Balance != 12.34 {
		t.Fatalf("unexpected cached accounts %s", raw)
	}

	resp, raw = s.do(t, http.MethodGet, "/accounts/unknown-user", "", nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("expected empty list for a user without cache, got %d %s", resp.StatusCode, raw)
	}
}

func TestSessionTokenEnforcement(t *testing.T) {
	s := newTestServer(t, "signing-secret", nil)
	user := s.login(t)
	if user.SessionToken == "" {
		t.Fatal("expected a session token")
	}

	tests := []struct {
		name       string
		path       string
		bearer     string
		wantStatus int
	}{
		{name: "missing token", path: "/accounts/" + user.ID, wantStatus: http.StatusUnauthorized},
		{name: "garbage token", path: "/accounts/" + user.ID, bearer: "garbage", wantStatus: http.StatusUnauthorized},
		{name: "other user", path: "/accounts/someone-else", bearer: user.SessionToken, wantStatus: http.StatusForbidden},
		{name: "matching user", path: "/accounts/" + user.ID, bearer: user.SessionToken, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := s.do(t, http.MethodGet, tt.path, tt.bearer, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, resp.StatusCode, raw)
			}
		})
	}
}

func TestTransferRoutesAreRateLimited(t *testing.T) {
	s := newTestServer(t, "", app.NewMemoryRateLimiter(1, time.Minute))
	user := s.login(t)
	transfer := map[string]any{"accountId": "acc-usd", "beneficiaryId": "ben-1", "amount": 10, "currency": "USD"}

	resp, raw := s.do(t, http.MethodPost, "/transfer/simulate/"+user.ID, "", transfer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	resp, raw = s.do(t, http.MethodPost, "/transfer/simulate/"+user.ID, "", transfer)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", resp.StatusCode, raw)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", resp.Header.Get("Retry-After"))
	}

	resp, _ = s.do(t, http.MethodGet, "/accounts/"+user.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("non-transfer routes must not be limited, got %d", resp.StatusCode)
	}
}

func TestTransferFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, "", nil)
	user := s.login(t)

	resp, raw := s.do(t, http.MethodPost, "/transfer/simulate/"+user.ID, "",
		map[string]any{"accountId": "acc-usd", "beneficiaryId": "ben-1", "amount": 10, "currency": "USD"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("simulate: expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var sim map[string]any
	_ = json.Unmarshal(raw, &sim)
	if sim["amountToPay"] != 10.5 || sim["requires2FA"] != false {
		t.Fatalf("unexpected simulation %s", raw)
	}

	resp, raw = s.do(t, http.MethodPost, "/transfer/execute/"+user.ID, "",
		map[string]any{"accountId": "acc-usd", "beneficiaryId": "ben-1", "amount": 10, "currency": "USD"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute: expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var result tropipay.TransferResult
	if err := json.Unmarshal(raw, &result); err != nil || result.TransferID != "tr-1" || result.AmountSent != 10.5 {
		t.Fatalf("unexpected result %s", raw)
	}

	resp, raw = s.do(t, http.MethodGet, "/transfer/status/"+user.ID+"/tr-1", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"COMPLETED"`) {
		t.Fatalf("status: unexpected %d %s", resp.StatusCode, raw)
	}

	resp, raw = s.do(t, http.MethodPost, "/transfer/request-sms/"+user.ID, "", map[string]string{"phoneNumber": "+5351234567"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"success":true`) {
		t.Fatalf("request-sms: unexpected %d %s", resp.StatusCode, raw)
	}
}

func TestExecuteInsufficientFunds(t *testing.T) {
	s := newTestServer(t, "", nil)
	user := s.login(t)

	resp, raw := s.do(t, http.MethodPost, "/transfer/execute/"+user.ID, "",
		map[string]any{"accountId": "acc-usd", "beneficiaryId": "ben-1", "amount": 1000, "currency": "USD"})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", resp.StatusCode, raw)
	}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != tropipay.KindInsufficientFunds || body.Available == nil || *body.Available != 500 || body.Required == nil || *body.Required != 1000 {
		t.Fatalf("unexpected body %s", raw)
	}
}

func TestBeneficiaryRoutes(t *testing.T) {
	s := newTestServer(t, "", nil)
	user := s.login(t)

	resp, raw := s.do(t, http.MethodGet, "/beneficiaries/"+user.ID+"?offset=0&limit=10", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"ben-1"`) {
		t.Fatalf("list: unexpected %d %s", resp.StatusCode, raw)
	}

	resp, raw = s.do(t, http.MethodGet, "/beneficiaries/"+user.ID+"?limit=abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d: %s", resp.StatusCode, raw)
	}

	resp, raw = s.do(t, http.MethodPost, "/beneficiaries/"+user.ID+"/validate", "",
		map[string]any{"type": "EXTERNAL", "name": "Marta", "accountNumber": "ES00", "currency": "EUR"})
	var validation domain.BeneficiaryValidation
	if resp.StatusCode != http.StatusOK || json.Unmarshal(raw, &validation) != nil || validation.Valid {
		t.Fatalf("validate: unexpected %d %s", resp.StatusCode, raw)
	}
	if _, ok := validation.Fields["accountNumber"]; !ok {
		t.Fatalf("expected accountNumber field error, got %v", validation.Fields)
	}

	resp, raw = s.do(t, http.MethodPost, "/beneficiaries/"+user.ID, "",
		map[string]any{"name": "", "accountNumber": "123", "currency": "XXX"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create: expected 400, got %d: %s", resp.StatusCode, raw)
	}

	resp, _ = s.do(t, http.MethodDelete, "/beneficiaries/"+user.ID+"/ben-1", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
}

func TestMovementsAndProfileRoutes(t *testing.T) {
	s := newTestServer(t, "", nil)
	user := s.login(t)

	resp, raw := s.do(t, http.MethodGet, "/movements/"+user.ID+"/acc-usd?limit=5", "", nil)
	var movements []tropipay.Movement
	if resp.StatusCode != http.StatusOK || json.Unmarshal(raw, &movements) != nil || len(movements) != 1 || movements[0].Amount != 10.5 {
		t.Fatalf("movements: unexpected %d %s", resp.StatusCode, raw)
	}

	resp, raw = s.do(t, http.MethodGet, "/profile/"+user.ID, "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "ana@example.com") {
		t.Fatalf("profile: unexpected %d %s", resp.StatusCode, raw)
	}

	resp, _ = s.do(t, http.MethodPost, "/auth/logout/"+user.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/profile/"+user.ID, "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: tropipay.NewValidationError("bad"), want: http.StatusBadRequest},
		{name: "authentication", err: tropipay.ErrNotAuthenticated, want: http.StatusUnauthorized},
		{name: "insufficient funds", err: &tropipay.InsufficientFundsError{}, want: http.StatusPaymentRequired},
		{name: "rate limit", err: &tropipay.RateLimitError{RetryAfter: time.Second}, want: http.StatusTooManyRequests},
		{name: "network", err: &tropipay.NetworkError{Err: errors.New("refused")}, want: http.StatusServiceUnavailable},
		{name: "timeout", err: &tropipay.NetworkError{Timeout: true}, want: http.StatusGatewayTimeout},
		{name: "transfer", err: &tropipay.TransferError{Message: "declined"}, want: http.StatusUnprocessableEntity},
		{name: "api", err: &tropipay.APIError{StatusCode: 500}, want: http.StatusBadGateway},
		{name: "workflow", err: tropipay.ErrStaleSimulation, want: http.StatusConflict},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRateLimitErrorSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	discard := logger.Discard()
	writeServiceError(rec, discard, "test", &tropipay.RateLimitError{RetryAfter: 7 * time.Second})

	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "7" {
		t.Fatalf("expected 429 with Retry-After 7, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.RetryAfter != 7 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
