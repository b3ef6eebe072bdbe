package tropipay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestCallRetriesRateLimitOnce(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "slow down"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "acc-1", "currency": "USD", "balance": 1000}})
	})

	client, sleeper := newTestClient(t, mux)
	withToken(client, "tok", time.Hour)

	accounts, err := client.Accounts.GetAll(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(accounts) != 1 || accounts[0].Balance != 10 {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if sleeper.count() != 1 || sleeper.calls[0] != 2*time.Second {
		t.Fatalf("expected one 2s backoff, got %v", sleeper.calls)
	}
}

func TestCallGivesUpAfterSecondRateLimit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{})
	})

	client, sleeper := newTestClient(t, mux)
	withToken(client, "tok", time.Hour)

	_, err := client.Accounts.GetAll(context.Background())

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.RetryAfter != 5*time.Second {
		t.Fatalf("expected default retry-after of 5s, got %s", rateErr.RetryAfter)
	}
	if calls.Load() != 2 || sleeper.count() != 1 {
		t.Fatalf("expected exactly one retry, got %d calls and %d sleeps", calls.Load(), sleeper.count())
	}
}

func TestCallDoesNotRetryRateLimitWhenDisabled(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{})
	})

	client, _ := newTestClient(t, mux, func(o *Options) { o.DisableRateLimitRetry = true })
	withToken(client, "tok", time.Hour)

	if _, err := client.Accounts.GetAll(context.Background()); Kind(err) != KindRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestCallSendsDeviceAndBearerHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("X-DEVICE-ID"); got != "test-device" {
			t.Errorf("unexpected device header %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "currency": "EUR", "available": 995})
	})

	client, _ := newTestClient(t, mux)
	withToken(client, "tok", time.Hour)

	account, err := client.Accounts.Get(context.Background(), "acc-9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if account.AccountID != "acc-9" || account.Available != 9.95 {
		t.Fatalf("unexpected account %+v", account)
	}
}

func TestCallWithoutTokenFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	client, _ := newTestClient(t, mux)

	_, err := client.Accounts.GetAll(context.Background())
	if Kind(err) != KindAuthentication {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("expected no request without a token")
	}
}

func TestCallMapsTransportFailures(t *testing.T) {
	client, err := NewClient(Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	withToken(client, "tok", time.Hour)

	_, err = client.Accounts.GetAll(context.Background())
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %T: %v", err, err)
	}
}

func TestCallMapsTimeouts(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	client, _ := newTestClient(t, mux, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	withToken(client, "tok", time.Hour)
	defer close(release)

	_, err := client.Accounts.GetAll(context.Background())
	var netErr *NetworkError
	if !errors.As(err, &netErr) || !netErr.Timeout {
		t.Fatalf("expected timeout NetworkError, got %v", err)
	}
}

func TestRequestLoggingRedactsSecrets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/access/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "very-secret-token", "expires_in": 3600})
	})
	mux.HandleFunc("GET /api/users/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 1})
	})
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})

	logger, buf := bufferLogger()
	client, _ := newTestClient(t, mux, func(o *Options) {
		o.Logger = logger
		o.LogRequests = true
	})

	if _, err := client.Auth.Authenticate(context.Background(), "client-1", "super-secret-value"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	logs := buf.String()
	if !strings.Contains(logs, "tropipay api request") {
		t.Fatalf("expected request logs, got %s", logs)
	}
	for _, secret := range []string{"super-secret-value", "very-secret-token"} {
		if strings.Contains(logs, secret) {
			t.Fatalf("log output leaked %q: %s", secret, logs)
		}
	}
}

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
		err  bool
	}{
		{name: "default development", opts: Options{}, want: "https://tropipay-dev.herokuapp.com"},
		{name: "production", opts: Options{Environment: "PRODUCTION"}, want: "https://www.tropipay.com"},
		{name: "override map", opts: Options{Environment: "development", BaseURLs: map[string]string{"development": "http://localhost:9000/"}}, want: "http://localhost:9000"},
		{name: "explicit base url", opts: Options{BaseURL: "http://example.test/"}, want: "http://example.test"},
		{name: "unknown environment", opts: Options{Environment: "staging"}, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveBaseURL(tt.opts)
			if tt.err {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("expected %q, got %q (%v)", tt.want, got, err)
			}
		})
	}
}
