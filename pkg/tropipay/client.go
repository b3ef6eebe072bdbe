/**
 * @description
 * Package tropipay is the client SDK for the TropiPay REST API. It owns the
 * client-credentials token lifecycle, converts every monetary field between the
 * integer minor units of the wire and display units, and classifies remote
 * failures into a typed error taxonomy.
 *
 * Key features:
 * - A single call path that injects the bearer token and device header.
 * - At most one retry after a 429 (honoring Retry-After) and at most one
 *   re-authentication after a 401, guarded by a single-flight refresh.
 * - Optional request/response logging with sensitive fields redacted.
 * - Synchronous lifecycle events (authenticated, token expired, transfer executed...).
 *
 * @dependencies
 * - golang.org/x/sync/singleflight: shared in-flight token refresh.
 * - github.com/shopspring/decimal (via pkg/money): minor/display conversion.
 */
package tropipay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tropiwallet/wallet-service/pkg/validation"
)

// Environments and their default API hosts.
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

var defaultBaseURLs = map[string]string{
	EnvironmentDevelopment: "https://tropipay-dev.herokuapp.com",
	EnvironmentProduction:  "https://www.tropipay.com",
}

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryAfter = 5 * time.Second
	defaultDeviceID   = "tropiwallet-sdk"
)

// Options configures a Client. The zero value talks to the development host.
type Options struct {
	// BaseURL overrides the environment lookup when set.
	BaseURL     string
	Environment string
	BaseURLs    map[string]string

	// ClientID and ClientSecret are used for re-authentication when Authenticate
	// has not been called yet.
	ClientID     string
	ClientSecret string

	DeviceID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger

	LogRequests           bool
	DisableAutoRefresh    bool
	DisableRateLimitRetry bool
	DefaultRetryAfter     time.Duration

	Currencies validation.CurrencySet
}

// Client is a TropiPay API client. It is safe for concurrent use.
type Client struct {
	baseURL           string
	deviceID          string
	httpClient        *http.Client
	logger            *slog.Logger
	logRequests       bool
	retryOnRateLimit  bool
	defaultRetryAfter time.Duration
	currencies        validation.CurrencySet
	events            *emitter

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	Auth          *TokenManager
	Accounts      *AccountsService
	Beneficiaries *BeneficiariesService
	Movements     *MovementsService
	Transfers     *TransfersService
}

// NewClient builds a Client from opts.
func NewClient(opts Options) (*Client, error) {
	baseURL, err := resolveBaseURL(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deviceID := strings.TrimSpace(opts.DeviceID)
	if deviceID == "" {
		deviceID = defaultDeviceID
	}
	retryAfter := opts.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	currencies := opts.Currencies
	if len(currencies) == 0 {
		currencies = validation.DefaultCurrencies
	}

	c := &Client{
		baseURL:           baseURL,
		deviceID:          deviceID,
		httpClient:        httpClient,
		logger:            logger,
		logRequests:       opts.LogRequests,
		retryOnRateLimit:  !opts.DisableRateLimitRetry,
		defaultRetryAfter: retryAfter,
		currencies:        currencies,
		events:            newEmitter(logger),
		sleep:             sleepContext,
		now:               time.Now,
	}
	c.Auth = newTokenManager(c, opts.ClientID, opts.ClientSecret, !opts.DisableAutoRefresh)
	c.Accounts = &AccountsService{client: c}
	c.Beneficiaries = &BeneficiariesService{client: c}
	c.Movements = &MovementsService{client: c}
	c.Transfers = &TransfersService{client: c}
	return c, nil
}

func resolveBaseURL(opts Options) (string, error) {
	if strings.TrimSpace(opts.BaseURL) != "" {
		return strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"), nil
	}
	env := strings.ToLower(strings.TrimSpace(opts.Environment))
	if env == "" {
		env = EnvironmentDevelopment
	}
	if u, ok := opts.BaseURLs[env]; ok && strings.TrimSpace(u) != "" {
		return strings.TrimRight(strings.TrimSpace(u), "/"), nil
	}
	if u, ok := defaultBaseURLs[env]; ok {
		return u, nil
	}
	return "", fmt.Errorf("unknown tropipay environment %q", opts.Environment)
}

// BaseURL returns the API host the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Currencies returns the currency table used for input validation.
func (c *Client) Currencies() validation.CurrencySet { return c.currencies }

// OnEvent registers h for every SDK event and returns a function that removes it.
func (c *Client) OnEvent(h EventHandler) func() {
	return c.events.subscribe(h)
}

func (c *Client) emit(eventType EventType, data map[string]any) {
	c.events.emit(Event{
		Type:     eventType,
		ClientID: c.Auth.ClientID(),
		At:       c.now().UTC(),
		Data:     data,
	})
}

// request describes one outbound API call.
type request struct {
	method   string
	path     string
	query    url.Values
	body     any
	header   http.Header
	skipAuth bool
}

// callJSON performs r and decodes a 2xx body into target when target is non-nil.
func (c *Client) callJSON(ctx context.Context, r request, target any) error {
	body, err := c.call(ctx, r)
	if err != nil {
		return err
	}
	if target == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s response: %w", r.method, r.path, err)
	}
	return nil
}

// call performs r, returning the raw body of a 2xx response. A 429 is retried
// once after Retry-After; a 401 on an injected token triggers one refresh and
// one retry.
func (c *Client) call(ctx context.Context, r request) ([]byte, error) {
	var payload []byte
	if r.body != nil {
		encoded, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = encoded
	}

	rateLimitRetried := false
	authRetried := false
	for {
		token := ""
		if !r.skipAuth && r.header.Get("Authorization") == "" {
			t, err := c.Auth.tokenForRequest(ctx)
			if err != nil {
				return nil, err
			}
			token = t
		}

		status, header, body, err := c.send(ctx, r, payload, token)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			return body, nil
		}

		classified := classifyResponse(status, header, body, c.defaultRetryAfter)

		var rateErr *RateLimitError
		if errors.As(classified, &rateErr) && c.retryOnRateLimit && !rateLimitRetried {
			rateLimitRetried = true
			c.logger.Warn("tropipay rate limited, retrying once",
				"component", "tropipay_client", "method", r.method, "path", r.path, "retry_after", rateErr.RetryAfter.String())
			if err := c.sleep(ctx, rateErr.RetryAfter); err != nil {
				return nil, classified
			}
			continue
		}

		if status == http.StatusUnauthorized && token != "" && !authRetried {
			authRetried = true
			refreshErr := c.Auth.handleUnauthorized(ctx, token)
			if refreshErr == nil {
				continue
			}
			c.logger.Warn("tropipay re-authentication failed",
				"component", "tropipay_client", "path", r.path, "error", refreshErr)
		}

		return nil, classified
	}
}

func (c *Client) send(ctx context.Context, r request, payload []byte, token string) (int, http.Header, []byte, error) {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, reqBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-DEVICE-ID", c.deviceID)
	for key, values := range r.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if c.logRequests {
		c.logger.Info("tropipay api request",
			"component", "tropipay_client",
			"method", r.method,
			"url", endpoint,
			"headers", SanitizeHeaders(req.Header),
			"body", SanitizeBody(payload))
	}

	started := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		netErr := &NetworkError{Method: r.method, URL: endpoint, Timeout: isTimeout(err), Err: err}
		c.logger.Warn("tropipay api request failed",
			"component", "tropipay_client", "method", r.method, "url", endpoint, "timeout", netErr.Timeout, "error", err)
		return 0, nil, nil, netErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, &NetworkError{Method: r.method, URL: endpoint, Timeout: isTimeout(err), Err: err}
	}

	if c.logRequests {
		c.logger.Info("tropipay api response",
			"component", "tropipay_client",
			"method", r.method,
			"url", endpoint,
			"status", resp.StatusCode,
			"duration_ms", c.now().Sub(started).Milliseconds(),
			"body", SanitizeBody(body))
	} else if resp.StatusCode >= 400 {
		c.logger.Debug("tropipay api returned non-success status",
			"component", "tropipay_client", "method", r.method, "url", endpoint, "status", resp.StatusCode)
	}

	return resp.StatusCode, resp.Header, body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func pageQuery(p Page) url.Values {
	p = p.normalize()
	q := url.Values{}
	q.Set("offset", fmt.Sprint(p.Offset))
	q.Set("limit", fmt.Sprint(p.Limit))
	return q
}
