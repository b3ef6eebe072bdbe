package tropipay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ExpiryBuffer is subtracted from the token expiry before a token counts as valid.
const ExpiryBuffer = 5 * time.Minute

// defaultTokenLifetime applies when the token response omits expires_in.
const defaultTokenLifetime = time.Hour

// TokenManager owns the client-credentials exchange and the current token.
type TokenManager struct {
	client      *Client
	autoRefresh bool
	refreshes   singleflight.Group

	mu           sync.RWMutex
	clientID     string
	clientSecret string
	token        string
	expiresAt    time.Time
	profile      *Profile
	accounts     []Account
}

func newTokenManager(c *Client, clientID, clientSecret string, autoRefresh bool) *TokenManager {
	return &TokenManager{
		client:       c,
		autoRefresh:  autoRefresh,
		clientID:     strings.TrimSpace(clientID),
		clientSecret: clientSecret,
	}
}

// Authenticate exchanges the credentials for a token. Profile and account
// lookups that follow are best-effort and never fail authentication.
func (m *TokenManager) Authenticate(ctx context.Context, clientID, clientSecret string) (*Session, error) {
	clientID = strings.TrimSpace(clientID)
	verr := NewValidationError("invalid credentials")
	if clientID == "" {
		verr.Add("client_id", "is required")
	}
	if strings.TrimSpace(clientSecret) == "" {
		verr.Add("client_secret", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	token, expiresAt, err := m.exchange(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.clientID = clientID
	m.clientSecret = clientSecret
	m.token = token
	m.expiresAt = expiresAt
	m.profile = nil
	m.accounts = []Account{}
	m.mu.Unlock()

	m.client.emit(EventAuthenticated, map[string]any{"expires_at": expiresAt})
	m.loadSessionData(ctx, token)

	return m.Session(), nil
}

// IsAuthenticated reports whether a token is held and does not expire within ExpiryBuffer.
func (m *TokenManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validLocked()
}

func (m *TokenManager) validLocked() bool {
	return m.token != "" && m.client.now().Before(m.expiresAt.Add(-ExpiryBuffer))
}

// ClientID returns the client id of the current or last credentials.
func (m *TokenManager) ClientID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clientID
}

// Session returns a snapshot of the session, or nil when no token is held.
func (m *TokenManager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return nil
	}
	return &Session{
		ClientID:  m.clientID,
		Token:     m.token,
		ExpiresAt: m.expiresAt,
		Profile:   copyProfile(m.profile),
		Accounts:  append([]Account{}, m.accounts...),
	}
}

// Profile returns the profile loaded at authentication, if any.
func (m *TokenManager) Profile() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyProfile(m.profile)
}

// Accounts returns the most recently fetched accounts.
func (m *TokenManager) Accounts() []Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Account{}, m.accounts...)
}

// Logout attempts a server-side revoke and clears all session state regardless of its outcome.
func (m *TokenManager) Logout(ctx context.Context) {
	m.mu.Lock()
	token := m.token
	clientID := m.clientID
	m.clientID = ""
	m.clientSecret = ""
	m.token = ""
	m.expiresAt = time.Time{}
	m.profile = nil
	m.accounts = nil
	m.mu.Unlock()

	if token != "" {
		err := m.client.callJSON(ctx, request{
			method: http.MethodPost,
			path:   "/api/v2/access/logout",
			header: bearer(token),
		}, nil)
		if err != nil {
			m.client.logger.Debug("tropipay token revoke failed", "component", "tropipay_auth", "error", err)
		}
	}

	m.client.events.emit(Event{Type: EventLoggedOut, ClientID: clientID, At: m.client.now().UTC()})
}

// tokenForRequest returns a token for an outbound call, refreshing it first when
// it is inside the expiry buffer and credentials are known.
func (m *TokenManager) tokenForRequest(ctx context.Context) (string, error) {
	m.mu.RLock()
	token := m.token
	expiresAt := m.expiresAt
	valid := m.validLocked()
	canRefresh := m.autoRefresh && m.clientID != "" && m.clientSecret != ""
	m.mu.RUnlock()

	if valid {
		return token, nil
	}
	if canRefresh {
		return m.refresh(ctx, token)
	}
	if token != "" && m.client.now().Before(expiresAt) {
		return token, nil
	}
	if token != "" {
		return "", &AuthenticationError{Message: "access token expired"}
	}
	return "", ErrNotAuthenticated
}

// handleUnauthorized reacts to a 401 received with stale. It clears the token if
// it is still current, signals the expiry and, when allowed, re-authenticates once.
func (m *TokenManager) handleUnauthorized(ctx context.Context, stale string) error {
	m.mu.Lock()
	cleared := false
	if m.token == stale {
		m.token = ""
		m.expiresAt = time.Time{}
		cleared = true
	}
	replaced := m.token != "" && m.token != stale
	canRefresh := m.autoRefresh && m.clientID != "" && m.clientSecret != ""
	m.mu.Unlock()

	if cleared {
		m.client.emit(EventTokenExpired, nil)
	}
	if replaced {
		return nil
	}
	if !canRefresh {
		return &AuthenticationError{StatusCode: http.StatusUnauthorized, Message: "access token rejected"}
	}
	_, err := m.refresh(ctx, stale)
	return err
}

// refresh runs a single shared token exchange for every concurrent caller.
func (m *TokenManager) refresh(ctx context.Context, stale string) (string, error) {
	result, err, _ := m.refreshes.Do("token", func() (any, error) {
		m.mu.RLock()
		current := m.token
		valid := m.validLocked()
		clientID := m.clientID
		secret := m.clientSecret
		m.mu.RUnlock()

		if valid && current != stale {
			return current, nil
		}
		if clientID == "" || secret == "" {
			return "", ErrNotAuthenticated
		}

		token, expiresAt, err := m.exchange(context.WithoutCancel(ctx), clientID, secret)
		if err != nil {
			return "", err
		}

		m.mu.Lock()
		if m.clientID != clientID {
			m.mu.Unlock()
			return "", ErrNotAuthenticated
		}
		m.token = token
		m.expiresAt = expiresAt
		m.mu.Unlock()

		m.client.logger.Info("tropipay token refreshed", "component", "tropipay_auth", "client_id", clientID)
		m.client.emit(EventAuthenticated, map[string]any{"expires_at": expiresAt, "refresh": true})
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *TokenManager) exchange(ctx context.Context, clientID, clientSecret string) (string, time.Time, error) {
	var resp tokenResponse
	err := m.client.callJSON(ctx, request{
		method:   http.MethodPost,
		path:     "/api/v2/access/token",
		body:     tokenRequest{GrantType: "client_credentials", ClientID: clientID, ClientSecret: clientSecret},
		skipAuth: true,
	}, &resp)
	if err != nil {
		var apiErr *APIError
		var valErr *ValidationError
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest:
			return "", time.Time{}, &AuthenticationError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		case errors.As(err, &valErr):
			return "", time.Time{}, &AuthenticationError{StatusCode: http.StatusBadRequest, Message: valErr.Message, Err: err}
		}
		return "", time.Time{}, err
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return "", time.Time{}, &AuthenticationError{Message: "token response did not include an access token"}
	}

	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return resp.AccessToken, m.client.now().Add(lifetime), nil
}

// loadSessionData fetches profile and accounts with an explicit header so a 401
// here never re-enters the refresh path.
func (m *TokenManager) loadSessionData(ctx context.Context, token string) {
	logger := m.client.logger

	var wp wireProfile
	profileErr := m.client.callJSON(ctx, request{
		method: http.MethodGet,
		path:   "/api/users/profile",
		header: bearer(token),
	}, &wp)
	if profileErr != nil {
		logger.Warn("failed to load tropipay profile", "component", "tropipay_auth", "error", profileErr)
	}

	accounts := []Account{}
	body, accountsErr := m.client.call(ctx, request{
		method: http.MethodGet,
		path:   "/api/accounts",
		header: bearer(token),
	})
	if accountsErr == nil {
		wireAccounts, err := decodeList[wireAccount](body)
		if err != nil {
			accountsErr = err
		} else {
			accounts = convertAccounts(wireAccounts)
		}
	}
	if accountsErr != nil {
		logger.Warn("failed to load tropipay accounts", "component", "tropipay_auth", "error", accountsErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != token {
		return
	}
	if profileErr == nil {
		m.profile = convertProfile(wp)
	}
	m.accounts = accounts
}

// FetchProfile loads the profile through the regular call path and keeps it for
// second-factor defaults.
func (m *TokenManager) FetchProfile(ctx context.Context) (*Profile, error) {
	var wp wireProfile
	if err := m.client.callJSON(ctx, request{
		method: http.MethodGet,
		path:   "/api/users/profile",
	}, &wp); err != nil {
		return nil, err
	}
	profile := convertProfile(wp)

	m.mu.Lock()
	if m.token != "" {
		m.profile = copyProfile(profile)
	}
	m.mu.Unlock()
	return profile, nil
}

func (m *TokenManager) setAccounts(accounts []Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return
	}
	m.accounts = append([]Account{}, accounts...)
}

func copyProfile(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
