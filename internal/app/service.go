/**
 * @description
 * This file contains the business logic behind the wallet HTTP facade. The
 * Service owns one TropiPay client per logged-in user, keeps the local cache in
 * sync with successful reads and serves cached data when the live API fails.
 *
 * @notes
 * - All amounts crossing this layer are display units; minor units stay inside
 *   the SDK and the cache store.
 * - The execute path is stateless: it re-simulates the submitted transfer and
 *   executes against that fresh simulation.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tropiwallet/wallet-service/internal/domain"
	"github.com/tropiwallet/wallet-service/internal/store"
	"github.com/tropiwallet/wallet-service/pkg/tropipay"
	"github.com/tropiwallet/wallet-service/pkg/validation"
)

// ErrSessionNotFound is returned for a user id without a live session.
var ErrSessionNotFound = &tropipay.AuthenticationError{
	StatusCode: http.StatusUnauthorized,
	Message:    "no active session for this user, please log in",
}

// ServiceConfig carries the settings the service applies to every TropiPay client.
type ServiceConfig struct {
	Environment       string
	BaseURLs          map[string]string
	DeviceID          string
	Timeout           time.Duration
	LogAPICalls       bool
	AutoRefresh       bool
	RetryOnRateLimit  bool
	DefaultRetryAfter time.Duration
	Currencies        validation.CurrencySet
	// DemoSMSCode short-circuits request-sms when non-empty.
	DemoSMSCode string
	// HTTPClient is shared by every TropiPay client when set.
	HTTPClient *http.Client
}

// Service provides the business logic for the wallet backend.
type Service struct {
	cfg      ServiceConfig
	cache    store.CacheRepository
	sessions *SessionRegistry
	tokens   *SessionTokens
	events   *EventBridge
	logger   *slog.Logger
}

// NewService creates a new wallet service. tokens and events may be nil.
func NewService(cfg ServiceConfig, cache store.CacheRepository, sessions *SessionRegistry, tokens *SessionTokens, events *EventBridge, logger *slog.Logger) *Service {
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = validation.DefaultCurrencies
	}
	if cfg.Environment == "" {
		cfg.Environment = tropipay.EnvironmentDevelopment
	}
	return &Service{
		cfg:      cfg,
		cache:    cache,
		sessions: sessions,
		tokens:   tokens,
		events:   events,
		logger:   logger,
	}
}

// Tokens returns the session token issuer, nil when disabled.
func (s *Service) Tokens() *SessionTokens {
	return s.tokens
}

// Login authenticates against TropiPay and opens (or reuses) the session of the
// internal user bound to the client id.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	clientID := strings.TrimSpace(req.ClientID)
	verr := tropipay.NewValidationError("client_id and client_secret are required")
	if clientID == "" {
		verr.Add("client_id", "is required")
	}
	if strings.TrimSpace(req.ClientSecret) == "" {
		verr.Add("client_secret", "is required")
	}
	env := strings.ToLower(strings.TrimSpace(req.Environment))
	if env == "" {
		env = s.cfg.Environment
	}
	if env != tropipay.EnvironmentDevelopment && env != tropipay.EnvironmentProduction {
		verr.Add("environment", "must be development or production")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	userID, err := s.cache.ResolveUserID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if existing, ok := s.sessions.Get(userID); ok &&
		existing.Environment == env &&
		existing.Client.Auth.IsAuthenticated() &&
		existing.MatchesSecret(req.ClientSecret) {
		s.logger.Info("reusing active session", "component", "wallet_service", "user_id", userID)
		return s.loginResponse(userID, existing.Client.Auth.Session())
	}

	client, err := tropipay.NewClient(s.clientOptions(env))
	if err != nil {
		return nil, err
	}
	session := &Session{UserID: userID, ClientID: clientID, Environment: env, Client: client}
	if s.events != nil {
		session.detach = s.events.Attach(client, userID)
	}

	tpSession, err := client.Auth.Authenticate(ctx, clientID, req.ClientSecret)
	if err != nil {
		session.close()
		s.logger.Warn("login failed", "component", "wallet_service", "user_id", userID, "error_kind", tropipay.Kind(err))
		return nil, err
	}

	hash, err := s.sessions.HashSecret(req.ClientSecret)
	if err != nil {
		s.logger.Warn("failed to hash client secret, re-login reuse disabled", "component", "wallet_service", "error", err)
	}
	session.secretHash = hash
	s.sessions.Put(session)

	if len(tpSession.Accounts) > 0 {
		s.saveAccounts(ctx, userID, tpSession.Accounts)
	}

	s.logger.Info("user logged in", "component", "wallet_service", "user_id", userID, "environment", env)
	return s.loginResponse(userID, tpSession)
}

func (s *Service) loginResponse(userID string, tpSession *tropipay.Session) (*domain.LoginResponse, error) {
	if tpSession == nil {
		return nil, tropipay.ErrNotAuthenticated
	}
	view := domain.UserView{
		ID:        userID,
		ClientID:  tpSession.ClientID,
		Profile:   tpSession.Profile,
		Accounts:  tpSession.Accounts,
		Token:     tpSession.Token,
		ExpiresAt: tpSession.ExpiresAt,
	}
	if view.Accounts == nil {
		view.Accounts = []tropipay.Account{}
	}
	if s.tokens.Enabled() {
		token, _, err := s.tokens.Issue(userID)
		if err != nil {
			return nil, err
		}
		view.SessionToken = token
	}
	return &domain.LoginResponse{User: view}, nil
}

func (s *Service) clientOptions(env string) tropipay.Options {
	return tropipay.Options{
		Environment:           env,
		BaseURLs:              s.cfg.BaseURLs,
		DeviceID:              s.cfg.DeviceID,
		Timeout:               s.cfg.Timeout,
		HTTPClient:            s.cfg.HTTPClient,
		Logger:                s.logger,
		LogRequests:           s.cfg.LogAPICalls,
		DisableAutoRefresh:    !s.cfg.AutoRefresh,
		DisableRateLimitRetry: !s.cfg.RetryOnRateLimit,
		DefaultRetryAfter:     s.cfg.DefaultRetryAfter,
		Currencies:            s.cfg.Currencies,
	}
}

// Logout revokes and forgets the session of userID. Unknown users succeed.
func (s *Service) Logout(ctx context.Context, userID string) error {
	session, ok := s.sessions.Get(userID)
	if !ok {
		return nil
	}
	session.Client.Auth.Logout(ctx)
	s.sessions.Remove(userID)
	s.logger.Info("user logged out", "component", "wallet_service", "user_id", userID)
	return nil
}

func (s *Service) session(userID string) (*Session, error) {
	session, ok := s.sessions.Get(strings.TrimSpace(userID))
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Profile returns the profile loaded at login, fetching it when login could not.
func (s *Service) Profile(ctx context.Context, userID string) (*tropipay.Profile, error) {
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}
	if profile := session.Client.Auth.Profile(); profile != nil {
		return profile, nil
	}
	return session.Client.Auth.FetchProfile(ctx)
}

// ListAccounts returns live accounts and refreshes the cache. When the live
// call fails for any reason the last cached list (or an empty one) is returned.
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]tropipay.Account, error) {
	accounts, liveErr := s.liveAccounts(ctx, userID)
	if liveErr == nil {
		s.saveAccounts(ctx, userID, accounts)
		return accounts, nil
	}

	cached, err := s.cache.GetAccounts(ctx, userID)
	if err != nil {
		s.logger.Error("failed to read cached accounts", "component", "wallet_service", "user_id", userID, "error", err)
		return nil, liveErr
	}
	s.logger.Warn("serving cached accounts", "component", "wallet_service",
		"user_id", userID, "rows", len(cached), "error_kind", tropipay.Kind(liveErr), "error", liveErr)
	return cached, nil
}

func (s *Service) liveAccounts(ctx context.Context, userID string) ([]tropipay.Account, error) {
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}
	return session.Client.Accounts.GetAll(ctx)
}

func (s *Service) saveAccounts(ctx context.Context, userID string, accounts []tropipay.Account) {
	if err := s.cache.SaveAccounts(ctx, userID, accounts); err != nil {
		s.logger.Warn("failed to cache accounts", "component", "wallet_service", "user_id", userID, "error", err)
	}
}

// ListBeneficiaries mirrors ListAccounts. Only the first page refreshes the cache.
func (s *Service) ListBeneficiaries(ctx context.Context, userID string, page tropipay.Page) ([]tropipay.Beneficiary, error) {
	beneficiaries, liveErr := s.liveBeneficiaries(ctx, userID, page)
	if liveErr == nil {
		if page.Offset <= 0 {
			if err := s.cache.SaveBeneficiaries(ctx, userID, beneficiaries); err != nil {
				s.logger.Warn("failed to cache beneficiaries", "component", "wallet_service", "user_id", userID, "error", err)
			}
		}
		return beneficiaries, nil
	}

	cached, err := s.cache.GetBeneficiaries(ctx, userID)
	if err != nil {
		s.logger.Error("failed to read cached beneficiaries", "component", "wallet_service", "user_id", userID, "error", err)
		return nil, liveErr
	}
	s.logger.Warn("serving cached beneficiaries", "component", "wallet_service",
		"user_id", userID, "rows", len(cached), "error_kind", tropipay.Kind(liveErr), "error", liveErr)
	return pageOf(cached, page), nil
}

func (s *Service) liveBeneficiaries(ctx context.Context, userID string, page tropipay.Page) ([]tropipay.Beneficiary, error) {
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}
	return session.Client.Beneficiaries.List(ctx, page)
}

func pageOf[T any](items []T, page tropipay.Page) []T {
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	limit := page.Limit
	if limit <= 0 {
		limit = tropipay.DefaultPageLimit
	}
	if limit > tropipay.MaxPageLimit {
		limit = tropipay.MaxPageLimit
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// CreateBeneficiary validates and creates a beneficiary.
func (s *Service) CreateBeneficiary(ctx context.Context, userID string, in tropipay.BeneficiaryInput) (*tropipay.Beneficiary, error) {
	if err := tropipay.ValidateBeneficiaryInput(tropipay.NormalizeBeneficiaryInput(in), s.cfg.Currencies); err != nil {
		return nil, err
	}
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}
	return session.Client.Beneficiaries.Create(ctx, in)
}

// ValidateBeneficiary runs the advisory checks without creating anything.
func (s *Service) ValidateBeneficiary(in tropipay.BeneficiaryInput) domain.BeneficiaryValidation {
	result := domain.BeneficiaryValidation{Valid: true, Fields: map[string]string{}}
	err := tropipay.ValidateBeneficiaryInput(tropipay.NormalizeBeneficiaryInput(in), s.cfg.Currencies)
	var verr *tropipay.ValidationError
	if errors.As(err, &verr) {
		result.Valid = false
		for field, msg := range verr.Fields {
			result.Fields[field] = msg
		}
	}
	return result
}

// DeleteBeneficiary removes a beneficiary. The cache catches up on the next list.
func (s *Service) DeleteBeneficiary(ctx context.Context, userID, beneficiaryID string) error {
	session, err := s.session(userID)
	if err != nil {
		return err
	}
	return session.Client.Beneficiaries.Delete(ctx, beneficiaryID)
}

// ListMovements returns one page of an account's movements.
func (s *Service) ListMovements(ctx context.Context, userID, accountID string, page tropipay.Page) ([]tropipay.Movement, error) {
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}
	return session.Client.Movements.List(ctx, accountID, page)
}

// SimulateTransfer quotes a transfer.
func (s *Service) SimulateTransfer(ctx context.Context, userID string, req tropipay.TransferRequest) (*tropipay.Simulation, error) {
	if err := req.Normalize().Validate(s.cfg.Currencies); err != nil {
		return nil, err
	}
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}
	return session.Client.Transfers.Simulate(ctx, req)
}

// ExecuteTransfer re-simulates req and executes it with the supplied second factor.
func (s *Service) ExecuteTransfer(ctx context.Context, userID string, req domain.ExecuteTransferRequest) (*tropipay.TransferResult, error) {
	if err := req.TransferRequest.Normalize().Validate(s.cfg.Currencies); err != nil {
		return nil, err
	}
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}

	workflow := session.Client.Transfers.NewWorkflow(req.TransferRequest)
	if _, err := workflow.Simulate(ctx); err != nil {
		return nil, err
	}

	var factor *tropipay.SecondFactor
	if strings.TrimSpace(req.SecurityCode) != "" {
		factor = &tropipay.SecondFactor{Type: req.SecurityCodeType, Code: req.SecurityCode}
	}
	result, err := workflow.Execute(ctx, factor)
	if err != nil {
		s.logger.Warn("transfer execution failed", "component", "wallet_service",
			"user_id", userID, "state", workflow.State(), "error_kind", tropipay.Kind(err))
		return nil, err
	}
	s.logger.Info("transfer executed", "component", "wallet_service",
		"user_id", userID, "transfer_id", result.TransferID, "status", result.Status)
	return result, nil
}

// RequestSMS asks TropiPay to send a security code, or answers with the demo
// code when demo mode is on.
func (s *Service) RequestSMS(ctx context.Context, userID, phoneNumber string) (*domain.SMSResponse, error) {
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}
	if s.cfg.DemoSMSCode != "" {
		if !validation.ValidatePhone(strings.TrimSpace(phoneNumber)) {
			verr := tropipay.NewValidationError("invalid phone number")
			verr.Add("phoneNumber", "must contain 7 to 15 digits")
			return nil, verr
		}
		s.logger.Info("demo sms mode, no code sent", "component", "wallet_service", "user_id", userID)
		return &domain.SMSResponse{Success: true, IsDemoMode: true, DemoCode: s.cfg.DemoSMSCode}, nil
	}

	result, err := session.Client.Transfers.RequestSMS(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	return &domain.SMSResponse{Success: result.Success, SkipSMS: result.SkipSMS}, nil
}

// TransferStatus polls a transfer.
func (s *Service) TransferStatus(ctx context.Context, userID, transferID string) (*tropipay.TransferResult, error) {
	session, err := s.session(userID)
	if err != nil {
		return nil, err
	}
	return session.Client.Transfers.Get(ctx, transferID)
}
