package tropipay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tropiwallet/wallet-service/pkg/money"
)

// CodeInsufficientFunds is the remote error code for an insufficient balance.
const CodeInsufficientFunds = "INSUFFICIENT_FUNDS"

// Workflow sequencing errors.
var (
	ErrNotSimulated       = errors.New("transfer must be simulated before it is executed")
	ErrStaleSimulation    = errors.New("simulation does not match the transfer parameters")
	ErrSimulationConsumed = errors.New("simulation was already used by an execute call")
	ErrInvalidTransition  = errors.New("invalid transfer workflow transition")
)

// ErrNotAuthenticated is returned when a call needs a token and none is available.
var ErrNotAuthenticated = &AuthenticationError{Message: "not authenticated"}

// AuthenticationError reports invalid credentials or an expired/missing token.
type AuthenticationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication failed"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("tropipay authentication error (status %d): %s", e.StatusCode, msg)
	}
	return "tropipay authentication error: " + msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ValidationError reports malformed input, with optional per-field detail.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// NewValidationError returns an empty ValidationError with the given summary.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: map[string]string{}}
}

// Add records a field-level message.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = message
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil returns e when it carries field errors and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "validation failed"
	}
	if len(e.Fields) == 0 {
		return msg
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

// InsufficientFundsError is returned when the remote side reports an insufficient
// balance. Amounts are in display units and nil when unknown.
type InsufficientFundsError struct {
	Message   string
	Currency  string
	Available *float64
	Required  *float64
}

func (e *InsufficientFundsError) Error() string {
	var b strings.Builder
	b.WriteString("insufficient funds")
	if e.Available != nil {
		fmt.Fprintf(&b, ": available %.2f", *e.Available)
	}
	if e.Required != nil {
		fmt.Fprintf(&b, ", required %.2f", *e.Required)
	}
	if e.Currency != "" && (e.Available != nil || e.Required != nil) {
		b.WriteString(" " + e.Currency)
	}
	return b.String()
}

// RateLimitError is returned for HTTP 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("tropipay rate limit exceeded, retry after %ds", int(e.RetryAfter.Seconds()))
}

// NetworkError covers refused connections, DNS failures and timeouts.
type NetworkError struct {
	Method     string
	URL        string
	Timeout    bool
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	kind := "network error"
	if e.Timeout {
		kind = "request timeout"
	}
	if e.Err != nil {
		return fmt.Sprintf("tropipay %s: %s %s: %v", kind, e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("tropipay %s: %s %s (status %d)", kind, e.Method, e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TransferError is a transfer-execution failure not covered by a more specific kind.
type TransferError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "transfer failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("tropipay transfer error %s: %s", e.Code, msg)
	}
	return "tropipay transfer error: " + msg
}

func (e *TransferError) Unwrap() error { return e.Err }

// APIError is any other non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tropipay api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("tropipay api error: status %d, body: %s", e.StatusCode, string(e.Body))
}

// Error kinds, as reported by Kind.
const (
	KindAuthentication    = "authentication_error"
	KindValidation        = "validation_error"
	KindInsufficientFunds = "insufficient_funds"
	KindRateLimit         = "rate_limit_error"
	KindNetwork           = "network_error"
	KindTransfer          = "transfer_error"
	KindAPI               = "api_error"
	KindWorkflow          = "workflow_error"
	KindInternal          = "internal_error"
)

// Kind returns the taxonomy kind of err.
func Kind(err error) string {
	var (
		authErr  *AuthenticationError
		valErr   *ValidationError
		fundsErr *InsufficientFundsError
		rateErr  *RateLimitError
		netErr   *NetworkError
		trErr    *TransferError
		apiErr   *APIError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fundsErr):
		return KindInsufficientFunds
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &authErr):
		return KindAuthentication
	case errors.As(err, &rateErr):
		return KindRateLimit
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &trErr):
		return KindTransfer
	case errors.As(err, &apiErr):
		return KindAPI
	case errors.Is(err, ErrNotSimulated), errors.Is(err, ErrStaleSimulation),
		errors.Is(err, ErrSimulationConsumed), errors.Is(err, ErrInvalidTransition):
		return KindWorkflow
	default:
		return KindInternal
	}
}

// UserMessage returns a human-readable message suitable for a UI notification.
func UserMessage(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case KindInsufficientFunds:
		return "Insufficient funds"
	case KindAuthentication:
		return "Your session has expired, please log in again"
	case KindValidation:
		var valErr *ValidationError
		if errors.As(err, &valErr) && valErr.Message != "" {
			return valErr.Message
		}
		return "Please review the submitted data"
	case KindRateLimit:
		return "Too many requests, please wait a moment and try again"
	case KindNetwork:
		return "Payments service is unreachable, please try again later"
	case KindTransfer:
		return "The transfer could not be completed"
	case KindWorkflow:
		return "Please simulate the transfer again before confirming it"
	case KindAPI:
		return "The payments service rejected the request"
	default:
		return "Unexpected error"
	}
}

// errorBody is the remote error payload, either flat or nested under "error".
type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]any    `json:"details"`
	Available *minorAmount      `json:"available"`
	Required  *minorAmount      `json:"required"`
	Currency  string            `json:"currency"`
	Nested    json.RawMessage   `json:"error"`
	Errors    map[string]string `json:"errors"`
}

func parseErrorBody(body []byte) errorBody {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return errorBody{}
	}
	if len(parsed.Nested) == 0 {
		return parsed
	}
	var inner errorBody
	if err := json.Unmarshal(parsed.Nested, &inner); err == nil {
		if inner.Code == "" {
			inner.Code = parsed.Code
		}
		if inner.Message == "" {
			inner.Message = parsed.Message
		}
		return inner
	}
	var msg string
	if err := json.Unmarshal(parsed.Nested, &msg); err == nil && parsed.Message == "" {
		parsed.Message = msg
	}
	return parsed
}

// classifyResponse maps a non-2xx response onto the error taxonomy.
func classifyResponse(status int, header http.Header, body []byte, defaultRetryAfter time.Duration) error {
	parsed := parseErrorBody(body)

	if strings.EqualFold(parsed.Code, CodeInsufficientFunds) {
		fundsErr := &InsufficientFundsError{Message: parsed.Message, Currency: strings.ToUpper(parsed.Currency)}
		if parsed.Available != nil {
			v := money.ToDisplayUnits(int64(*parsed.Available))
			fundsErr.Available = &v
		}
		if parsed.Required != nil {
			v := money.ToDisplayUnits(int64(*parsed.Required))
			fundsErr.Required = &v
		}
		return fundsErr
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthenticationError{StatusCode: status, Message: parsed.Message}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(header, defaultRetryAfter), Message: parsed.Message}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &NetworkError{Timeout: true, StatusCode: status}
	case (status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) &&
		(strings.EqualFold(parsed.Code, "VALIDATION_ERROR") || len(parsed.Details) > 0 || len(parsed.Errors) > 0):
		valErr := NewValidationError(parsed.Message)
		for field, detail := range parsed.Details {
			valErr.Add(field, fmt.Sprint(detail))
		}
		for field, detail := range parsed.Errors {
			valErr.Add(field, detail)
		}
		return valErr
	}

	return &APIError{StatusCode: status, Code: parsed.Code, Message: parsed.Message, Body: body}
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(header http.Header, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
