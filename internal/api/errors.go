package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Details    string            `json:"details,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Available  *float64          `json:"available,omitempty"`
	Required   *float64          `json:"required,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	RetryAfter int               `json:"retry_after,omitempty"`
}

// statusForError maps an error kind onto an HTTP status.
func statusForError(err error) int {
	switch tropipay.Kind(err) {
	case tropipay.KindValidation:
		return http.StatusBadRequest
	case tropipay.KindAuthentication:
		return http.StatusUnauthorized
	case tropipay.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case tropipay.KindRateLimit:
		return http.StatusTooManyRequests
	case tropipay.KindNetwork:
		var netErr *tropipay.NetworkError
		if errors.As(err, &netErr) && netErr.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case tropipay.KindTransfer:
		return http.StatusUnprocessableEntity
	case tropipay.KindAPI:
		return http.StatusBadGateway
	case tropipay.KindWorkflow:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func buildErrorResponse(err error) errorResponse {
	resp := errorResponse{Error: tropipay.Kind(err), Message: tropipay.UserMessage(err)}

	var (
		valErr   *tropipay.ValidationError
		fundsErr *tropipay.InsufficientFundsError
		rateErr  *tropipay.RateLimitError
		trErr    *tropipay.TransferError
		apiErr   *tropipay.APIError
	)
	switch {
	case errors.As(err, &fundsErr):
		resp.Available = fundsErr.Available
		resp.Required = fundsErr.Required
		resp.Currency = fundsErr.Currency
		resp.Details = fundsErr.Message
	case errors.As(err, &valErr):
		if len(valErr.Fields) > 0 {
			resp.Fields = valErr.Fields
		}
	case errors.As(err, &rateErr):
		resp.RetryAfter = retryAfterSeconds(rateErr)
	case errors.As(err, &trErr):
		resp.Details = trErr.Message
	case errors.As(err, &apiErr):
		resp.Details = apiErr.Message
	}
	return resp
}

func retryAfterSeconds(err *tropipay.RateLimitError) int {
	seconds := int(err.RetryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// writeServiceError logs err and writes its JSON representation.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, endpoint string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "component", "api", "endpoint", endpoint, "status", status, "error", err)
	} else {
		logger.Warn("request rejected", "component", "api", "endpoint", endpoint, "status", status, "error_kind", tropipay.Kind(err), "error", err)
	}

	resp := buildErrorResponse(err)
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	writeJSON(w, status, resp)
}
