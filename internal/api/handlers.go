/**
 * @description
 * This file contains the HTTP handlers of the wallet backend. Handlers parse the
 * request, call the wallet service and write the JSON response. Every amount in
 * a request or response body is in display units.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain: service logic and request/response models.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tropiwallet/wallet-service/internal/app"
	"github.com/tropiwallet/wallet-service/internal/domain"
	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

const maxBodyBytes = 1 << 20

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
	logger  *slog.Logger
	version string
	now     func() time.Time
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service, logger *slog.Logger, version string) *WalletHandlers {
	return &WalletHandlers{service: service, logger: logger, version: version, now: time.Now}
}

// HealthHandler reports liveness.
func (h *WalletHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.HealthStatus{Status: "ok", Timestamp: h.now().UTC(), Version: h.version})
}

// LoginHandler authenticates a TropiPay client and opens a session.
func (h *WalletHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !h.decode(w, r, "login", &req) {
		return
	}
	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// LogoutHandler closes the session of the user.
func (h *WalletHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), chi.URLParam(r, "userId")); err != nil {
		writeServiceError(w, h.logger, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ProfileHandler returns the TropiPay profile of the user.
func (h *WalletHandlers) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Profile(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, h.logger, "profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ListAccountsHandler returns the accounts of the user, from cache when TropiPay is unavailable.
func (h *WalletHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, h.logger, "list_accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// ListMovementsHandler returns one page of an account's movements.
func (h *WalletHandlers) ListMovementsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeServiceError(w, h.logger, "list_movements", err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "accountId"), page)
	if err != nil {
		writeServiceError(w, h.logger, "list_movements", err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

// ListBeneficiariesHandler returns one page of beneficiaries.
func (h *WalletHandlers) ListBeneficiariesHandler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeServiceError(w, h.logger, "list_beneficiaries", err)
		return
	}
	beneficiaries, err := h.service.ListBeneficiaries(r.Context(), chi.URLParam(r, "userId"), page)
	if err != nil {
		writeServiceError(w, h.logger, "list_beneficiaries", err)
		return
	}
	writeJSON(w, http.StatusOK, beneficiaries)
}

// CreateBeneficiaryHandler validates and creates a beneficiary.
func (h *WalletHandlers) CreateBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	var in tropipay.BeneficiaryInput
	if !h.decode(w, r, "create_beneficiary", &in) {
		return
	}
	beneficiary, err := h.service.CreateBeneficiary(r.Context(), chi.URLParam(r, "userId"), in)
	if err != nil {
		writeServiceError(w, h.logger, "create_beneficiary", err)
		return
	}
	writeJSON(w, http.StatusCreated, beneficiary)
}

// ValidateBeneficiaryHandler runs the advisory beneficiary checks.
func (h *WalletHandlers) ValidateBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	var in tropipay.BeneficiaryInput
	if !h.decode(w, r, "validate_beneficiary", &in) {
		return
	}
	writeJSON(w, http.StatusOK, h.service.ValidateBeneficiary(in))
}

// DeleteBeneficiaryHandler removes a beneficiary.
func (h *WalletHandlers) DeleteBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteBeneficiary(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "beneficiaryId"))
	if err != nil {
		writeServiceError(w, h.logger, "delete_beneficiary", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SimulateTransferHandler quotes a transfer.
func (h *WalletHandlers) SimulateTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req tropipay.TransferRequest
	if !h.decode(w, r, "simulate_transfer", &req) {
		return
	}
	sim, err := h.service.SimulateTransfer(r.Context(), chi.URLParam(r, "userId"), req)
	if err != nil {
		writeServiceError(w, h.logger, "simulate_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

// ExecuteTransferHandler executes a transfer, with the second factor when required.
func (h *WalletHandlers) ExecuteTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecuteTransferRequest
	if !h.decode(w, r, "execute_transfer", &req) {
		return
	}
	result, err := h.service.ExecuteTransfer(r.Context(), chi.URLParam(r, "userId"), req)
	if err != nil {
		writeServiceError(w, h.logger, "execute_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RequestSMSHandler asks for a security code.
func (h *WalletHandlers) RequestSMSHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SMSRequest
	if !h.decode(w, r, "request_sms", &req) {
		return
	}
	resp, err := h.service.RequestSMS(r.Context(), chi.URLParam(r, "userId"), req.PhoneNumber)
	if err != nil {
		writeServiceError(w, h.logger, "request_sms", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// TransferStatusHandler polls a transfer.
func (h *WalletHandlers) TransferStatusHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.TransferStatus(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "transferId"))
	if err != nil {
		writeServiceError(w, h.logger, "transfer_status", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (h *WalletHandlers) decode(w http.ResponseWriter, r *http.Request, endpoint string, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		message := "Invalid request body"
		if errors.Is(err, io.EOF) {
			message = "Request body is required"
		}
		writeServiceError(w, h.logger, endpoint, tropipay.NewValidationError(message))
		return false
	}
	return true
}

func parsePage(r *http.Request) (tropipay.Page, error) {
	var page tropipay.Page
	verr := tropipay.NewValidationError("invalid pagination")
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			verr.Add("offset", "must be a non-negative integer")
		}
		page.Offset = offset
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			verr.Add("limit", "must be a positive integer")
		}
		page.Limit = limit
	}
	return page, verr.OrNil()
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
