package tropipay

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/tropiwallet/wallet-service/pkg/money"
	"github.com/tropiwallet/wallet-service/pkg/validation"
)

// TransfersService simulates and executes transfers.
type TransfersService struct {
	client *Client
}

// Normalize trims identifiers, upper-cases the currency and rounds the amount to cents.
func (r TransferRequest) Normalize() TransferRequest {
	r.FromAccountID = strings.TrimSpace(r.FromAccountID)
	r.BeneficiaryID = strings.TrimSpace(r.BeneficiaryID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Reason = strings.TrimSpace(r.Reason)
	if !math.IsNaN(r.Amount) && !math.IsInf(r.Amount, 0) {
		r.Amount = money.ToDisplayUnits(money.ToMinorUnits(r.Amount))
	}
	return r
}

// Validate rejects a request before any network call.
func (r TransferRequest) Validate(currencies validation.CurrencySet) error {
	verr := NewValidationError("invalid transfer")
	if r.FromAccountID == "" {
		verr.Add("accountId", "is required")
	}
	if r.BeneficiaryID == "" {
		verr.Add("beneficiaryId", "is required")
	}
	if !validation.ValidateAmount(r.Amount) || money.ToMinorUnits(r.Amount) <= 0 {
		verr.Add("amount", "must be a positive amount")
	}
	if r.Currency != "" {
		if len(currencies) == 0 {
			currencies = validation.DefaultCurrencies
		}
		if !currencies.Validate(r.Currency) {
			verr.Add("currency", "must be one of "+strings.Join(currencies.Codes(), ", "))
		}
	}
	return verr.OrNil()
}

func sameTransfer(a, b TransferRequest) bool {
	return a.FromAccountID == b.FromAccountID &&
		a.BeneficiaryID == b.BeneficiaryID &&
		a.Currency == b.Currency &&
		a.Reason == b.Reason &&
		money.ToMinorUnits(a.Amount) == money.ToMinorUnits(b.Amount)
}

func (r TransferRequest) wire() wireTransferRequest {
	return wireTransferRequest{
		AccountID:     r.FromAccountID,
		BeneficiaryID: r.BeneficiaryID,
		Amount:        money.ToMinorUnits(r.Amount),
		Currency:      r.Currency,
		Reason:        r.Reason,
	}
}

// Simulate requests a quote for req. The returned simulation may be passed to
// exactly one Execute call with the same parameters.
func (s *TransfersService) Simulate(ctx context.Context, req TransferRequest) (*Simulation, error) {
	req = req.Normalize()
	if err := req.Validate(s.client.currencies); err != nil {
		return nil, err
	}

	var w wireSimulation
	if err := s.client.callJSON(ctx, request{
		method: http.MethodPost,
		path:   "/api/v2/transfers/simulate",
		body:   req.wire(),
	}, &w); err != nil {
		return nil, withRequiredAmount(err, req)
	}

	sim := convertSimulation(w, req)
	s.client.emit(EventTransferSimulated, map[string]any{
		"account_id":     req.FromAccountID,
		"beneficiary_id": req.BeneficiaryID,
		"amount":         req.Amount,
		"currency":       req.Currency,
		"requires_2fa":   sim.Requires2FA,
	})
	return sim, nil
}

// Execute sends the transfer simulated by sim. req must match the simulated
// parameters and sim must not have been used before. factor is required when
// the simulation demands a second factor.
func (s *TransfersService) Execute(ctx context.Context, req TransferRequest, sim *Simulation, factor *SecondFactor) (*TransferResult, error) {
	if sim == nil {
		return nil, ErrNotSimulated
	}
	req = req.Normalize()
	if err := req.Validate(s.client.currencies); err != nil {
		return nil, err
	}
	if !sameTransfer(req, sim.request) || money.ToMinorUnits(req.Amount) != sim.minor {
		return nil, ErrStaleSimulation
	}

	body := req.wire()
	if factor != nil {
		body.SecurityCode = cleanSecurityCode(factor.Code)
		body.SecurityCodeType = strings.ToUpper(strings.TrimSpace(factor.Type))
		if body.SecurityCodeType == "" {
			body.SecurityCodeType = FactorTypeFor(s.client.Auth.Profile())
		}
	}
	if sim.Requires2FA && body.SecurityCode == "" {
		verr := NewValidationError("a second factor code is required for this transfer")
		verr.Add("securityCode", "is required")
		return nil, verr
	}

	if !sim.consumed.CompareAndSwap(false, true) {
		return nil, ErrSimulationConsumed
	}

	var w wireTransferResult
	if err := s.client.callJSON(ctx, request{
		method: http.MethodPost,
		path:   "/api/v2/transfers",
		body:   body,
	}, &w); err != nil {
		err = asTransferError(withRequiredAmount(err, req))
		s.client.emit(EventTransferFailed, map[string]any{
			"account_id":     req.FromAccountID,
			"beneficiary_id": req.BeneficiaryID,
			"amount":         req.Amount,
			"currency":       req.Currency,
			"error_kind":     Kind(err),
		})
		return nil, err
	}

	result := convertTransferResult(w)
	if result.Currency == "" {
		result.Currency = sim.Currency
	}
	if result.Recipient.BeneficiaryID == "" {
		result.Recipient.BeneficiaryID = req.BeneficiaryID
	}
	s.client.emit(EventTransferExecuted, map[string]any{
		"transfer_id": result.TransferID,
		"reference":   result.Reference,
		"status":      result.Status,
		"amount":      result.AmountSent,
		"currency":    result.Currency,
	})
	return result, nil
}

// Get polls the status of a transfer.
func (s *TransfersService) Get(ctx context.Context, transferID string) (*TransferResult, error) {
	transferID = strings.TrimSpace(transferID)
	if transferID == "" {
		verr := NewValidationError("invalid transfer")
		verr.Add("transferId", "is required")
		return nil, verr
	}
	var w wireTransferResult
	if err := s.client.callJSON(ctx, request{
		method: http.MethodGet,
		path:   "/api/v2/transfers/" + url.PathEscape(transferID),
	}, &w); err != nil {
		return nil, err
	}
	return convertTransferResult(w), nil
}

// RequestSMS asks TropiPay to send a security code to phoneNumber.
func (s *TransfersService) RequestSMS(ctx context.Context, phoneNumber string) (*SMSResult, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if !validation.ValidatePhone(phoneNumber) {
		verr := NewValidationError("invalid phone number")
		verr.Add("phoneNumber", "must contain 7 to 15 digits")
		return nil, verr
	}
	var resp smsResponse
	if err := s.client.callJSON(ctx, request{
		method: http.MethodPost,
		path:   "/api/v2/security/sms",
		body:   smsRequest{PhoneNumber: phoneNumber},
	}, &resp); err != nil {
		return nil, err
	}
	return &SMSResult{Success: bool(resp.Success), SkipSMS: bool(resp.SkipSMS)}, nil
}

// cleanSecurityCode strips everything but letters and digits.
func cleanSecurityCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, code)
}

// withRequiredAmount fills the required amount of an insufficient funds error
// from the request when the remote side omitted it.
func withRequiredAmount(err error, req TransferRequest) error {
	var fundsErr *InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		return err
	}
	if fundsErr.Required == nil {
		required := req.Amount
		fundsErr.Required = &required
	}
	if fundsErr.Currency == "" {
		fundsErr.Currency = req.Currency
	}
	return fundsErr
}

// asTransferError wraps a generic API failure from the execute endpoint.
func asTransferError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	return &TransferError{Code: apiErr.Code, Message: apiErr.Message, StatusCode: apiErr.StatusCode, Err: apiErr}
}
