package tropipay

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tropiwallet/wallet-service/pkg/validation"
)

// BeneficiariesService manages saved transfer recipients.
type BeneficiariesService struct {
	client *Client
}

// List returns one page of beneficiaries.
func (s *BeneficiariesService) List(ctx context.Context, page Page) ([]Beneficiary, error) {
	body, err := s.client.call(ctx, request{
		method: http.MethodGet,
		path:   "/api/deposit_accounts",
		query:  pageQuery(page),
	})
	if err != nil {
		return nil, err
	}
	wireBeneficiaries, err := decodeList[wireBeneficiary](body)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "malformed beneficiaries response: " + err.Error(), Body: body}
	}

	out := make([]Beneficiary, 0, len(wireBeneficiaries))
	for _, w := range wireBeneficiaries {
		out = append(out, convertBeneficiary(w))
	}
	return out, nil
}

// Create validates input and creates a beneficiary.
func (s *BeneficiariesService) Create(ctx context.Context, input BeneficiaryInput) (*Beneficiary, error) {
	input = NormalizeBeneficiaryInput(input)
	if err := ValidateBeneficiaryInput(input, s.client.currencies); err != nil {
		return nil, err
	}

	var w wireBeneficiary
	if err := s.client.callJSON(ctx, request{
		method: http.MethodPost,
		path:   "/api/deposit_accounts",
		body:   input,
	}, &w); err != nil {
		return nil, err
	}
	created := convertBeneficiary(w)
	return &created, nil
}

// Delete removes a beneficiary.
func (s *BeneficiariesService) Delete(ctx context.Context, beneficiaryID string) error {
	beneficiaryID = strings.TrimSpace(beneficiaryID)
	if beneficiaryID == "" {
		verr := NewValidationError("invalid beneficiary")
		verr.Add("beneficiaryId", "is required")
		return verr
	}
	return s.client.callJSON(ctx, request{
		method: http.MethodDelete,
		path:   "/api/deposit_accounts/" + url.PathEscape(beneficiaryID),
	}, nil)
}

// NormalizeBeneficiaryInput trims fields and upper-cases codes.
func NormalizeBeneficiaryInput(in BeneficiaryInput) BeneficiaryInput {
	in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
	if in.Type == "" {
		in.Type = BeneficiaryInternal
	}
	in.Name = strings.TrimSpace(in.Name)
	in.AccountNumber = strings.ReplaceAll(strings.TrimSpace(in.AccountNumber), " ", "")
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Country = strings.ToUpper(strings.TrimSpace(in.Country))
	in.Email = strings.TrimSpace(in.Email)
	if in.BankDetails != nil {
		details := *in.BankDetails
		details.SWIFT = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(details.SWIFT), " ", ""))
		details.BankName = strings.TrimSpace(details.BankName)
		in.BankDetails = &details
	}
	return in
}

// ValidateBeneficiaryInput checks a beneficiary before creation. The checks are
// advisory; the remote side may still reject the beneficiary.
func ValidateBeneficiaryInput(in BeneficiaryInput, currencies validation.CurrencySet) error {
	if len(currencies) == 0 {
		currencies = validation.DefaultCurrencies
	}
	verr := NewValidationError("invalid beneficiary")

	if in.Type != BeneficiaryInternal && in.Type != BeneficiaryExternal {
		verr.Add("type", "must be INTERNAL or EXTERNAL")
	}
	if in.Name == "" {
		verr.Add("name", "is required")
	}
	if in.AccountNumber == "" {
		verr.Add("accountNumber", "is required")
	} else if !validation.ValidateAccountNumber(in.AccountNumber) {
		verr.Add("accountNumber", "is not a valid IBAN or account number")
	}
	if !currencies.Validate(in.Currency) {
		verr.Add("currency", "must be one of "+strings.Join(currencies.Codes(), ", "))
	}
	if in.Email != "" && !validation.ValidateEmail(in.Email) {
		verr.Add("email", "is not a valid email address")
	}
	if in.Type == BeneficiaryExternal {
		if in.Country == "" {
			verr.Add("country", "is required for external beneficiaries")
		}
		if in.BankDetails == nil || in.BankDetails.SWIFT == "" {
			verr.Add("bankDetails.swift", "is required for external beneficiaries")
		}
	}
	if in.BankDetails != nil && in.BankDetails.SWIFT != "" && !validation.ValidateSWIFT(in.BankDetails.SWIFT) {
		verr.Add("bankDetails.swift", "is not a valid SWIFT/BIC code")
	}

	return verr.OrNil()
}
