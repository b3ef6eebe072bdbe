package tropipay

import (
	"sync/atomic"
	"time"
)

// Account is a TropiPay account with every monetary field in display units.
type Account struct {
	AccountID  string  `json:"accountId"`
	Currency   string  `json:"currency"`
	Balance    float64 `json:"balance"`
	Available  float64 `json:"available"`
	Blocked    float64 `json:"blocked"`
	PendingIn  float64 `json:"pendingIn"`
	PendingOut float64 `json:"pendingOut"`
	IsDefault  bool    `json:"isDefault"`
	Status     string  `json:"status"`
}

// Beneficiary types.
const (
	BeneficiaryInternal = "INTERNAL"
	BeneficiaryExternal = "EXTERNAL"
)

type BankDetails struct {
	BankName string `json:"bankName,omitempty"`
	SWIFT    string `json:"swift,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Beneficiary is a saved transfer recipient.
type Beneficiary struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	Name          string       `json:"name"`
	AccountNumber string       `json:"accountNumber"`
	Currency      string       `json:"currency"`
	Country       string       `json:"country,omitempty"`
	Email         string       `json:"email,omitempty"`
	BankDetails   *BankDetails `json:"bankDetails,omitempty"`
	IsVerified    bool         `json:"isVerified"`
}

// BeneficiaryInput is the payload of a create call.
type BeneficiaryInput struct {
	Type          string       `json:"type"`
	Name          string       `json:"name"`
	AccountNumber string       `json:"accountNumber"`
	Currency      string       `json:"currency"`
	Country       string       `json:"country,omitempty"`
	Email         string       `json:"email,omitempty"`
	BankDetails   *BankDetails `json:"bankDetails,omitempty"`
}

// Movement is one entry of an account history, in display units.
type Movement struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	BalanceBefore float64   `json:"balanceBefore"`
	BalanceAfter  float64   `json:"balanceAfter"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Profile is the authenticated TropiPay user.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Phone         string `json:"phone,omitempty"`
	TwoFactorType string `json:"twoFactorType"`
	KYCLevel      int    `json:"kycLevel"`
}

// Second factor types.
const (
	FactorSMS           = "SMS"
	FactorAuthenticator = "AUTHENTICATOR"
)

// SecondFactor is the code supplied by the caller for a transfer that requires 2FA.
type SecondFactor struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// FactorTypeFor maps a profile's configured factor onto SMS or AUTHENTICATOR.
func FactorTypeFor(profile *Profile) string {
	if profile == nil {
		return FactorSMS
	}
	switch profile.TwoFactorType {
	case "2", "AUTHENTICATOR", "authenticator", "GOOGLE", "google":
		return FactorAuthenticator
	default:
		return FactorSMS
	}
}

// Page bounds a list call.
type Page struct {
	Offset int
	Limit  int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

func (p Page) normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// TransferRequest describes a transfer in display units.
type TransferRequest struct {
	FromAccountID string  `json:"accountId"`
	BeneficiaryID string  `json:"beneficiaryId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// Simulation is a non-binding transfer quote in display units. It is valid for
// exactly one execute call with the same parameters.
type Simulation struct {
	AmountToPay         float64            `json:"amountToPay"`
	AmountToReceive     float64            `json:"amountToReceive"`
	Fees                float64            `json:"fees"`
	ExchangeRate        float64            `json:"exchangeRate"`
	Requires2FA         bool               `json:"requires2FA"`
	AccountBalanceAfter float64            `json:"accountBalanceAfter"`
	Currency            string             `json:"currency,omitempty"`
	Breakdown           map[string]float64 `json:"breakdown,omitempty"`

	request  TransferRequest
	minor    int64
	consumed atomic.Bool
}

// Request returns the normalized parameters the simulation was computed for.
func (s *Simulation) Request() TransferRequest {
	return s.request
}

// Consumed reports whether an execute call already used this simulation.
func (s *Simulation) Consumed() bool {
	return s.consumed.Load()
}

// Recipient identifies who received a transfer.
type Recipient struct {
	BeneficiaryID string `json:"beneficiaryId,omitempty"`
	Name          string `json:"name,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
}

// TransferResult is the outcome of an execute call, in display units.
type TransferResult struct {
	TransferID     string    `json:"transferId"`
	Reference      string    `json:"reference"`
	Status         string    `json:"status"`
	AmountSent     float64   `json:"amountSent"`
	AmountReceived float64   `json:"amountReceived"`
	Fees           float64   `json:"fees"`
	Currency       string    `json:"currency,omitempty"`
	Recipient      Recipient `json:"recipient"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// SMSResult is the response of a security code request.
type SMSResult struct {
	Success bool `json:"success"`
	SkipSMS bool `json:"skipSMS,omitempty"`
}

// Session is a snapshot of the token manager state.
type Session struct {
	ClientID  string    `json:"client_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Profile   *Profile  `json:"profile,omitempty"`
	Accounts  []Account `json:"accounts"`
}
