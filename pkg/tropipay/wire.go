package tropipay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tropiwallet/wallet-service/pkg/money"
)

// minorAmount is an integer minor-unit amount as it appears on the TropiPay wire.
// It accepts JSON numbers, numeric strings and null.
type minorAmount int64

func (m *minorAmount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*m = 0
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*m = minorAmount(v)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid minor amount %q: %w", raw, err)
	}
	*m = minorAmount(money.RoundMinor(f))
	return nil
}

func (m minorAmount) display() float64 {
	return money.ToDisplayUnits(int64(m))
}

// flexString decodes identifiers and codes that the API sends as either strings or numbers.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var v string
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(string(trimmed))
	return nil
}

func (s flexString) String() string { return string(s) }

// flexBool decodes booleans sent as true/false, 0/1 or "true"/"false".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	switch raw {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// flexTime accepts RFC 3339 timestamps, "2006-01-02 15:04:05" and unix milliseconds.
// Anything else decodes to the zero time.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*t = flexTime{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*t = flexTime(parsed.UTC())
			return nil
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*t = flexTime(time.UnixMilli(ms).UTC())
		return nil
	}
	*t = flexTime{}
	return nil
}

func (t flexTime) Time() time.Time { return time.Time(t) }

// decodeList accepts either a bare JSON array or {"rows": [...], "count": n}.
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return []T{}, nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var envelope struct {
		Rows  []T `json:"rows"`
		Data  []T `json:"data"`
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	switch {
	case envelope.Rows != nil:
		return envelope.Rows, nil
	case envelope.Data != nil:
		return envelope.Data, nil
	case envelope.Items != nil:
		return envelope.Items, nil
	}
	return []T{}, nil
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

type wireProfile struct {
	ID            flexString `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Surname       string     `json:"surname"`
	Phone         string     `json:"phone"`
	TwoFactorType flexString `json:"twoFactorType"`
	TwoFaType     flexString `json:"twoFaType"`
	KYCLevel      int        `json:"kycLevel"`
}

type wireAccount struct {
	ID         flexString  `json:"id"`
	AccountID  flexString  `json:"accountId"`
	Currency   string      `json:"currency"`
	Balance    minorAmount `json:"balance"`
	Available  minorAmount `json:"available"`
	Blocked    minorAmount `json:"blocked"`
	PendingIn  minorAmount `json:"pendingIn"`
	PendingOut minorAmount `json:"pendingOut"`
	IsDefault  flexBool    `json:"isDefault"`
	Status     flexString  `json:"status"`
}

type wireBankDetails struct {
	BankName string `json:"bankName"`
	SWIFT    string `json:"swift"`
	Address  string `json:"address"`
}

type wireBeneficiary struct {
	ID            flexString       `json:"id"`
	Type          string           `json:"type"`
	Name          string           `json:"name"`
	AccountNumber string           `json:"accountNumber"`
	Currency      string           `json:"currency"`
	Country       string           `json:"country"`
	Email         string           `json:"email"`
	BankDetails   *wireBankDetails `json:"bankDetails"`
	IsVerified    flexBool         `json:"isVerified"`
}

type wireMovement struct {
	ID            flexString  `json:"id"`
	Type          flexString  `json:"type"`
	Amount        minorAmount `json:"amount"`
	Currency      string      `json:"currency"`
	Status        flexString  `json:"status"`
	BalanceBefore minorAmount `json:"balanceBefore"`
	BalanceAfter  minorAmount `json:"balanceAfter"`
	CreatedAt     flexTime    `json:"createdAt"`
	Description   string      `json:"description"`
}

type wireTransferRequest struct {
	AccountID        string `json:"accountId"`
	BeneficiaryID    string `json:"beneficiaryId"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency,omitempty"`
	Reason           string `json:"reason,omitempty"`
	SecurityCode     string `json:"securityCode,omitempty"`
	SecurityCodeType string `json:"securityCodeType,omitempty"`
}

type wireSimulation struct {
	AmountToPay         minorAmount            `json:"amountToPay"`
	AmountToReceive     minorAmount            `json:"amountToReceive"`
	Fees                minorAmount            `json:"fees"`
	ExchangeRate        float64                `json:"exchangeRate"`
	Requires2FA         flexBool               `json:"requires2FA"`
	AccountBalanceAfter minorAmount            `json:"accountBalanceAfter"`
	Currency            string                 `json:"currency"`
	DestinationCurrency string                 `json:"destinationCurrency"`
	Breakdown           map[string]minorAmount `json:"breakdown"`
}

type wireRecipient struct {
	BeneficiaryID flexString `json:"beneficiaryId"`
	Name          string     `json:"name"`
	AccountNumber string     `json:"accountNumber"`
}

type wireTransferResult struct {
	ID             flexString    `json:"id"`
	TransferID     flexString    `json:"transferId"`
	Reference      string        `json:"reference"`
	Status         flexString    `json:"status"`
	AmountSent     minorAmount   `json:"amountSent"`
	AmountReceived minorAmount   `json:"amountReceived"`
	Fees           minorAmount   `json:"fees"`
	Currency       string        `json:"currency"`
	Recipient      wireRecipient `json:"recipient"`
	CreatedAt      flexTime      `json:"createdAt"`
}

type smsRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type smsResponse struct {
	Success flexBool `json:"success"`
	SkipSMS flexBool `json:"skipSMS"`
}
