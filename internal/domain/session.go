package domain

import (
	"time"

	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Environment  string `json:"environment,omitempty"`
}

// UserView is the authenticated user as returned to the UI.
type UserView struct {
	ID           string             `json:"id"`
	ClientID     string             `json:"client_id"`
	Profile      *tropipay.Profile  `json:"profile"`
	Accounts     []tropipay.Account `json:"accounts"`
	Token        string             `json:"token"`
	ExpiresAt    time.Time          `json:"expires_at"`
	SessionToken string             `json:"session_token,omitempty"`
}

// LoginResponse wraps the user view.
type LoginResponse struct {
	User UserView `json:"user"`
}

// ExecuteTransferRequest is a transfer plus the optional second factor.
type ExecuteTransferRequest struct {
	tropipay.TransferRequest
	SecurityCode     string `json:"securityCode,omitempty"`
	SecurityCodeType string `json:"securityCodeType,omitempty"`
}

// SMSRequest is the body of POST /transfer/request-sms/:userId.
type SMSRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// SMSResponse reports a security code request. Demo fields are set only in demo mode.
type SMSResponse struct {
	Success    bool   `json:"success"`
	SkipSMS    bool   `json:"skipSMS,omitempty"`
	IsDemoMode bool   `json:"isDemoMode,omitempty"`
	DemoCode   string `json:"demoCode,omitempty"`
}

// BeneficiaryValidation is the outcome of an advisory beneficiary check.
type BeneficiaryValidation struct {
	Valid  bool              `json:"valid"`
	Fields map[string]string `json:"fields"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
