/**
 * @description
 * This file defines the local cache store used as a read fallback when the
 * TropiPay API is unreachable. Entries are keyed by internal user id; every save
 * replaces the user's previous list inside one transaction.
 *
 * @notes
 * - Amounts are persisted as integer minor units with their currency and are
 *   converted back to display units on read.
 * - The cache is never authoritative for balances.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tropiwallet/wallet-service/pkg/money"
	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

// ErrEmptyUserID is returned when a cache call has no user id.
var ErrEmptyUserID = errors.New("cache: user id is required")

// CacheRepository defines the contract for the local cache store.
type CacheRepository interface {
	SaveAccounts(ctx context.Context, userID string, accounts []tropipay.Account) error
	GetAccounts(ctx context.Context, userID string) ([]tropipay.Account, error)
	SaveBeneficiaries(ctx context.Context, userID string, beneficiaries []tropipay.Beneficiary) error
	GetBeneficiaries(ctx context.Context, userID string) ([]tropipay.Beneficiary, error)
	// ResolveUserID returns the stable internal user id for a TropiPay client id,
	// creating one on first use.
	ResolveUserID(ctx context.Context, clientID string) (string, error)
	// PruneBefore deletes cached rows written before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

type accountRow struct {
	accountID  string
	currency   string
	balance    int64
	available  int64
	blocked    int64
	pendingIn  int64
	pendingOut int64
	isDefault  bool
	status     string
}

func toAccountRow(a tropipay.Account) accountRow {
	balance := money.FromDisplay(a.Balance, a.Currency)
	return accountRow{
		accountID:  a.AccountID,
		currency:   balance.Currency,
		balance:    balance.Minor,
		available:  money.ToMinorUnits(a.Available),
		blocked:    money.ToMinorUnits(a.Blocked),
		pendingIn:  money.ToMinorUnits(a.PendingIn),
		pendingOut: money.ToMinorUnits(a.PendingOut),
		isDefault:  a.IsDefault,
		status:     a.Status,
	}
}

func (r accountRow) account() tropipay.Account {
	return tropipay.Account{
		AccountID:  r.accountID,
		Currency:   r.currency,
		Balance:    money.ToDisplayUnits(r.balance),
		Available:  money.ToDisplayUnits(r.available),
		Blocked:    money.ToDisplayUnits(r.blocked),
		PendingIn:  money.ToDisplayUnits(r.pendingIn),
		PendingOut: money.ToDisplayUnits(r.pendingOut),
		IsDefault:  r.isDefault,
		Status:     r.status,
	}
}

type beneficiaryRow struct {
	beneficiaryID string
	kind          string
	name          string
	accountNumber string
	currency      string
	country       string
	email         string
	bankDetails   []byte
	isVerified    bool
}

func toBeneficiaryRow(b tropipay.Beneficiary) (beneficiaryRow, error) {
	var details []byte
	if b.BankDetails != nil {
		encoded, err := json.Marshal(b.BankDetails)
		if err != nil {
			return beneficiaryRow{}, err
		}
		details = encoded
	}
	return beneficiaryRow{
		beneficiaryID: b.ID,
		kind:          b.Type,
		name:          b.Name,
		accountNumber: b.AccountNumber,
		currency:      b.Currency,
		country:       b.Country,
		email:         b.Email,
		bankDetails:   details,
		isVerified:    b.IsVerified,
	}, nil
}

func (r beneficiaryRow) beneficiary() tropipay.Beneficiary {
	b := tropipay.Beneficiary{
		ID:            r.beneficiaryID,
		Type:          r.kind,
		Name:          r.name,
		AccountNumber: r.accountNumber,
		Currency:      r.currency,
		Country:       r.country,
		Email:         r.email,
		IsVerified:    r.isVerified,
	}
	if len(r.bankDetails) > 0 {
		var details tropipay.BankDetails
		if err := json.Unmarshal(r.bankDetails, &details); err == nil {
			b.BankDetails = &details
		}
	}
	return b
}
