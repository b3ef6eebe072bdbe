package tropipay

import (
	"strings"

	"github.com/tropiwallet/wallet-service/pkg/money"
)

// Every converter builds a new value from the wire struct; wire values are never
// handed to callers.

func convertAccount(w wireAccount) Account {
	id := w.AccountID.String()
	if id == "" {
		id = w.ID.String()
	}
	return Account{
		AccountID:  id,
		Currency:   strings.ToUpper(w.Currency),
		Balance:    w.Balance.display(),
		Available:  w.Available.display(),
		Blocked:    w.Blocked.display(),
		PendingIn:  w.PendingIn.display(),
		PendingOut: w.PendingOut.display(),
		IsDefault:  bool(w.IsDefault),
		Status:     w.Status.String(),
	}
}

func convertAccounts(in []wireAccount) []Account {
	out := make([]Account, 0, len(in))
	for _, w := range in {
		out = append(out, convertAccount(w))
	}
	return out
}

func convertBeneficiary(w wireBeneficiary) Beneficiary {
	b := Beneficiary{
		ID:            w.ID.String(),
		Type:          strings.ToUpper(w.Type),
		Name:          w.Name,
		AccountNumber: w.AccountNumber,
		Currency:      strings.ToUpper(w.Currency),
		Country:       w.Country,
		Email:         w.Email,
		IsVerified:    bool(w.IsVerified),
	}
	if w.BankDetails != nil {
		b.BankDetails = &BankDetails{
			BankName: w.BankDetails.BankName,
			SWIFT:    w.BankDetails.SWIFT,
			Address:  w.BankDetails.Address,
		}
	}
	return b
}

func convertMovement(w wireMovement) Movement {
	return Movement{
		ID:            w.ID.String(),
		Type:          w.Type.String(),
		Amount:        w.Amount.display(),
		Currency:      strings.ToUpper(w.Currency),
		Status:        w.Status.String(),
		BalanceBefore: w.BalanceBefore.display(),
		BalanceAfter:  w.BalanceAfter.display(),
		Description:   w.Description,
		CreatedAt:     w.CreatedAt.Time(),
	}
}

func convertSimulation(w wireSimulation, req TransferRequest) *Simulation {
	sim := &Simulation{
		AmountToPay:         w.AmountToPay.display(),
		AmountToReceive:     w.AmountToReceive.display(),
		Fees:                w.Fees.display(),
		ExchangeRate:        w.ExchangeRate,
		Requires2FA:         bool(w.Requires2FA),
		AccountBalanceAfter: w.AccountBalanceAfter.display(),
		Currency:            strings.ToUpper(w.Currency),
		request:             req,
		minor:               money.ToMinorUnits(req.Amount),
	}
	if sim.Currency == "" {
		sim.Currency = req.Currency
	}
	if len(w.Breakdown) > 0 {
		sim.Breakdown = make(map[string]float64, len(w.Breakdown))
		for k, v := range w.Breakdown {
			sim.Breakdown[k] = v.display()
		}
	}
	return sim
}

func convertTransferResult(w wireTransferResult) *TransferResult {
	id := w.TransferID.String()
	if id == "" {
		id = w.ID.String()
	}
	return &TransferResult{
		TransferID:     id,
		Reference:      w.Reference,
		Status:         w.Status.String(),
		AmountSent:     w.AmountSent.display(),
		AmountReceived: w.AmountReceived.display(),
		Fees:           w.Fees.display(),
		Currency:       strings.ToUpper(w.Currency),
		Recipient: Recipient{
			BeneficiaryID: w.Recipient.BeneficiaryID.String(),
			Name:          w.Recipient.Name,
			AccountNumber: w.Recipient.AccountNumber,
		},
		CreatedAt: w.CreatedAt.Time(),
	}
}

func convertProfile(w wireProfile) *Profile {
	factor := w.TwoFactorType.String()
	if factor == "" {
		factor = w.TwoFaType.String()
	}
	return &Profile{
		ID:            w.ID.String(),
		Email:         w.Email,
		FirstName:     w.Name,
		LastName:      w.Surname,
		Phone:         w.Phone,
		TwoFactorType: factor,
		KYCLevel:      w.KYCLevel,
	}
}
