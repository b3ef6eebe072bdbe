package tropipay

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// AccountsService reads the user's TropiPay accounts.
type AccountsService struct {
	client *Client
}

// GetAll returns every account in display units.
func (s *AccountsService) GetAll(ctx context.Context) ([]Account, error) {
	body, err := s.client.call(ctx, request{method: http.MethodGet, path: "/api/accounts"})
	if err != nil {
		return nil, err
	}
	wireAccounts, err := decodeList[wireAccount](body)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "malformed accounts response: " + err.Error(), Body: body}
	}
	accounts := convertAccounts(wireAccounts)
	s.client.Auth.setAccounts(accounts)
	return accounts, nil
}

// Get returns one account.
func (s *AccountsService) Get(ctx context.Context, accountID string) (*Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		verr := NewValidationError("invalid account")
		verr.Add("accountId", "is required")
		return nil, verr
	}
	var w wireAccount
	if err := s.client.callJSON(ctx, request{
		method: http.MethodGet,
		path:   "/api/accounts/" + url.PathEscape(accountID),
	}, &w); err != nil {
		return nil, err
	}
	account := convertAccount(w)
	return &account, nil
}
