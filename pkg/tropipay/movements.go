package tropipay

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// MovementsService lists account history.
type MovementsService struct {
	client *Client
}

// List returns one page of movements for accountID, newest first as ordered remotely.
func (s *MovementsService) List(ctx context.Context, accountID string, page Page) ([]Movement, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		verr := NewValidationError("invalid account")
		verr.Add("accountId", "is required")
		return nil, verr
	}

	body, err := s.client.call(ctx, request{
		method: http.MethodGet,
		path:   "/api/accounts/" + url.PathEscape(accountID) + "/movements",
		query:  pageQuery(page),
	})
	if err != nil {
		return nil, err
	}
	wireMovements, err := decodeList[wireMovement](body)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "malformed movements response: " + err.Error(), Body: body}
	}

	movements := make([]Movement, 0, len(wireMovements))
	for _, w := range wireMovements {
		movements = append(movements, convertMovement(w))
	}
	return movements, nil
}
