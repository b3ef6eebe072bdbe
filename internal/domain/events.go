package domain

import "time"

// WalletEvent is the envelope published for every SDK lifecycle event.
// The routing key is the event type.
type WalletEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id,omitempty"`
	ClientID   string         `json:"client_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}
