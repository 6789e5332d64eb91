package models

import "time"

// PaymentOrder is the ephemeral gateway-side request to collect payment.
type PaymentOrder struct {
	ID        string    `json:"order_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the order is older than ttl relative to now.
func (o PaymentOrder) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || o.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(o.CreatedAt) > ttl
}
