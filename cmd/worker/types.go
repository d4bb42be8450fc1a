package main

import "github.com/shopcore/go-stock-reservation/internal/stock"

// ReleaseMessage is the payload sent from API -> SQS -> worker when a
// partially committed reservation needs compensating, or when an order is
// cancelled asynchronously.
type ReleaseMessage struct {
	OrderID        string           `json:"order_id,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
	Items          []stock.LineItem `json:"items"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
}
