package models

import "time"

// Order представляет открытый отложенный ордер
type Order struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // "buy" или "sell"
	Type       string    `json:"type"` // "limit", "stop", "market"
	Quantity   float64   `json:"quantity"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	StopPrice  float64   `json:"stop_price,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Side constants for orders
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Order status constants
const (
	OrderStatusWorking   = "working"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)
