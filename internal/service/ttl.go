package service

import (
	"time"

	"brokergate/internal/models"
)

// TTLPolicy задаёт срок жизни кэша по типам данных
type TTLPolicy struct {
	Portfolio time.Duration
	Account   time.Duration
	Orders    time.Duration
	Positions time.Duration
}

// DefaultTTLPolicy возвращает доменные значения по умолчанию
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Portfolio: 5 * time.Minute,
		Account:   10 * time.Minute,
		Orders:    2 * time.Minute,
		Positions: 5 * time.Minute,
	}
}

// For возвращает TTL для типа данных
func (p TTLPolicy) For(requestType models.RequestType) time.Duration {
	switch requestType {
	case models.RequestTypeAccount:
		return p.Account
	case models.RequestTypeOrders:
		return p.Orders
	case models.RequestTypePositions:
		return p.Positions
	default:
		return p.Portfolio
	}
}
