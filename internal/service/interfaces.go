package service

import (
	"context"
	"time"

	"brokergate/internal/broker"
	"brokergate/internal/models"
)

// DataService - контракт слоя данных для HTTP handlers
type DataService interface {
	GetAccountData(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error)
	ForceRefreshAccountData(ctx context.Context, userID, accountID string, creds broker.Credentials, includeOrders bool) (*models.AccountSnapshot, error)
	CanMakeRequest(identifier string, limit float64) bool
	GetTimeUntilReset(identifier string) time.Duration
	HealthCheck() HealthStatus
}

// CredentialsResolver - контракт поиска креденшалов для handlers
type CredentialsResolver interface {
	ResolveCredentials(userID, accountID string) (broker.Credentials, error)
}

// Compile-time проверки соответствия реализаций контрактам
var (
	_ DataService         = (*AccountDataService)(nil)
	_ CredentialsResolver = (*AccountService)(nil)
	_ AccountDirectory    = (*AccountService)(nil)
	_ DataProvider        = (*AccountDataService)(nil)
)
