package service

import (
	"errors"
	"fmt"
	"log"

	"brokergate/internal/broker"
	"brokergate/internal/models"
	"brokergate/internal/repository"
	"brokergate/pkg/crypto"
)

// AccountStore - подмножество репозитория аккаунтов, нужное сервису
type AccountStore interface {
	GetByUserAndAccount(userID, accountID string) (*models.LinkedAccount, error)
	GetActive() ([]models.LinkedAccount, error)
	SetLastError(userID, accountID, lastError string) error
}

// AccountService отвечает за привязанные брокерские аккаунты:
// поиск привязки, расшифровка API ключа, учёт ошибок обновления.
//
// API ключи лежат в БД только в зашифрованном виде (AES-256-GCM);
// расшифрованный ключ живёт в памяти ровно столько, сколько нужен
// запросу к брокеру, и никогда не логируется.
type AccountService struct {
	store         AccountStore
	encryptionKey []byte
}

// NewAccountService создаёт сервис аккаунтов.
// Ключ шифрования обязан быть 32 байта (проверяется конфигом на старте).
func NewAccountService(store AccountStore, encryptionKey []byte) *AccountService {
	return &AccountService{
		store:         store,
		encryptionKey: encryptionKey,
	}
}

// ResolveCredentials находит привязку и возвращает расшифрованные
// креденшалы для запроса к брокеру
func (s *AccountService) ResolveCredentials(userID, accountID string) (broker.Credentials, error) {
	account, err := s.store.GetByUserAndAccount(userID, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return broker.Credentials{}, ErrAccountNotFound
		}
		return broker.Credentials{}, err
	}

	apiKey, err := crypto.Decrypt(account.APIKeyEncrypted, s.encryptionKey)
	if err != nil {
		return broker.Credentials{}, fmt.Errorf("decrypt api key for account %s: %w", accountID, err)
	}

	return broker.Credentials{
		APIKey:     apiKey,
		IsPractice: account.IsPractice,
	}, nil
}

// ListActive возвращает аккаунты, участвующие в фоновом обновлении
func (s *AccountService) ListActive() ([]models.LinkedAccount, error) {
	return s.store.GetActive()
}

// RecordRefreshError сохраняет текст последней ошибки обновления
// аккаунта. Ошибка записи в БД только логируется: учёт ошибок не
// должен ронять путь обновления.
func (s *AccountService) RecordRefreshError(userID, accountID string, refreshErr error) {
	if err := s.store.SetLastError(userID, accountID, refreshErr.Error()); err != nil {
		log.Printf("Failed to record refresh error for account %s: %v", accountID, err)
	}
}

// ClearRefreshError очищает последнюю ошибку после успешного обновления
func (s *AccountService) ClearRefreshError(userID, accountID string) {
	if err := s.store.SetLastError(userID, accountID, ""); err != nil {
		log.Printf("Failed to clear refresh error for account %s: %v", accountID, err)
	}
}
