package repository

import (
	"database/sql"
	"errors"
	"time"

	"brokergate/internal/models"
)

// Ошибки репозитория аккаунтов
var (
	ErrAccountNotFound = errors.New("linked account not found")
)

// AccountRepository - работа с таблицей linked_accounts
//
// Назначение: Data Access Layer для привязанных брокерских аккаунтов.
// API ключ хранится только в зашифрованном виде (AES-256-GCM, base64),
// расшифровка выполняется сервисным слоем.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create создает привязку брокерского аккаунта к пользователю
func (r *AccountRepository) Create(account *models.LinkedAccount) error {
	query := `
		INSERT INTO linked_accounts (user_id, account_id, api_key_encrypted, is_practice, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	return r.db.QueryRow(query,
		account.UserID,
		account.AccountID,
		account.APIKeyEncrypted,
		account.IsPractice,
		account.Active,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)
}

// GetByUserAndAccount возвращает привязку по паре (user_id, account_id)
func (r *AccountRepository) GetByUserAndAccount(userID, accountID string) (*models.LinkedAccount, error) {
	query := `
		SELECT id, user_id, account_id, api_key_encrypted, is_practice, active, last_error, created_at, updated_at
		FROM linked_accounts
		WHERE user_id = $1 AND account_id = $2`

	account := &models.LinkedAccount{}
	err := r.db.QueryRow(query, userID, accountID).Scan(
		&account.ID,
		&account.UserID,
		&account.AccountID,
		&account.APIKeyEncrypted,
		&account.IsPractice,
		&account.Active,
		&account.LastError,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return account, nil
}

// GetActive возвращает все активные привязки (для фонового обновления)
func (r *AccountRepository) GetActive() ([]models.LinkedAccount, error) {
	query := `
		SELECT id, user_id, account_id, api_key_encrypted, is_practice, active, last_error, created_at, updated_at
		FROM linked_accounts
		WHERE active = true
		ORDER BY id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.LinkedAccount{}
	for rows.Next() {
		var account models.LinkedAccount
		if err := rows.Scan(
			&account.ID,
			&account.UserID,
			&account.AccountID,
			&account.APIKeyEncrypted,
			&account.IsPractice,
			&account.Active,
			&account.LastError,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// SetLastError записывает последнюю ошибку обновления аккаунта.
// Пустая строка очищает ошибку (успешное обновление).
func (r *AccountRepository) SetLastError(userID, accountID, lastError string) error {
	query := `
		UPDATE linked_accounts
		SET last_error = $1, updated_at = $2
		WHERE user_id = $3 AND account_id = $4`

	result, err := r.db.Exec(query, lastError, time.Now(), userID, accountID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// SetActive включает или выключает привязку
func (r *AccountRepository) SetActive(userID, accountID string, active bool) error {
	query := `
		UPDATE linked_accounts
		SET active = $1, updated_at = $2
		WHERE user_id = $3 AND account_id = $4`

	result, err := r.db.Exec(query, active, time.Now(), userID, accountID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// Delete удаляет привязку аккаунта
func (r *AccountRepository) Delete(userID, accountID string) error {
	query := `DELETE FROM linked_accounts WHERE user_id = $1 AND account_id = $2`

	result, err := r.db.Exec(query, userID, accountID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
