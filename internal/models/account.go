package models

import "time"

// AccountInfo представляет сводную информацию о брокерском аккаунте
type AccountInfo struct {
	AccountID string    `json:"account_id"`
	Currency  string    `json:"currency"`
	Cash      float64   `json:"cash"`      // свободные средства
	Invested  float64   `json:"invested"`  // стоимость открытых позиций
	Total     float64   `json:"total"`     // общая стоимость аккаунта
	Practice  bool      `json:"practice"`  // practice (демо) аккаунт
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkedAccount представляет привязанный брокерский аккаунт пользователя.
// API ключ хранится зашифрованным (AES-256-GCM) и не сериализуется в JSON.
type LinkedAccount struct {
	ID              int       `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	AccountID       string    `json:"account_id" db:"account_id"`
	APIKeyEncrypted string    `json:"-" db:"api_key_encrypted"`
	IsPractice      bool      `json:"is_practice" db:"is_practice"`
	Active          bool      `json:"active" db:"active"` // участвует в фоновом обновлении
	LastError       string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
