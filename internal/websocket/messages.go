package websocket

import (
	"time"

	"brokergate/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeSnapshotUpdate - свежий снапшот аккаунта
	// Отправляется после каждого успешного прохода фонового обновления
	MessageTypeSnapshotUpdate MessageType = "snapshotUpdate"

	// MessageTypeRefreshError - ошибка обновления аккаунта
	// Позволяет frontend показать, что данные аккаунта устарели
	MessageTypeRefreshError MessageType = "refreshError"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// SnapshotUpdateMessage - сообщение со свежим снапшотом аккаунта
//
// Содержит полный снапшот: позиции, сводку аккаунта, статистику
// портфеля. Frontend подменяет данные аккаунта без отдельного
// запроса к API.
type SnapshotUpdateMessage struct {
	BaseMessage
	UserID    string                  `json:"user_id"`
	AccountID string                  `json:"account_id"`
	Data      *models.AccountSnapshot `json:"data"`
}

// RefreshErrorMessage - сообщение об ошибке обновления аккаунта
type RefreshErrorMessage struct {
	BaseMessage
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// ============ Фабричные функции для создания сообщений ============

// NewSnapshotUpdateMessage создает сообщение со снапшотом аккаунта
func NewSnapshotUpdateMessage(userID, accountID string, snapshot *models.AccountSnapshot) *SnapshotUpdateMessage {
	return &SnapshotUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSnapshotUpdate,
			Timestamp: time.Now(),
		},
		UserID:    userID,
		AccountID: accountID,
		Data:      snapshot,
	}
}

// NewRefreshErrorMessage создает сообщение об ошибке обновления
func NewRefreshErrorMessage(userID, accountID string, err error) *RefreshErrorMessage {
	return &RefreshErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeRefreshError,
			Timestamp: time.Now(),
		},
		UserID:    userID,
		AccountID: accountID,
		Error:     err.Error(),
	}
}
