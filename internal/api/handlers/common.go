package handlers

import "brokergate/internal/models"

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Details    string `json:"details,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// DegradedResponse - тело ответа 500 для чтений данных аккаунта.
// Форма совпадает со снапшотом настолько, чтобы dashboard мог показать
// "disconnected" плитку вместо падения: connected=false и пустой
// список позиций вместо отсутствующих полей.
type DegradedResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Details   string            `json:"details,omitempty"`
	Connected bool              `json:"connected"`
	Positions []models.Position `json:"positions"`
}

// NewDegradedResponse строит деградированное тело с пустым списком позиций
func NewDegradedResponse(errMsg, code, details string) DegradedResponse {
	return DegradedResponse{
		Error:     errMsg,
		Code:      code,
		Details:   details,
		Connected: false,
		Positions: []models.Position{},
	}
}
