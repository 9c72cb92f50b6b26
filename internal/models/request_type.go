package models

import "fmt"

// RequestType определяет вид данных аккаунта, запрашиваемых у брокера.
//
// Закрытый набор значений: portfolio, account, orders, positions.
// Внутри сервиса тип всегда валиден (закрытое перечисление),
// runtime-ошибка "unknown type" возможна только на границе системы,
// где тип парсится из внешнего ввода (ParseRequestType).
type RequestType string

const (
	RequestTypePortfolio RequestType = "portfolio" // позиции + агрегированная статистика
	RequestTypeAccount   RequestType = "account"   // информация об аккаунте (кэш, валюта)
	RequestTypeOrders    RequestType = "orders"    // открытые отложенные ордера
	RequestTypePositions RequestType = "positions" // сырой список позиций
)

// AllRequestTypes - все валидные типы запросов (для валидации и тестов)
var AllRequestTypes = []RequestType{
	RequestTypePortfolio,
	RequestTypeAccount,
	RequestTypeOrders,
	RequestTypePositions,
}

// ParseRequestType парсит тип запроса из внешнего ввода.
// Возвращает ошибку с перечислением валидных значений для неизвестного типа.
func ParseRequestType(s string) (RequestType, error) {
	switch RequestType(s) {
	case RequestTypePortfolio, RequestTypeAccount, RequestTypeOrders, RequestTypePositions:
		return RequestType(s), nil
	}
	return "", fmt.Errorf("unknown request type %q, valid types: portfolio, account, orders, positions", s)
}

// Valid возвращает true для известного типа запроса
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypePortfolio, RequestTypeAccount, RequestTypeOrders, RequestTypePositions:
		return true
	}
	return false
}

// String возвращает строковое представление типа
func (t RequestType) String() string {
	return string(t)
}
