package models

import "time"

// Position представляет открытую позицию в портфеле брокерского аккаунта
type Position struct {
	Symbol       string    `json:"symbol"`        // тикер инструмента
	Quantity     float64   `json:"quantity"`      // количество (может быть дробным)
	AveragePrice float64   `json:"average_price"` // средняя цена входа
	CurrentPrice float64   `json:"current_price"` // текущая рыночная цена
	Pnl          float64   `json:"pnl"`           // нереализованный PNL по позиции
	PnlToday     float64   `json:"pnl_today"`     // дневное изменение PNL (отдаёт брокер)
	Currency     string    `json:"currency"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MarketValue возвращает текущую стоимость позиции
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}
