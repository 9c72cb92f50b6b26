package models

import "time"

// PortfolioStats представляет агрегированную статистику портфеля.
// Вычисляется детерминированно из позиций и информации об аккаунте;
// процентные поля считают потребители (UI), здесь только суммы.
type PortfolioStats struct {
	TotalValue      float64 `json:"total_value"`      // Σ quantity * current_price
	TotalPnl        float64 `json:"total_pnl"`        // Σ pnl
	TodayPnl        float64 `json:"today_pnl"`        // Σ pnl_today
	ActivePositions int     `json:"active_positions"` // количество позиций
}

// AccountSnapshot - результат запроса данных аккаунта через сервис.
// Не персистится; живёт только в ответе и в TTL-кэше.
//
// Connected в успешном снапшоте всегда true; false встречается только
// в деградированном теле ошибки, которое handlers строят сами.
// Orders остаётся null, если ордера не запрашивались, и пустым
// массивом, если запрашивались, но их нет - вызывающий различает
// "не спрашивал" и "нет ордеров" по самому полю.
type AccountSnapshot struct {
	Connected   bool           `json:"connected"`
	Account     *AccountInfo   `json:"account"`
	Portfolio   []Position     `json:"positions"`
	Orders      []Order        `json:"orders"` // только при include_orders, иначе null
	Stats       PortfolioStats `json:"stats"`
	CacheHit    bool           `json:"cache_hit"`
	LastUpdated time.Time      `json:"last_updated"`
}
