package models

import "time"

// Виды строк позиционного журнала
const (
	LedgerKindEntry = "entry"
	LedgerKindExit  = "exit"
)

// LedgerRow - строка таблицы position_ledger: долговременный след
// входов и выходов трекера убытков
type LedgerRow struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"` // entry | exit
	Symbol      string    `json:"symbol"`
	Venue       string    `json:"venue"`
	Cost        float64   `json:"cost"`
	ValueUsd    float64   `json:"valueUsd"`    // нотационал входа
	RealizedPnL float64   `json:"realizedPnl"` // только для exit
	HoursHeld   float64   `json:"hoursHeld"`   // только для exit
	CreatedAt   time.Time `json:"createdAt"`
}

// Valid проверяет вид строки
func (r *LedgerRow) Valid() bool {
	return r.Kind == LedgerKindEntry || r.Kind == LedgerKindExit
}
