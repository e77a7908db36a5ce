package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fundarb/internal/events"
	"fundarb/internal/models"
)

// LedgerRepository - работа с таблицей position_ledger
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository создает репозиторий позиционного журнала
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create добавляет строку журнала
func (r *LedgerRepository) Create(row *models.LedgerRow) error {
	if !row.Valid() {
		return fmt.Errorf("invalid ledger kind %q", row.Kind)
	}

	query := `
		INSERT INTO position_ledger (kind, symbol, venue, cost, value_usd, realized_pnl, hours_held, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	row.CreatedAt = time.Now()

	return r.db.QueryRow(
		query,
		row.Kind,
		row.Symbol,
		row.Venue,
		row.Cost,
		row.ValueUsd,
		row.RealizedPnL,
		row.HoursHeld,
		row.CreatedAt,
	).Scan(&row.ID)
}

const ledgerColumns = `id, kind, symbol, venue, cost, value_usd, realized_pnl, hours_held, created_at`

func scanLedgerRow(row interface{ Scan(...interface{}) error }) (*models.LedgerRow, error) {
	l := &models.LedgerRow{}
	err := row.Scan(
		&l.ID,
		&l.Kind,
		&l.Symbol,
		&l.Venue,
		&l.Cost,
		&l.ValueUsd,
		&l.RealizedPnL,
		&l.HoursHeld,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetRecent возвращает последние N строк журнала
func (r *LedgerRepository) GetRecent(limit int) ([]*models.LedgerRow, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM position_ledger
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerRow
	for rows.Next() {
		row, err := scanLedgerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBySymbol возвращает строки журнала символа
func (r *LedgerRepository) GetBySymbol(symbol string, limit int) ([]*models.LedgerRow, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM position_ledger
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerRow
	for rows.Next() {
		row, err := scanLedgerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Attach подписывает репозиторий на события входов и выходов.
// Ошибки записи возвращаются шине, которая их логирует: журнал
// best-effort и не мешает стратегии.
func (r *LedgerRepository) Attach(bus *events.Bus) []events.Subscription {
	return []events.Subscription{
		bus.Subscribe(events.TypePositionEntryRecorded, r.handleEntry),
		bus.Subscribe(events.TypePositionExitRecorded, r.handleExit),
	}
}

func (r *LedgerRepository) handleEntry(ctx context.Context, ev events.Event) error {
	entry, ok := ev.(*events.PositionEntryRecorded)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	return r.Create(&models.LedgerRow{
		Kind:     models.LedgerKindEntry,
		Symbol:   entry.Sym,
		Venue:    entry.Venue,
		Cost:     entry.EntryCost,
		ValueUsd: entry.SizeUsd,
	})
}

func (r *LedgerRepository) handleExit(ctx context.Context, ev events.Event) error {
	exit, ok := ev.(*events.PositionExitRecorded)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	return r.Create(&models.LedgerRow{
		Kind:        models.LedgerKindExit,
		Symbol:      exit.Sym,
		Venue:       exit.Venue,
		Cost:        exit.ExitCost,
		RealizedPnL: exit.RealizedPnL,
		HoursHeld:   exit.HoursHeld,
	})
}
