package repository

import (
	"context"
	"database/sql"
	"time"

	"fundarb/internal/events"
	"fundarb/internal/models"
)

// EventRepository - работа с таблицей event_log (только append)
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает репозиторий журнала событий
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append добавляет строку журнала
func (r *EventRepository) Append(row *models.EventRow) error {
	query := `
		INSERT INTO event_log (event_id, type, severity, symbol, message, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	row.CreatedAt = time.Now()

	return r.db.QueryRow(
		query,
		row.EventID,
		row.Type,
		row.Severity,
		row.Symbol,
		row.Message,
		row.Meta,
		row.CreatedAt,
	).Scan(&row.ID)
}

const eventColumns = `id, event_id, type, severity, symbol, message, meta, created_at`

func scanEventRow(row interface{ Scan(...interface{}) error }) (*models.EventRow, error) {
	e := &models.EventRow{}
	err := row.Scan(
		&e.ID,
		&e.EventID,
		&e.Type,
		&e.Severity,
		&e.Symbol,
		&e.Message,
		&e.Meta,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetRecent возвращает последние N событий
func (r *EventRepository) GetRecent(limit int) ([]*models.EventRow, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM event_log
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.EventRow
	for rows.Next() {
		row, err := scanEventRow(rows)
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

// GetBySeverity возвращает последние N событий данной важности
func (r *EventRepository) GetBySeverity(severity string, limit int) ([]*models.EventRow, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM event_log
		WHERE severity = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, severity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.EventRow
	for rows.Next() {
		row, err := scanEventRow(rows)
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

// DeleteOlderThan удаляет события старше указанной даты
func (r *EventRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	query := `DELETE FROM event_log WHERE created_at < $1`

	result, err := r.db.Exec(query, timestamp)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Attach подписывает журнал на все типы доменных событий
func (r *EventRepository) Attach(bus *events.Bus) []events.Subscription {
	subs := make([]events.Subscription, 0, len(events.AllTypes()))
	for _, eventType := range events.AllTypes() {
		subs = append(subs, bus.Subscribe(eventType, r.handle))
	}
	return subs
}

func (r *EventRepository) handle(ctx context.Context, ev events.Event) error {
	meta, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.Append(&models.EventRow{
		EventID:  ev.ID(),
		Type:     ev.Type(),
		Severity: string(ev.Severity()),
		Symbol:   ev.Symbol(),
		Message:  ev.Message(),
		Meta:     string(meta),
	})
}
