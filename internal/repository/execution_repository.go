// Package repository - PostgreSQL-хранилище исполнений, позиционного
// журнала и журнала событий. БД опциональна: keeper работает и с
// nil-репозиториями.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"fundarb/internal/executor"
	"fundarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория исполнений
var (
	ErrExecutionNotFound = errors.New("execution not found")
)

// ExecutionRepository - работа с таблицей executions
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository создает репозиторий исполнений
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create создает запись об исполнении
func (r *ExecutionRepository) Create(execution *models.Execution) error {
	query := `
		INSERT INTO executions (execution_id, symbol, long_venue, short_venue, size, slices_planned, slices_completed, long_filled, short_filled, success, abort_reason, duration_ms, slices_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	execution.CreatedAt = time.Now()

	return r.db.QueryRow(
		query,
		execution.ExecutionID,
		execution.Symbol,
		execution.LongVenue,
		execution.ShortVenue,
		execution.Size,
		execution.SlicesPlanned,
		execution.SlicesCompleted,
		execution.LongFilled,
		execution.ShortFilled,
		execution.Success,
		execution.AbortReason,
		execution.DurationMs,
		execution.SlicesJSON,
		execution.CreatedAt,
	).Scan(&execution.ID)
}

// SaveExecution переводит результат движка в строку таблицы.
// Реализует keeper.ExecutionSink.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, res *executor.Result) error {
	slicesJSON, err := json.Marshal(res.Slices)
	if err != nil {
		return err
	}

	var size float64
	if res.LongFilled > size {
		size = res.LongFilled
	}
	if res.ShortFilled > size {
		size = res.ShortFilled
	}

	return r.Create(&models.Execution{
		ExecutionID:     res.ExecutionID,
		Symbol:          res.Symbol,
		Size:            size,
		SlicesPlanned:   res.TotalSlices,
		SlicesCompleted: res.CompletedSlices,
		LongFilled:      res.LongFilled,
		ShortFilled:     res.ShortFilled,
		Success:         res.Success,
		AbortReason:     res.AbortReason,
		DurationMs:      res.Duration.Milliseconds(),
		SlicesJSON:      string(slicesJSON),
	})
}

const executionColumns = `id, execution_id, symbol, long_venue, short_venue, size, slices_planned, slices_completed, long_filled, short_filled, success, abort_reason, duration_ms, slices_json, created_at`

func scanExecution(row interface{ Scan(...interface{}) error }) (*models.Execution, error) {
	e := &models.Execution{}
	err := row.Scan(
		&e.ID,
		&e.ExecutionID,
		&e.Symbol,
		&e.LongVenue,
		&e.ShortVenue,
		&e.Size,
		&e.SlicesPlanned,
		&e.SlicesCompleted,
		&e.LongFilled,
		&e.ShortFilled,
		&e.Success,
		&e.AbortReason,
		&e.DurationMs,
		&e.SlicesJSON,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByExecutionID возвращает исполнение по его идентификатору
func (r *ExecutionRepository) GetByExecutionID(executionID string) (*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE execution_id = $1`

	execution, err := scanExecution(r.db.QueryRow(query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return execution, nil
}

// GetRecent возвращает последние N исполнений
func (r *ExecutionRepository) GetRecent(limit int) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return executions, nil
}

// GetBySymbol возвращает исполнения символа
func (r *ExecutionRepository) GetBySymbol(symbol string, limit int) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return executions, nil
}

// CountByOutcome возвращает количество исполнений с данным исходом
func (r *ExecutionRepository) CountByOutcome(success bool) (int, error) {
	query := `SELECT COUNT(*) FROM executions WHERE success = $1`

	var count int
	if err := r.db.QueryRow(query, success).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOlderThan удаляет исполнения старше указанной даты
func (r *ExecutionRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	query := `DELETE FROM executions WHERE created_at < $1`

	result, err := r.db.Exec(query, timestamp)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
