package models

import "time"

// Execution - строка таблицы executions: одно слайсированное
// исполнение целиком
type Execution struct {
	ID              int64     `json:"id"`
	ExecutionID     string    `json:"executionId"`
	Symbol          string    `json:"symbol"`
	LongVenue       string    `json:"longVenue"`
	ShortVenue      string    `json:"shortVenue"`
	Size            float64   `json:"size"`
	SlicesPlanned   int       `json:"slicesPlanned"`
	SlicesCompleted int       `json:"slicesCompleted"`
	LongFilled      float64   `json:"longFilled"`
	ShortFilled     float64   `json:"shortFilled"`
	Success         bool      `json:"success"`
	AbortReason     string    `json:"abortReason"`
	DurationMs      int64     `json:"durationMs"`
	SlicesJSON      string    `json:"slicesJson"` // детали слайсов как JSON
	CreatedAt       time.Time `json:"createdAt"`
}
