package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы доменных событий
const (
	TypeExecutionCompleted    = "execution.completed"
	TypeExecutionAborted      = "execution.aborted"
	TypeSingleLegDetected     = "single_leg.detected"
	TypeSingleLegResolved     = "single_leg.resolved"
	TypeRebalanceDecided      = "rebalance.decided"
	TypeOpportunityRejected   = "opportunity.rejected"
	TypeExternalRateLimit     = "ratelimit.external"
	TypePositionEntryRecorded = "position.entry_recorded"
	TypePositionExitRecorded  = "position.exit_recorded"
	TypeKeeperPaused          = "keeper.paused"
	TypeKeeperResumed         = "keeper.resumed"
)

// AllTypes возвращает все типы доменных событий. Используется
// подписчиками, которым нужен весь поток (журнал, WebSocket).
func AllTypes() []string {
	return []string{
		TypeExecutionCompleted,
		TypeExecutionAborted,
		TypeSingleLegDetected,
		TypeSingleLegResolved,
		TypeRebalanceDecided,
		TypeOpportunityRejected,
		TypeExternalRateLimit,
		TypePositionEntryRecorded,
		TypePositionExitRecorded,
		TypeKeeperPaused,
		TypeKeeperResumed,
	}
}

// Severity события для журнала и UI
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event - доменное событие шины
type Event interface {
	Type() string
	ID() string
	At() time.Time
	Severity() Severity
	// Symbol возвращает нормализованный символ события,
	// пустая строка для событий без привязки к символу
	Symbol() string
	// Message - человекочитаемое описание для журнала
	Message() string
}

// BaseEvent - общая часть всех событий
type BaseEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Sev       Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

func newBase(eventType string, sev Severity) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Sev:       sev,
		Timestamp: time.Now().UTC(),
	}
}

func (e BaseEvent) Type() string       { return e.EventType }
func (e BaseEvent) ID() string         { return e.EventID }
func (e BaseEvent) At() time.Time      { return e.Timestamp }
func (e BaseEvent) Severity() Severity { return e.Sev }
func (e BaseEvent) Symbol() string     { return "" }

// ============================================================
// События исполнения
// ============================================================

// ExecutionCompleted - обе ноги открыты (или закрыты) полностью
type ExecutionCompleted struct {
	BaseEvent
	ExecutionID string  `json:"executionId"`
	Sym         string  `json:"symbol"`
	LongVenue   string  `json:"longVenue"`
	ShortVenue  string  `json:"shortVenue"`
	SizeUsd     float64 `json:"sizeUsd"`
	Slices      int     `json:"slices"`
	DurationMs  int64   `json:"durationMs"`
}

func NewExecutionCompleted(executionID, symbol, longVenue, shortVenue string, sizeUsd float64, slices int, duration time.Duration) *ExecutionCompleted {
	return &ExecutionCompleted{
		BaseEvent:   newBase(TypeExecutionCompleted, SeverityInfo),
		ExecutionID: executionID,
		Sym:         symbol,
		LongVenue:   longVenue,
		ShortVenue:  shortVenue,
		SizeUsd:     sizeUsd,
		Slices:      slices,
		DurationMs:  duration.Milliseconds(),
	}
}

func (e *ExecutionCompleted) Symbol() string { return e.Sym }
func (e *ExecutionCompleted) Message() string {
	return fmt.Sprintf("execution %s completed: %s long=%s short=%s $%.2f in %d slices",
		e.ExecutionID, e.Sym, e.LongVenue, e.ShortVenue, e.SizeUsd, e.Slices)
}

// ExecutionAborted - исполнение остановлено до завершения
type ExecutionAborted struct {
	BaseEvent
	ExecutionID string `json:"executionId"`
	Sym         string `json:"symbol"`
	Reason      string `json:"reason"`
	SliceIndex  int    `json:"sliceIndex"`
}

func NewExecutionAborted(executionID, symbol, reason string, sliceIndex int) *ExecutionAborted {
	return &ExecutionAborted{
		BaseEvent:   newBase(TypeExecutionAborted, SeverityWarning),
		ExecutionID: executionID,
		Sym:         symbol,
		Reason:      reason,
		SliceIndex:  sliceIndex,
	}
}

func (e *ExecutionAborted) Symbol() string { return e.Sym }
func (e *ExecutionAborted) Message() string {
	return fmt.Sprintf("execution %s aborted at slice %d: %s", e.ExecutionID, e.SliceIndex, e.Reason)
}

// ============================================================
// Одиночные ноги
// ============================================================

// SingleLegDetected - открыта только одна нога дельта-нейтральной пары
type SingleLegDetected struct {
	BaseEvent
	ExecutionID string  `json:"executionId"`
	Sym         string  `json:"symbol"`
	Venue       string  `json:"venue"`
	Side        string  `json:"side"`
	SizeUsd     float64 `json:"sizeUsd"`
	Source      string  `json:"source"` // execution | reconcile
}

func NewSingleLegDetected(executionID, symbol, venue, side string, sizeUsd float64, source string) *SingleLegDetected {
	return &SingleLegDetected{
		BaseEvent:   newBase(TypeSingleLegDetected, SeverityCritical),
		ExecutionID: executionID,
		Sym:         symbol,
		Venue:       venue,
		Side:        side,
		SizeUsd:     sizeUsd,
		Source:      source,
	}
}

func (e *SingleLegDetected) Symbol() string { return e.Sym }
func (e *SingleLegDetected) Message() string {
	return fmt.Sprintf("single leg detected: %s %s %s $%.2f (%s)", e.Sym, e.Venue, e.Side, e.SizeUsd, e.Source)
}

// SingleLegResolved - одиночная нога закрыта или достроена
type SingleLegResolved struct {
	BaseEvent
	ExecutionID string `json:"executionId"`
	Sym         string `json:"symbol"`
	Venue       string `json:"venue"`
	Resolution  string `json:"resolution"` // closed | completed
}

func NewSingleLegResolved(executionID, symbol, venue, resolution string) *SingleLegResolved {
	return &SingleLegResolved{
		BaseEvent:   newBase(TypeSingleLegResolved, SeverityInfo),
		ExecutionID: executionID,
		Sym:         symbol,
		Venue:       venue,
		Resolution:  resolution,
	}
}

func (e *SingleLegResolved) Symbol() string { return e.Sym }
func (e *SingleLegResolved) Message() string {
	return fmt.Sprintf("single leg resolved: %s %s (%s)", e.Sym, e.Venue, e.Resolution)
}

// ============================================================
// Решения стратегии
// ============================================================

// RebalanceDecided - принято решение о ребалансе позиции
type RebalanceDecided struct {
	BaseEvent
	FromSymbol   string  `json:"fromSymbol"`
	ToSymbol     string  `json:"toSymbol"`
	Reason       string  `json:"reason"`
	NetBenefit   float64 `json:"netBenefit"`
	SwitchCost   float64 `json:"switchCost"`
}

func NewRebalanceDecided(fromSymbol, toSymbol, reason string, netBenefit, switchCost float64) *RebalanceDecided {
	return &RebalanceDecided{
		BaseEvent:  newBase(TypeRebalanceDecided, SeverityInfo),
		FromSymbol: fromSymbol,
		ToSymbol:   toSymbol,
		Reason:     reason,
		NetBenefit: netBenefit,
		SwitchCost: switchCost,
	}
}

func (e *RebalanceDecided) Symbol() string { return e.ToSymbol }
func (e *RebalanceDecided) Message() string {
	return fmt.Sprintf("rebalance %s -> %s: %s (benefit $%.2f, cost $%.2f)",
		e.FromSymbol, e.ToSymbol, e.Reason, e.NetBenefit, e.SwitchCost)
}

// OpportunityRejected - кандидат отвергнут оценщиком
type OpportunityRejected struct {
	BaseEvent
	Sym    string `json:"symbol"`
	Reason string `json:"reason"`
}

func NewOpportunityRejected(symbol, reason string) *OpportunityRejected {
	return &OpportunityRejected{
		BaseEvent: newBase(TypeOpportunityRejected, SeverityInfo),
		Sym:       symbol,
		Reason:    reason,
	}
}

func (e *OpportunityRejected) Symbol() string { return e.Sym }
func (e *OpportunityRejected) Message() string {
	return fmt.Sprintf("opportunity rejected: %s (%s)", e.Sym, e.Reason)
}

// ============================================================
// Инфраструктурные события
// ============================================================

// ExternalRateLimit - площадка ответила 429
type ExternalRateLimit struct {
	BaseEvent
	Venue      string `json:"venue"`
	CooldownMs int64  `json:"cooldownMs"`
	Operation  string `json:"operation"`
}

func NewExternalRateLimit(venue, operation string, cooldown time.Duration) *ExternalRateLimit {
	return &ExternalRateLimit{
		BaseEvent:  newBase(TypeExternalRateLimit, SeverityWarning),
		Venue:      venue,
		CooldownMs: cooldown.Milliseconds(),
		Operation:  operation,
	}
}

func (e *ExternalRateLimit) Message() string {
	return fmt.Sprintf("external rate limit on %s during %s, cooldown %dms", e.Venue, e.Operation, e.CooldownMs)
}

// PositionEntryRecorded - трекер зафиксировал вход в позицию
type PositionEntryRecorded struct {
	BaseEvent
	Sym       string  `json:"symbol"`
	Venue     string  `json:"venue"`
	EntryCost float64 `json:"entryCost"`
	SizeUsd   float64 `json:"sizeUsd"`
}

func NewPositionEntryRecorded(symbol, venue string, entryCost, sizeUsd float64) *PositionEntryRecorded {
	return &PositionEntryRecorded{
		BaseEvent: newBase(TypePositionEntryRecorded, SeverityInfo),
		Sym:       symbol,
		Venue:     venue,
		EntryCost: entryCost,
		SizeUsd:   sizeUsd,
	}
}

func (e *PositionEntryRecorded) Symbol() string { return e.Sym }
func (e *PositionEntryRecorded) Message() string {
	return fmt.Sprintf("position entry: %s on %s cost $%.4f size $%.2f", e.Sym, e.Venue, e.EntryCost, e.SizeUsd)
}

// PositionExitRecorded - трекер зафиксировал выход из позиции
type PositionExitRecorded struct {
	BaseEvent
	Sym         string  `json:"symbol"`
	Venue       string  `json:"venue"`
	ExitCost    float64 `json:"exitCost"`
	RealizedPnL float64 `json:"realizedPnl"`
	HoursHeld   float64 `json:"hoursHeld"`
}

func NewPositionExitRecorded(symbol, venue string, exitCost, realizedPnL, hoursHeld float64) *PositionExitRecorded {
	return &PositionExitRecorded{
		BaseEvent:   newBase(TypePositionExitRecorded, SeverityInfo),
		Sym:         symbol,
		Venue:       venue,
		ExitCost:    exitCost,
		RealizedPnL: realizedPnL,
		HoursHeld:   hoursHeld,
	}
}

func (e *PositionExitRecorded) Symbol() string { return e.Sym }
func (e *PositionExitRecorded) Message() string {
	return fmt.Sprintf("position exit: %s on %s cost $%.4f pnl $%.4f after %.1fh",
		e.Sym, e.Venue, e.ExitCost, e.RealizedPnL, e.HoursHeld)
}

// KeeperPaused - оператор остановил принятие новых сделок
type KeeperPaused struct {
	BaseEvent
	Reason string `json:"reason"`
}

func NewKeeperPaused(reason string) *KeeperPaused {
	return &KeeperPaused{BaseEvent: newBase(TypeKeeperPaused, SeverityWarning), Reason: reason}
}

func (e *KeeperPaused) Message() string {
	return fmt.Sprintf("keeper paused: %s", e.Reason)
}

// KeeperResumed - работа возобновлена
type KeeperResumed struct {
	BaseEvent
}

func NewKeeperResumed() *KeeperResumed {
	return &KeeperResumed{BaseEvent: newBase(TypeKeeperResumed, SeverityInfo)}
}

func (e *KeeperResumed) Message() string { return "keeper resumed" }
