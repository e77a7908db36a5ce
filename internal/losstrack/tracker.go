// Package losstrack ведёт себестоимость позиций и арифметику
// окупаемости фандинга.
package losstrack

import (
	"fmt"
	"sync"
	"time"

	"fundarb/pkg/utils"
)

// PositionEntry - вход в позицию
type PositionEntry struct {
	Symbol          string    `json:"symbol"`
	Venue           string    `json:"venue"`
	EntryCost       float64   `json:"entryCost"`
	PositionSizeUsd float64   `json:"positionSizeUsd"`
	StartTime       time.Time `json:"startTime"`
}

// PositionExit - выход из позиции
type PositionExit struct {
	Symbol      string    `json:"symbol"`
	Venue       string    `json:"venue"`
	ExitCost    float64   `json:"exitCost"`
	RealizedPnL float64   `json:"realizedPnl"`
	HoursHeld   float64   `json:"hoursHeld"`
	ExitTime    time.Time `json:"exitTime"`
}

// BreakEven - результат расчёта окупаемости позиции
type BreakEven struct {
	// Reachable=false: фандинг течёт против позиции, окупаемость
	// недостижима
	Reachable bool

	// Позиция уже окупила свои издержки
	AlreadyBreakEven bool

	// HourlyReturn - доход от фандинга в час, USD
	HourlyReturn float64

	// FeesEarnedSoFar - заработанный фандинг с момента входа, USD
	FeesEarnedSoFar float64

	// RemainingCost - неокупленные издержки, USD
	RemainingCost float64

	// RemainingHours - часов до окупаемости при текущей ставке
	RemainingHours float64
}

// Tracker - учёт входов, выходов и текущих позиций.
// Ключ текущих позиций - symbol_venue.
type Tracker struct {
	mu        sync.Mutex
	entries   []PositionEntry
	exits     []PositionExit
	current   map[string]*PositionEntry
	persister *persister
	logger    *utils.Logger

	// Инъекция времени для тестов
	now func() time.Time
}

// NewTracker создает трекер. При непустом dataDir состояние
// загружается с диска и сохраняется после каждой мутации
// (best-effort: ошибки записи логируются, работа продолжается).
func NewTracker(dataDir string, logger *utils.Logger) *Tracker {
	t := &Tracker{
		current: make(map[string]*PositionEntry),
		logger:  utils.EnsureLogger(logger).WithComponent("losstrack"),
		now:     time.Now,
	}
	if dataDir != "" {
		t.persister = newPersister(dataDir, t.logger)
		t.persister.load(&t.entries, &t.exits, t.current)
	}
	return t
}

func positionKey(symbol, venue string) string {
	return symbol + "_" + venue
}

// RecordEntry фиксирует вход в позицию
func (t *Tracker) RecordEntry(symbol, venue string, entryCost, positionSizeUsd float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ts.IsZero() {
		ts = t.now()
	}
	entry := PositionEntry{
		Symbol:          symbol,
		Venue:           venue,
		EntryCost:       entryCost,
		PositionSizeUsd: positionSizeUsd,
		StartTime:       ts,
	}
	t.entries = append(t.entries, entry)
	t.current[positionKey(symbol, venue)] = &entry
	t.persistLocked()

	t.logger.Info("position entry recorded",
		utils.Symbol(symbol),
		utils.Venue(venue),
		utils.Float64("entry_cost", entryCost),
		utils.Float64("size_usd", positionSizeUsd),
	)
}

// RecordExit фиксирует выход. Ошибка, если текущей позиции нет.
func (t *Tracker) RecordExit(symbol, venue string, exitCost, realizedPnL float64, ts time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ts.IsZero() {
		ts = t.now()
	}
	key := positionKey(symbol, venue)
	entry, ok := t.current[key]
	if !ok {
		return fmt.Errorf("no current position for %s on %s", symbol, venue)
	}

	exit := PositionExit{
		Symbol:      symbol,
		Venue:       venue,
		ExitCost:    exitCost,
		RealizedPnL: realizedPnL,
		HoursHeld:   utils.HoursBetween(entry.StartTime, ts),
		ExitTime:    ts,
	}
	t.exits = append(t.exits, exit)
	delete(t.current, key)
	t.persistLocked()

	t.logger.Info("position exit recorded",
		utils.Symbol(symbol),
		utils.Venue(venue),
		utils.Float64("exit_cost", exitCost),
		utils.Float64("realized_pnl", realizedPnL),
		utils.Float64("hours_held", exit.HoursHeld),
	)
	return nil
}

// CurrentPosition возвращает текущую позицию по символу и площадке
func (t *Tracker) CurrentPosition(symbol, venue string) (PositionEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.current[positionKey(symbol, venue)]
	if !ok {
		return PositionEntry{}, false
	}
	return *entry, true
}

// CurrentPositions возвращает снимок всех текущих позиций
func (t *Tracker) CurrentPositions() []PositionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PositionEntry, 0, len(t.current))
	for _, entry := range t.current {
		out = append(out, *entry)
	}
	return out
}

// ComputeBreakEven считает окупаемость живой позиции.
//
// fundingRate - ставка за период фандинга, знак по конвенции площадок:
// положительная ставка платит шорту.
//   - часовой доход = (short ? +1 : -1) × rate × valueUsd
//   - заработано = hoursHeld × часовой доход
//   - оценка выхода ≈ стоимости входа (симметричный мейкер)
//   - остаток = entryCost + estimatedExit − заработано
func (t *Tracker) ComputeBreakEven(symbol, venue string, isShort bool, hourlyFundingRate, valueUsd float64) (BreakEven, error) {
	t.mu.Lock()
	entry, ok := t.current[positionKey(symbol, venue)]
	if !ok {
		t.mu.Unlock()
		return BreakEven{}, fmt.Errorf("no current position for %s on %s", symbol, venue)
	}
	hoursHeld := utils.HoursBetween(entry.StartTime, t.now())
	entryCost := entry.EntryCost
	t.mu.Unlock()

	sign := -1.0
	if isShort {
		sign = 1.0
	}
	hourlyReturn := sign * hourlyFundingRate * valueUsd

	be := BreakEven{HourlyReturn: hourlyReturn}
	if hourlyReturn <= 0 {
		return be, nil
	}
	be.Reachable = true
	be.FeesEarnedSoFar = hoursHeld * hourlyReturn

	estimatedExitCost := entryCost
	be.RemainingCost = entryCost + estimatedExitCost - be.FeesEarnedSoFar
	if be.RemainingCost <= 0 {
		be.AlreadyBreakEven = true
		be.RemainingCost = 0
		return be, nil
	}
	be.RemainingHours = be.RemainingCost / hourlyReturn
	return be, nil
}

// SwitchingCost - полная цена перехода с позиции P1 на позицию P2:
// выход из P1, вход и будущий выход из P2, плюс потерянный прогресс:
// заработанный на P1 фандинг списывается, потому что закрытие
// реализует его только против издержек самой P1.
func (t *Tracker) SwitchingCost(p1Symbol, p1Venue string, p1ExitCost, p1FeesEarned, p2EntryCost, p2ExitCost float64) float64 {
	return p1ExitCost + p2EntryCost + p2ExitCost + p1FeesEarned
}

// CumulativeLoss - суммарный результат за всю историю:
// Σ издержек входов + Σ издержек выходов + Σ realized P&L (со знаком).
// Возвращается как есть, интерпретация знака - за вызывающим.
func (t *Tracker) CumulativeLoss() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, entry := range t.entries {
		total += entry.EntryCost
	}
	for _, exit := range t.exits {
		total += exit.ExitCost
		total += exit.RealizedPnL
	}
	return total
}

// Exits возвращает снимок истории выходов
func (t *Tracker) Exits() []PositionExit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PositionExit(nil), t.exits...)
}

// Entries возвращает снимок истории входов
func (t *Tracker) Entries() []PositionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PositionEntry(nil), t.entries...)
}

// persistLocked сохраняет состояние на диск. Вызывается под mu.
func (t *Tracker) persistLocked() {
	if t.persister == nil {
		return
	}
	t.persister.save(t.entries, t.exits, t.current)
}
