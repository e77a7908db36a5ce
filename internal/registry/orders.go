package registry

import (
	"fmt"
	"sync"
	"time"

	"fundarb/pkg/utils"
)

const (
	// Активная запись старше этого порога вытесняется при регистрации
	// нового ордера по тому же ключу
	orderStaleThreshold = 10 * time.Minute

	// Размер истории завершённых ордеров
	historyCapacity = 100

	// TTL отметки о последнем завершённом исполнении символа
	completionTTL = time.Hour
)

// OrderKey - ключ активного ордера
type OrderKey struct {
	Venue  string
	Symbol string
	Side   string
}

func (k OrderKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Venue, k.Symbol, k.Side)
}

// OrderRecord - запись реестра ордеров
type OrderRecord struct {
	Key         OrderKey
	OrderID     string
	ExecutionID string
	Size        float64
	FilledSize  float64

	// InitialPositionSize - позиция на площадке в момент размещения.
	// База для детекции заполнения по дельте позиции: существовавшая
	// до ордера позиция не считается заполнением.
	InitialPositionSize float64

	Status       OrderStatus
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// SingleLegRecord - незакрытая одиночная нога, оставшаяся после
// неудавшегося отката. Устанавливается движком исполнения,
// снимается монитором безопасности.
type SingleLegRecord struct {
	ExecutionID string
	Symbol      string
	Venue       string
	Side        string
	SizeUsd     float64
	DetectedAt  time.Time
	Source      string
}

// OrderRegistry отслеживает активные ордера и защищает от дублей.
// Все мутации сериализованы одним mutex'ом.
type OrderRegistry struct {
	mu          sync.Mutex
	active      map[OrderKey]*OrderRecord
	history     []*OrderRecord
	completions map[string]time.Time
	singleLegs  map[string]*SingleLegRecord
	logger      *utils.Logger

	// Инъекция времени для тестов
	now func() time.Time
}

// NewOrderRegistry создает пустой реестр
func NewOrderRegistry(logger *utils.Logger) *OrderRegistry {
	return &OrderRegistry{
		active:      make(map[OrderKey]*OrderRecord),
		completions: make(map[string]time.Time),
		singleLegs:  make(map[string]*SingleLegRecord),
		logger:      utils.EnsureLogger(logger).WithComponent("registry"),
		now:         time.Now,
	}
}

// RegisterOrderPlacing создает запись перед отправкой ордера.
// Вторая активная запись по тому же ключу запрещена - это главная
// защита от гонки с дублирующим ордером. Подвисшая запись (старше
// 10 минут) вытесняется с предупреждением.
func (r *OrderRegistry) RegisterOrderPlacing(key OrderKey, executionID string, size, initialPositionSize float64) (*OrderRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.active[key]; ok {
		age := now.Sub(existing.RegisteredAt)
		if age < orderStaleThreshold {
			return nil, fmt.Errorf("duplicate order refused: active order exists for %s (age %s, status %s)",
				key, age.Round(time.Second), existing.Status)
		}
		r.logger.Warn("evicting stale order record",
			utils.Venue(key.Venue),
			utils.Symbol(key.Symbol),
			utils.Side(key.Side),
			utils.String("age", age.String()),
			utils.State(string(existing.Status)),
		)
		delete(r.active, key)
	}

	record := &OrderRecord{
		Key:                 key,
		ExecutionID:         executionID,
		Size:                size,
		InitialPositionSize: initialPositionSize,
		Status:              StatusPlacing,
		RegisteredAt:        now,
		UpdatedAt:           now,
	}
	r.active[key] = record
	return record, nil
}

// UpdateOrderStatus переводит запись в новый статус.
// Терминальный статус перемещает запись в историю.
// Повтор терминального статуса идемпотентен.
func (r *OrderRegistry) UpdateOrderStatus(key OrderKey, status OrderStatus, orderID string, filledSize float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.active[key]
	if !ok {
		if status.IsTerminal() {
			// Уже перемещён в историю предыдущим терминальным обновлением
			return nil
		}
		return fmt.Errorf("no active order for %s", key)
	}

	if !CanTransition(record.Status, status) {
		return fmt.Errorf("invalid order status transition %s -> %s for %s", record.Status, status, key)
	}

	record.Status = status
	record.UpdatedAt = r.now()
	if orderID != "" {
		record.OrderID = orderID
	}
	if filledSize > 0 {
		record.FilledSize = filledSize
	}

	if status.IsTerminal() {
		delete(r.active, key)
		r.history = append(r.history, record)
		if len(r.history) > historyCapacity {
			r.history = r.history[len(r.history)-historyCapacity:]
		}
	}
	return nil
}

// ActiveOrder возвращает копию активной записи по ключу
func (r *OrderRegistry) ActiveOrder(key OrderKey) (OrderRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.active[key]
	if !ok {
		return OrderRecord{}, false
	}
	return *record, true
}

// ActiveOrders возвращает снимок всех активных записей
func (r *OrderRegistry) ActiveOrders() []OrderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]OrderRecord, 0, len(r.active))
	for _, record := range r.active {
		out = append(out, *record)
	}
	return out
}

// History возвращает снимок истории завершённых ордеров,
// от старых к новым
func (r *OrderRegistry) History() []OrderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]OrderRecord, 0, len(r.history))
	for _, record := range r.history {
		out = append(out, *record)
	}
	return out
}

// ============================================================
// Отметки завершения исполнений
// ============================================================

// MarkExecutionCompleted фиксирует момент завершения исполнения
// по символу. Используется reconciliation для паузы перед чтением
// состояния площадок.
func (r *OrderRegistry) MarkExecutionCompleted(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions[symbol] = r.now()
}

// LastExecutionCompleted возвращает момент последнего завершения
// исполнения символа. ok=false, если отметки нет или она старше TTL.
func (r *OrderRegistry) LastExecutionCompleted(symbol string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.completions[symbol]
	if !ok {
		return time.Time{}, false
	}
	if r.now().Sub(ts) > completionTTL {
		delete(r.completions, symbol)
		return time.Time{}, false
	}
	return ts, true
}

// ============================================================
// Одиночные ноги
// ============================================================

// RecordSingleLeg регистрирует незакрытую одиночную ногу
func (r *OrderRegistry) RecordSingleLeg(record SingleLegRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.DetectedAt.IsZero() {
		record.DetectedAt = r.now()
	}
	key := record.Symbol + "_" + record.Venue
	r.singleLegs[key] = &record

	r.logger.Error("single leg recorded",
		utils.Symbol(record.Symbol),
		utils.Venue(record.Venue),
		utils.Side(record.Side),
		utils.Float64("size_usd", record.SizeUsd),
		utils.String("source", record.Source),
	)
}

// ClearSingleLeg снимает запись об одиночной ноге после её разрешения
func (r *OrderRegistry) ClearSingleLeg(symbol, venue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.singleLegs, symbol+"_"+venue)
}

// SingleLegs возвращает снимок всех зарегистрированных одиночных ног
func (r *OrderRegistry) SingleLegs() []SingleLegRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SingleLegRecord, 0, len(r.singleLegs))
	for _, record := range r.singleLegs {
		out = append(out, *record)
	}
	return out
}
