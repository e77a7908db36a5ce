package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mock.go - программируемая площадка для тестов и paper-режима
//
// Назначение:
// Mock хранит позиции и ордера в памяти и позволяет тестам сценарно
// управлять поведением: последовательности статусов ордера, инъекция
// ошибок, предзагруженные позиции, журнал вызовов.

// MockCall - запись в журнале вызовов mock-площадки
type MockCall struct {
	Method string // "place", "cancel", "status", ...
	Symbol string
	Side   string
	Size   float64
	Reduce bool
	At     time.Time
}

// Mock - in-memory реализация PerpExchange
type Mock struct {
	mu sync.Mutex

	name   string
	nextID int

	// Рыночные данные
	markPrices   map[string]float64
	fundingRates map[string]float64
	equity       float64

	// Позиции по ключу symbol_side
	positions map[string]*Position

	// Сценарии статусов: orderID -> очередь ответов GetOrderStatus.
	// Последний элемент повторяется, когда очередь исчерпана.
	statusScripts map[string][]OrderStatusInfo

	// Сценарий для СЛЕДУЮЩИХ размещаемых ордеров (очередь очередей).
	// Позволяет запрограммировать поведение до того, как известен orderID.
	pendingScripts [][]OrderStatusInfo

	// Инъекция ошибок
	failPlaceNext  int   // следующие N PlaceOrder вернут ошибку
	failStatusNext int   // следующие N GetOrderStatus вернут ошибку
	failCancelNext int   // следующие N CancelOrder вернут ошибку
	placeErr       error // ошибка для failPlaceNext (default rejected)

	// Применять ли заполнение ордера к позициям (default true)
	applyFills bool

	// Журнал вызовов
	calls []MockCall
}

var _ PerpExchange = (*Mock)(nil)

// NewMock создает mock-площадку с именем name
func NewMock(name string) *Mock {
	if name == "" {
		name = VenueMock
	}
	return &Mock{
		name:          name,
		markPrices:    make(map[string]float64),
		fundingRates:  make(map[string]float64),
		positions:     make(map[string]*Position),
		statusScripts: make(map[string][]OrderStatusInfo),
		equity:        100_000,
		applyFills:    true,
	}
}

func (m *Mock) Name() string { return m.name }

// Close реализует PerpExchange
func (m *Mock) Close() error { return nil }

// ============================================================
// Программирование сценария
// ============================================================

// SetMarkPrice устанавливает mark-цену символа
func (m *Mock) SetMarkPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markPrices[NormalizeSymbol(symbol)] = price
}

// SetFundingRate устанавливает ставку фандинга символа
func (m *Mock) SetFundingRate(symbol string, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundingRates[NormalizeSymbol(symbol)] = rate
}

// SetEquity устанавливает equity аккаунта
func (m *Mock) SetEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
}

// SeedPosition предзагружает позицию (например, "хвост" от прошлого слайса)
func (m *Mock) SeedPosition(symbol, side string, size, entryPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol = NormalizeSymbol(symbol)
	m.positions[symbol+"_"+side] = &Position{
		Venue:      m.name,
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entryPrice,
		MarkPrice:  m.markPrices[symbol],
		UpdatedAt:  time.Now(),
	}
}

// ScriptNextOrder программирует последовательность статусов для
// следующего размещенного ордера. Последний статус повторяется.
func (m *Mock) ScriptNextOrder(statuses ...OrderStatusInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingScripts = append(m.pendingScripts, statuses)
}

// FailNextPlace заставляет следующие n PlaceOrder вернуть ошибку
func (m *Mock) FailNextPlace(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPlaceNext = n
	m.placeErr = err
}

// FailNextStatus заставляет следующие n GetOrderStatus вернуть ошибку
func (m *Mock) FailNextStatus(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatusNext = n
}

// FailNextCancel заставляет следующие n CancelOrder вернуть ошибку
func (m *Mock) FailNextCancel(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCancelNext = n
}

// SetApplyFills управляет тем, обновляют ли заполненные ордера позиции.
// Выключается в тестах fallback-детекции, где позиция управляется вручную.
func (m *Mock) SetApplyFills(apply bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyFills = apply
}

// Calls возвращает копию журнала вызовов
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsOf возвращает вызовы одного метода
func (m *Mock) CallsOf(method string) []MockCall {
	var out []MockCall
	for _, c := range m.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// ============================================================
// PerpExchange
// ============================================================

// PlaceOrder размещает ордер. Без сценария ордер считается
// мгновенно заполненным по полной величине.
func (m *Mock) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{
		Method: "place",
		Symbol: NormalizeSymbol(req.Symbol),
		Side:   req.Side,
		Size:   req.Size,
		Reduce: req.ReduceOnly,
		At:     time.Now(),
	})

	if m.failPlaceNext > 0 {
		m.failPlaceNext--
		if m.placeErr != nil {
			return nil, m.placeErr
		}
		return nil, NewVenueError(m.name, "10001", ErrKindRejected, "order rejected", nil)
	}

	m.nextID++
	orderID := fmt.Sprintf("%s-%d", m.name, m.nextID)

	// Привязываем запрограммированный сценарий к этому ордеру
	if len(m.pendingScripts) > 0 {
		m.statusScripts[orderID] = m.pendingScripts[0]
		m.pendingScripts = m.pendingScripts[1:]
	} else {
		// Без сценария: мгновенное заполнение
		m.statusScripts[orderID] = []OrderStatusInfo{{
			OrderID:    orderID,
			State:      OrderStateFilled,
			FilledSize: req.Size,
			AvgPrice:   req.LimitPrice,
		}}
	}

	// Мгновенно отражаем полностью заполненные ордера в позициях
	script := m.statusScripts[orderID]
	if m.applyFills && len(script) > 0 && script[len(script)-1].State == OrderStateFilled {
		m.applyFillLocked(req, script[len(script)-1].FilledSize)
	}

	return &OrderResponse{
		OrderID:   orderID,
		Symbol:    NormalizeSymbol(req.Symbol),
		State:     OrderStatePlaced,
		Price:     req.LimitPrice,
		CreatedAt: time.Now(),
	}, nil
}

// applyFillLocked обновляет позиции после заполнения. reduceOnly
// уменьшает противоположную сторону, обычный ордер наращивает свою.
func (m *Mock) applyFillLocked(req *OrderRequest, filled float64) {
	symbol := NormalizeSymbol(req.Symbol)

	if req.ReduceOnly {
		key := symbol + "_" + OppositeSide(req.Side)
		if pos, ok := m.positions[key]; ok {
			pos.Size -= filled
			if pos.Size <= 1e-12 {
				delete(m.positions, key)
			}
		}
		return
	}

	key := symbol + "_" + req.Side
	pos, ok := m.positions[key]
	if !ok {
		m.positions[key] = &Position{
			Venue:      m.name,
			Symbol:     symbol,
			Side:       req.Side,
			Size:       filled,
			EntryPrice: req.LimitPrice,
			MarkPrice:  m.markPrices[symbol],
			UpdatedAt:  time.Now(),
		}
		return
	}
	pos.Size += filled
	pos.UpdatedAt = time.Now()
}

// CancelOrder отменяет ордер
func (m *Mock) CancelOrder(ctx context.Context, orderID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{
		Method: "cancel",
		Symbol: NormalizeSymbol(symbol),
		At:     time.Now(),
	})

	if m.failCancelNext > 0 {
		m.failCancelNext--
		return NewVenueError(m.name, "10002", ErrKindNetwork, "cancel failed", nil)
	}
	return nil
}

// GetOrderStatus возвращает очередной статус из сценария ордера
func (m *Mock) GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderStatusInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{
		Method: "status",
		Symbol: NormalizeSymbol(symbol),
		At:     time.Now(),
	})

	if m.failStatusNext > 0 {
		m.failStatusNext--
		return nil, NewVenueError(m.name, "10003", ErrKindNetwork, "status query failed", nil)
	}

	script, ok := m.statusScripts[orderID]
	if !ok || len(script) == 0 {
		return nil, NewVenueError(m.name, "10004", ErrKindRejected, "order not found", nil)
	}

	status := script[0]
	if len(script) > 1 {
		m.statusScripts[orderID] = script[1:]
	}
	return &status, nil
}

// GetPosition возвращает позицию по символу.
// При позициях на обе стороны возвращается большая (нетто-остаток).
func (m *Mock) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol = NormalizeSymbol(symbol)
	var best *Position
	for _, side := range []string{SideLong, SideShort} {
		if pos, ok := m.positions[symbol+"_"+side]; ok {
			if best == nil || pos.Size > best.Size {
				best = pos
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// GetPositions возвращает все открытые позиции
func (m *Mock) GetPositions(ctx context.Context) ([]*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Position, 0, len(m.positions))
	for _, pos := range m.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

// GetMarkPrice возвращает mark-цену символа
func (m *Mock) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.markPrices[NormalizeSymbol(symbol)]
	if !ok {
		return 0, NewVenueError(m.name, "10005", ErrKindRejected, "mark price not found", nil)
	}
	return price, nil
}

// GetFundingRate возвращает ставку фандинга символа
func (m *Mock) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fundingRates[NormalizeSymbol(symbol)], nil
}

// GetEquity возвращает equity аккаунта
func (m *Mock) GetEquity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity, nil
}
