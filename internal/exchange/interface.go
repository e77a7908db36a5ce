// Package exchange предоставляет унифицированный интерфейс для работы
// с деривативными площадками (perpetual futures).
package exchange

import (
	"context"
	"fmt"
	"time"
)

// PerpExchange определяет контракт адаптера площадки perpetual-фьючерсов.
//
// Каждая реализация обязана приводить ответы площадки к универсальным
// статусам ордеров (OrderState) и нормализованным символам.
type PerpExchange interface {
	// Name возвращает идентификатор площадки ("bybit", "bitget", ...)
	Name() string

	// PlaceOrder размещает ордер и возвращает ответ площадки
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)

	// CancelOrder отменяет ордер по ID
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// GetOrderStatus возвращает текущий статус ордера
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderStatusInfo, error)

	// GetPosition возвращает открытую позицию по символу (nil если нет)
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// GetPositions возвращает все открытые позиции
	GetPositions(ctx context.Context) ([]*Position, error)

	// GetMarkPrice возвращает текущую mark-цену символа
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetFundingRate возвращает текущую ставку фандинга за период площадки
	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	// GetEquity возвращает equity фьючерсного аккаунта в USD
	GetEquity(ctx context.Context) (float64, error)

	// Close закрывает соединения с площадкой
	Close() error
}

// ============================================================
// Ордера
// ============================================================

// OrderType - тип ордера
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce - срок действия ордера
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFPostOnly          TimeInForce = "PostOnly"
)

// OrderRequest - универсальный запрос на размещение ордера
type OrderRequest struct {
	Symbol      string      `json:"symbol"` // нормализованный символ
	Side        string      `json:"side"`   // "long" или "short"
	Type        OrderType   `json:"type"`
	Size        float64     `json:"size"`                  // объём в базовом активе, > 0
	LimitPrice  float64     `json:"limit_price,omitempty"` // обязателен для limit
	TimeInForce TimeInForce `json:"time_in_force,omitempty"`
	ReduceOnly  bool        `json:"reduce_only,omitempty"`
}

// Validate проверяет базовую корректность запроса
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("order request: empty symbol")
	}
	if r.Side != SideLong && r.Side != SideShort {
		return fmt.Errorf("order request: invalid side %q", r.Side)
	}
	if r.Size <= 0 {
		return fmt.Errorf("order request: size must be positive, got %v", r.Size)
	}
	if r.Type == OrderTypeLimit && r.LimitPrice <= 0 {
		return fmt.Errorf("order request: limit order requires positive price")
	}
	return nil
}

// OrderResponse - ответ площадки на размещение ордера
type OrderResponse struct {
	OrderID   string     `json:"order_id"`
	Symbol    string     `json:"symbol"`
	State     OrderState `json:"state"`
	Price     float64    `json:"price,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// OrderStatusInfo - статус ордера по запросу
type OrderStatusInfo struct {
	OrderID    string     `json:"order_id"`
	State      OrderState `json:"state"`
	FilledSize float64    `json:"filled_size"`
	AvgPrice   float64    `json:"avg_price,omitempty"`
}

// OrderState - универсальный статус ордера.
//
// Жизненный цикл: placing → placed → waiting_fill → filled | failed | cancelled.
// Адаптеры дополнительно сообщают partially_filled как промежуточное состояние.
type OrderState string

const (
	OrderStatePlacing         OrderState = "placing"
	OrderStatePlaced          OrderState = "placed"
	OrderStateWaitingFill     OrderState = "waiting_fill"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateFailed          OrderState = "failed"
	OrderStateCancelled       OrderState = "cancelled"
	OrderStateRejected        OrderState = "rejected"
)

// IsTerminal возвращает true для конечных статусов
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateFailed, OrderStateCancelled, OrderStateRejected:
		return true
	}
	return false
}

// ============================================================
// Позиции
// ============================================================

// Side constants для позиций и ног хеджа
const (
	SideLong  = "long"
	SideShort = "short"
)

// OppositeSide возвращает противоположную сторону
func OppositeSide(side string) string {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}

// Position представляет открытую позицию
type Position struct {
	Venue         string    `json:"venue"`
	Symbol        string    `json:"symbol"` // нормализованный
	Side          string    `json:"side"`   // "long" или "short"
	Size          float64   `json:"size"`   // беззнаковый объём
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ValueUsd возвращает стоимость позиции в USD по mark-цене
func (p *Position) ValueUsd() float64 {
	return p.Size * p.MarkPrice
}

// ============================================================
// Ошибки площадок
// ============================================================

// ErrorKind классифицирует ошибку площадки для retry-политики
type ErrorKind string

const (
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindRejected    ErrorKind = "rejected"
	ErrKindNetwork     ErrorKind = "network"
	ErrKindFatal       ErrorKind = "fatal"
)

// VenueError представляет классифицированную ошибку площадки
type VenueError struct {
	Venue    string
	Code     string
	Kind     ErrorKind
	Message  string
	Original error

	// RetryAfter - подсказка площадки при rate_limited (0 если нет)
	RetryAfter time.Duration
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s [%s/%s]: %s", e.Venue, e.Kind, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку для errors.Is/As
func (e *VenueError) Unwrap() error {
	return e.Original
}

// Retryable сообщает retry-политике, имеет ли смысл повтор
func (e *VenueError) Retryable() bool {
	switch e.Kind {
	case ErrKindNetwork, ErrKindRateLimited:
		return true
	}
	return false
}

// Temporary - алиас Retryable для совместимости с классификаторами
func (e *VenueError) Temporary() bool {
	return e.Retryable()
}

// RetryAfterHint - рекомендованная площадкой пауза (Retry-After из 429).
// Ноль, если площадка её не сообщила.
func (e *VenueError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// NewVenueError создает ошибку площадки
func NewVenueError(venue, code string, kind ErrorKind, message string, original error) *VenueError {
	return &VenueError{
		Venue:    venue,
		Code:     code,
		Kind:     kind,
		Message:  message,
		Original: original,
	}
}
