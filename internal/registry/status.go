// Package registry - однополётность исполнения: блокировки символов,
// глобальная блокировка стратегии, реестр активных ордеров.
package registry

// OrderStatus - стадия жизни ордера в реестре
type OrderStatus string

const (
	StatusPlacing     OrderStatus = "placing"
	StatusPlaced      OrderStatus = "placed"
	StatusWaitingFill OrderStatus = "waiting_fill"
	StatusFilled      OrderStatus = "filled"
	StatusFailed      OrderStatus = "failed"
	StatusCancelled   OrderStatus = "cancelled"
)

// Допустимые переходы статусов
var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusPlacing:     {StatusPlaced, StatusFailed, StatusCancelled},
	StatusPlaced:      {StatusWaitingFill, StatusFilled, StatusFailed, StatusCancelled},
	StatusWaitingFill: {StatusFilled, StatusFailed, StatusCancelled},
	StatusFilled:      {},
	StatusFailed:      {},
	StatusCancelled:   {},
}

// CanTransition проверяет допустимость перехода from -> to.
// Повтор терминального статуса разрешён (идемпотентные обновления).
func CanTransition(from, to OrderStatus) bool {
	if from == to && from.IsTerminal() {
		return true
	}
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal - ордер больше не изменится
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) String() string { return string(s) }
