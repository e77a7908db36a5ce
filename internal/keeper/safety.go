package keeper

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"fundarb/internal/events"
	"fundarb/internal/exchange"
	"fundarb/internal/metrics"
	"fundarb/internal/registry"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/retry"
	"fundarb/pkg/utils"
)

// safety.go - монитор одиночных ног
//
// Одиночная нога - это направленный рыночный риск. Монитор
// подписывается на SingleLegDetected и закрывает ногу reduceOnly
// маркет-ордером: глобальная блокировка с приоритетом safety,
// limiter с приоритетом emergency, агрессивный retry. Неудача
// эскалируется логом уровня Error, запись остаётся в реестре.

// SafetyMonitor закрывает одиночные ноги
type SafetyMonitor struct {
	venues  map[string]exchange.PerpExchange
	locks   *registry.LockManager
	orders  *registry.OrderRegistry
	limiter *ratelimit.Limiter
	bus     *events.Bus
	logger  *utils.Logger
	cfg     Config
}

// NewSafetyMonitor создает монитор
func NewSafetyMonitor(cfg Config, venues map[string]exchange.PerpExchange, locks *registry.LockManager, orders *registry.OrderRegistry, limiter *ratelimit.Limiter, bus *events.Bus, logger *utils.Logger) *SafetyMonitor {
	return &SafetyMonitor{
		venues:  venues,
		locks:   locks,
		orders:  orders,
		limiter: limiter,
		bus:     bus,
		logger:  utils.EnsureLogger(logger).WithComponent("safety"),
		cfg:     cfg,
	}
}

// Start подписывает монитор на события одиночных ног
func (m *SafetyMonitor) Start() events.Subscription {
	return m.bus.Subscribe(events.TypeSingleLegDetected, m.handle)
}

func (m *SafetyMonitor) handle(ctx context.Context, ev events.Event) error {
	detected, ok := ev.(*events.SingleLegDetected)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	return m.Resolve(ctx, detected.Sym, detected.Venue, detected.Side, detected.ExecutionID)
}

// Resolve закрывает одиночную ногу symbol/venue/side
func (m *SafetyMonitor) Resolve(ctx context.Context, symbol, venue, side, executionID string) error {
	ex := m.venues[venue]
	if ex == nil {
		return fmt.Errorf("single leg on unknown venue %s", venue)
	}

	owner := uuid.New().String()
	if err := m.locks.AcquireGlobal(ctx, owner, "single_leg_close", registry.GlobalSafety, m.cfg.GlobalLockTimeout); err != nil {
		m.logger.Error("single leg close blocked: global lock",
			utils.Symbol(symbol),
			utils.Venue(venue),
			utils.Err(err),
		)
		return err
	}
	defer m.locks.ReleaseGlobal(owner)

	// Размер снимаем с площадки: событие могло устареть
	size, err := m.legSize(ctx, ex, symbol, side)
	if err != nil {
		return err
	}
	if size <= 0 {
		// Нога уже закрыта кем-то другим
		m.orders.ClearSingleLeg(symbol, venue)
		metrics.SetSingleLegs(len(m.orders.SingleLegs()))
		m.bus.Publish(ctx, events.NewSingleLegResolved(executionID, symbol, venue, "closed"))
		return nil
	}

	err = retry.Do(ctx, func() error {
		if err := m.limiter.Acquire(ctx, venue, 1, ratelimit.PriorityEmergency, "emergency_close"); err != nil {
			return err
		}
		_, err := ex.PlaceOrder(ctx, &exchange.OrderRequest{
			Symbol:     symbol,
			Side:       exchange.OppositeSide(side),
			Type:       exchange.OrderTypeMarket,
			Size:       size,
			ReduceOnly: true,
		})
		return err
	}, retry.SafetyConfig())
	if err != nil {
		m.logger.Error("single leg close FAILED, manual intervention required",
			utils.Symbol(symbol),
			utils.Venue(venue),
			utils.Side(side),
			utils.Float64("size", size),
			utils.Err(err),
		)
		return err
	}

	m.orders.ClearSingleLeg(symbol, venue)
	metrics.SetSingleLegs(len(m.orders.SingleLegs()))
	m.logger.Info("single leg closed",
		utils.Symbol(symbol),
		utils.Venue(venue),
		utils.Float64("size", size),
	)
	m.bus.Publish(ctx, events.NewSingleLegResolved(executionID, symbol, venue, "closed"))
	return nil
}

// legSize возвращает текущий размер ноги на площадке
func (m *SafetyMonitor) legSize(ctx context.Context, ex exchange.PerpExchange, symbol, side string) (float64, error) {
	if err := m.limiter.Acquire(ctx, ex.Name(), 1, ratelimit.PriorityEmergency, "get_position"); err != nil {
		return 0, err
	}
	pos, err := ex.GetPosition(ctx, symbol)
	metrics.RecordVenueRequest(ex.Name(), "get_position", err)
	if err != nil {
		return 0, err
	}
	if pos == nil || pos.Side != side {
		return 0, nil
	}
	return pos.Size, nil
}
