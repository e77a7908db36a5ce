package keeper

import (
	"context"
	"sort"
	"sync"
	"time"

	"fundarb/internal/exchange"
	"fundarb/internal/metrics"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/utils"
)

// portfolio.go - агрегация equity по площадкам
//
// Кэшированный суммарный equity нужен слайсеру (лимит слайса как доля
// портфеля) и API статуса. Обновляется по тикеру keeper'а, чтобы не
// дёргать account-эндпоинты на каждом исполнении.

// Portfolio кэширует equity площадок
type Portfolio struct {
	mu        sync.RWMutex
	venues    map[string]exchange.PerpExchange
	limiter   *ratelimit.Limiter
	logger    *utils.Logger
	equities  map[string]float64
	updatedAt time.Time
}

// NewPortfolio создает агрегатор поверх набора площадок
func NewPortfolio(venues map[string]exchange.PerpExchange, limiter *ratelimit.Limiter, logger *utils.Logger) *Portfolio {
	return &Portfolio{
		venues:   venues,
		limiter:  limiter,
		logger:   utils.EnsureLogger(logger).WithComponent("portfolio"),
		equities: make(map[string]float64),
	}
}

// Refresh опрашивает equity всех площадок. Ошибка одной площадки
// оставляет её последнее известное значение.
func (p *Portfolio) Refresh(ctx context.Context) {
	for _, name := range p.venueNames() {
		venue := p.venues[name]
		if err := p.limiter.Acquire(ctx, name, 1, ratelimit.PriorityNormal, "get_equity"); err != nil {
			return
		}
		equity, err := venue.GetEquity(ctx)
		metrics.RecordVenueRequest(name, "get_equity", err)
		if err != nil {
			p.logger.Warn("equity refresh failed, keeping last value",
				utils.Venue(name),
				utils.Err(err),
			)
			continue
		}
		metrics.UpdateVenueEquity(name, equity)

		p.mu.Lock()
		p.equities[name] = equity
		p.updatedAt = time.Now()
		p.mu.Unlock()
	}
	metrics.SetPortfolioEquity(p.Total())
}

// Total возвращает суммарный equity по всем площадкам
func (p *Portfolio) Total() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total float64
	for _, equity := range p.equities {
		total += equity
	}
	return total
}

// Equities возвращает снимок equity по площадкам
func (p *Portfolio) Equities() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]float64, len(p.equities))
	for venue, equity := range p.equities {
		out[venue] = equity
	}
	return out
}

// UpdatedAt возвращает момент последнего успешного обновления
func (p *Portfolio) UpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updatedAt
}

// venueNames - детерминированный порядок обхода площадок
func (p *Portfolio) venueNames() []string {
	names := make([]string, 0, len(p.venues))
	for name := range p.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
