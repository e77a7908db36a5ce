package keeper

import (
	"context"
	"sync"

	"fundarb/internal/events"
	"fundarb/internal/exchange"
	"fundarb/internal/metrics"
	"fundarb/internal/registry"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/utils"
)

// reconcile.go - сверка позиций с площадками
//
// Запускается на старте и по тикеру. Площадки - источник истины:
// сверка находит ноги без пары (падение между ногами, ручное
// вмешательство, рестарт) и восстанавливает знание об открытой паре
// после рестарта.

// venueLeg - нога позиции, как её видит площадка
type venueLeg struct {
	venue    string
	side     string
	size     float64
	valueUsd float64
}

// Reconcile сверяет позиции на площадках с внутренним состоянием
func (k *Keeper) Reconcile(ctx context.Context) {
	legsBySymbol := k.collectPositions(ctx)

	for symbol, legs := range legsBySymbol {
		long, short := splitSides(legs)

		switch {
		case len(long) > 0 && len(short) > 0:
			k.adoptPair(symbol, long[0], short[0])
		default:
			// Все ноги символа на одной стороне - пары нет
			for _, leg := range legs {
				k.flagSingleLeg(ctx, symbol, leg)
			}
		}
	}

	metrics.SetSingleLegs(len(k.orders.SingleLegs()))
}

// collectPositions параллельно опрашивает позиции всех площадок
func (k *Keeper) collectPositions(ctx context.Context) map[string][]venueLeg {
	type venueResult struct {
		venue     string
		positions []*exchange.Position
	}

	results := make(chan venueResult, len(k.venues))
	var wg sync.WaitGroup

	for _, name := range k.venueNames() {
		venue := k.venues[name]
		wg.Add(1)
		go func(name string, venue exchange.PerpExchange) {
			defer wg.Done()
			if err := k.limiter.Acquire(ctx, name, 1, ratelimit.PriorityNormal, "get_positions"); err != nil {
				return
			}
			positions, err := venue.GetPositions(ctx)
			metrics.RecordVenueRequest(name, "get_positions", err)
			if err != nil {
				k.logger.Warn("reconcile: positions query failed",
					utils.Venue(name),
					utils.Err(err),
				)
				return
			}
			results <- venueResult{venue: name, positions: positions}
		}(name, venue)
	}
	wg.Wait()
	close(results)

	legs := make(map[string][]venueLeg)
	for r := range results {
		for _, pos := range r.positions {
			if pos == nil || pos.Size <= 0 {
				continue
			}
			legs[pos.Symbol] = append(legs[pos.Symbol], venueLeg{
				venue:    r.venue,
				side:     pos.Side,
				size:     pos.Size,
				valueUsd: pos.ValueUsd(),
			})
		}
	}
	return legs
}

func splitSides(legs []venueLeg) (long, short []venueLeg) {
	for _, leg := range legs {
		if leg.side == exchange.SideLong {
			long = append(long, leg)
		} else {
			short = append(short, leg)
		}
	}
	return long, short
}

// adoptPair восстанавливает знание об открытой паре и добивает
// трекер записями о позициях, которых он не знает (рестарт без
// персистентного состояния)
func (k *Keeper) adoptPair(symbol string, long, short venueLeg) {
	for _, leg := range []venueLeg{long, short} {
		if _, ok := k.tracker.CurrentPosition(symbol, leg.venue); !ok {
			// Издержки входа неизвестны: нулевая себестоимость
			// консервативна для cumulative loss
			k.tracker.RecordEntry(symbol, leg.venue, 0, leg.valueUsd, k.now())
			k.logger.Info("reconcile: backfilled tracker position",
				utils.Symbol(symbol),
				utils.Venue(leg.venue),
				utils.Float64("value_usd", leg.valueUsd),
			)
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active == nil {
		k.active = &PairPosition{
			Symbol:     symbol,
			LongVenue:  long.venue,
			ShortVenue: short.venue,
			Size:       long.size,
			SizeUsd:    long.valueUsd,
			OpenedAt:   k.now(),
		}
		k.logger.Info("reconcile: adopted existing pair",
			utils.Symbol(symbol),
			utils.Venue(long.venue),
			utils.Float64("size", long.size),
		)
	}
}

// flagSingleLeg регистрирует одиночную ногу, если она не хвост
// свежего исполнения
func (k *Keeper) flagSingleLeg(ctx context.Context, symbol string, leg venueLeg) {
	if completedAt, ok := k.orders.LastExecutionCompleted(symbol); ok {
		if k.now().Sub(completedAt) < k.cfg.ExecutionCooldown {
			k.logger.Info("reconcile: skipping recent execution tail",
				utils.Symbol(symbol),
				utils.Venue(leg.venue),
			)
			return
		}
	}

	k.orders.RecordSingleLeg(registry.SingleLegRecord{
		Symbol:  symbol,
		Venue:   leg.venue,
		Side:    leg.side,
		SizeUsd: leg.valueUsd,
		Source:  "reconcile",
	})
	k.bus.Publish(ctx, events.NewSingleLegDetected("", symbol, leg.venue, leg.side, leg.valueUsd, "reconcile"))
}
