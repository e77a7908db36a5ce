package executor

import (
	"context"
	"errors"
	"math"
	"time"

	"fundarb/internal/exchange"
	"fundarb/pkg/utils"
)

// fill.go - детекция заполнения ордера
//
// Порядок правил фиксирован:
//  1. статус filled -> заполнен
//  2. partially_filled с filledSize -> запоминаем частичное
//  3. терминальный cancelled/rejected/failed -> не заполнен
//  4. ТОЛЬКО при ошибке запроса статуса - fallback на дельту позиции:
//     |текущая позиция − initialPositionSize| ≥ 0.95 × ожидаемого.
//
// Само по себе существование позиции НЕ доказательство заполнения:
// она могла остаться от предыдущего слайса. Поэтому дельта считается
// от размера, снятого в момент размещения.

// Порог признания заполнения по дельте позиции
const positionFillThreshold = 0.95

// ErrFillTimeout - ордер не заполнился за отведённое время
var ErrFillTimeout = errors.New("fill timeout")

// errOrderDead - ордер завершился без заполнения
var errOrderDead = errors.New("order terminated unfilled")

// fillOutcome - результат ожидания заполнения
type fillOutcome struct {
	filled   float64
	complete bool
	err      error
}

// waitForFill опрашивает статус ордера до полного заполнения или
// таймаута. initialPositionSize - размер позиции на стороне side,
// снятый до размещения ордера.
func (e *Engine) waitForFill(ctx context.Context, venue exchange.PerpExchange, orderID, symbol, side string, expectedSize, initialPositionSize float64, timeout time.Duration) fillOutcome {
	deadline := e.now().Add(timeout)
	var lastFilled float64

	for {
		if err := ctx.Err(); err != nil {
			return fillOutcome{filled: lastFilled, err: err}
		}

		status, err := venue.GetOrderStatus(ctx, orderID, symbol)
		if err == nil {
			switch status.State {
			case exchange.OrderStateFilled:
				filled := status.FilledSize
				if filled <= 0 {
					filled = expectedSize
				}
				return fillOutcome{filled: filled, complete: true}

			case exchange.OrderStatePartiallyFilled:
				if status.FilledSize > lastFilled {
					lastFilled = status.FilledSize
				}

			case exchange.OrderStateCancelled, exchange.OrderStateRejected, exchange.OrderStateFailed:
				if status.FilledSize > lastFilled {
					lastFilled = status.FilledSize
				}
				return fillOutcome{filled: lastFilled, err: errOrderDead}
			}
		} else {
			// Запрос статуса упал - проверяем дельту позиции
			if filled, ok := e.positionDelta(ctx, venue, symbol, side, expectedSize, initialPositionSize); ok {
				return fillOutcome{filled: filled, complete: true}
			}
		}

		if e.now().After(deadline) {
			return fillOutcome{filled: lastFilled, err: ErrFillTimeout}
		}

		timer := time.NewTimer(e.cfg.FillCheckInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fillOutcome{filled: lastFilled, err: ctx.Err()}
		}
	}
}

// positionDelta возвращает (дельта, true), если рост позиции
// доказывает заполнение ордера
func (e *Engine) positionDelta(ctx context.Context, venue exchange.PerpExchange, symbol, side string, expectedSize, initialPositionSize float64) (float64, bool) {
	pos, err := venue.GetPosition(ctx, symbol)
	if err != nil {
		return 0, false
	}

	var current float64
	if pos != nil && pos.Side == side {
		current = pos.Size
	}

	delta := math.Abs(current - initialPositionSize)
	if delta >= positionFillThreshold*expectedSize {
		e.logger.Warn("fill confirmed via position delta fallback",
			utils.Venue(venue.Name()),
			utils.Symbol(symbol),
			utils.Float64("initial_position", initialPositionSize),
			utils.Float64("current_position", current),
			utils.Float64("delta", delta),
		)
		if delta > expectedSize {
			delta = expectedSize
		}
		return delta, true
	}
	return 0, false
}

// positionSize возвращает текущий размер позиции на стороне side
// (0 при отсутствии)
func positionSize(ctx context.Context, venue exchange.PerpExchange, symbol, side string) (float64, error) {
	pos, err := venue.GetPosition(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if pos == nil || pos.Side != side {
		return 0, nil
	}
	return pos.Size, nil
}
