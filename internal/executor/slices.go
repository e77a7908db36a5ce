package executor

import (
	"math"
	"time"

	"fundarb/internal/exchange"
	"fundarb/pkg/utils"
)

// slices.go - расчёт количества слайсов исполнения
//
// Верхняя граница размера слайса задаётся безопасностью:
// sliceUsd ≤ min(maxPortfolioPctPerSlice × portfolio, maxUsdPerSlice).
// Нижняя граница количества - minSlices, верхняя - maxSlices,
// но безопасность перевешивает maxSlices.

// SlicePlan - итог планирования слайсов
type SlicePlan struct {
	Slices      int
	SliceSize   float64 // базовый актив на слайс
	FillTimeout time.Duration
	// TimePressure=true: до фандинга меньше 5 минут, таймаут
	// заполнения сокращён
	TimePressure bool
}

const (
	// Межслайсовый учёт накладных расходов при расчёте по времени
	perSliceOverhead = 500 * time.Millisecond

	// Порог близости фандинга, при котором сокращается таймаут
	timePressureThreshold = 5 * time.Minute

	// Сокращённый таймаут заполнения под давлением времени
	reducedFillTimeout = 15 * time.Second
)

// safetySliceCount - минимум слайсов, продиктованный ограничением
// размера слайса
func safetySliceCount(totalUsd, portfolioUsd float64, cfg Config) int {
	maxSliceUsd := math.Min(cfg.MaxPortfolioPctPerSlice*portfolioUsd, cfg.MaxUsdPerSlice)
	if maxSliceUsd <= 0 || totalUsd <= 0 {
		return 1
	}
	return int(math.Ceil(totalUsd / maxSliceUsd))
}

// planSlices определяет количество слайсов и действующий таймаут
// заполнения.
//
// При dynamicSlicing дедлайн - ближайшая выплата фандинга любой
// из ног; доступное время = timeToFunding − fundingBuffer; лимит
// по времени = avail / (fillTimeout + 500ms), зажатый в
// [minSlices, maxSlices]. Безопасность способна превысить maxSlices -
// тогда риск дедлайна логируется.
func (e *Engine) planSlices(req *Request, now time.Time) SlicePlan {
	cfg := e.cfg
	totalUsd := req.Size * req.MarkPrice

	safety := safetySliceCount(totalUsd, req.PortfolioUsd, cfg)

	n := safety
	if n < cfg.MinSlices {
		n = cfg.MinSlices
	}
	if n > cfg.MaxSlices && safety <= cfg.MaxSlices {
		n = cfg.MaxSlices
	}

	plan := SlicePlan{Slices: n, FillTimeout: cfg.SliceFillTimeout}

	if cfg.DynamicSlicing {
		timeToFunding := exchange.SoonerFundingTime(req.LongVenue.Name(), req.ShortVenue.Name(), now).Sub(now)
		available := timeToFunding - cfg.FundingBuffer

		if available <= 0 {
			e.logger.Warn("no time before funding, falling back to min slices",
				utils.Symbol(req.Symbol),
				utils.String("time_to_funding", timeToFunding.String()),
			)
			plan.Slices = cfg.MinSlices
		} else {
			byTime := int(available / (cfg.SliceFillTimeout + perSliceOverhead))
			if byTime < cfg.MinSlices {
				byTime = cfg.MinSlices
			}
			if byTime > cfg.MaxSlices {
				byTime = cfg.MaxSlices
			}
			// Безопасность перевешивает лимит по времени
			plan.Slices = byTime
			if safety > plan.Slices {
				plan.Slices = safety
				e.logger.Warn("safety slice count exceeds time budget",
					utils.Symbol(req.Symbol),
					utils.Int("safety_slices", safety),
					utils.Int("time_slices", byTime),
				)
			}
		}

		if timeToFunding < timePressureThreshold {
			plan.TimePressure = true
			if plan.FillTimeout > reducedFillTimeout {
				plan.FillTimeout = reducedFillTimeout
			}
		}
	} else if safety > cfg.MaxSlices {
		e.logger.Warn("safety slice count exceeds max slices",
			utils.Symbol(req.Symbol),
			utils.Int("safety_slices", safety),
			utils.Int("max_slices", cfg.MaxSlices),
		)
	}

	if plan.Slices < 1 {
		plan.Slices = 1
	}
	plan.SliceSize = req.Size / float64(plan.Slices)
	return plan
}
