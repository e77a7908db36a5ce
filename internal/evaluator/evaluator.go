// Package evaluator выбирает лучшую арбитражную возможность и решает,
// стоит ли ребалансировать живую позицию.
package evaluator

import (
	"math"
	"sort"

	"fundarb/pkg/utils"
)

// Opportunity - кандидат арбитража фандинга
type Opportunity struct {
	Symbol         string
	LongVenue      string
	ShortVenue     string
	ExpectedSpread float64 // часовой спред short − long
	LongMarkPrice  float64
	ShortMarkPrice float64
	LongOI         float64 // открытый интерес, USD
	ShortOI        float64
}

// Plan - предложенный план исполнения кандидата
type Plan struct {
	PositionSizeUsd   float64
	EntryFees         float64
	ExitFees          float64
	EstimatedSlippage float64
	// ExpectedNetReturn - ожидаемый чистый результат до следующей
	// выплаты фандинга, за вычетом всех издержек
	ExpectedNetReturn float64
}

// HistoryMetrics - историческая статистика кандидата
type HistoryMetrics struct {
	AvgRate     float64 // средний часовой спред
	StdDev      float64
	MinLongRate float64 // худшая (максимальная) ставка длинной ноги
	MaxLongRate float64
	MinShortRate float64 // худшая (минимальная) ставка короткой ноги
	MaxShortRate float64
	Consistency float64
	DataPoints  int
}

// Candidate - возможность с планом и историей
type Candidate struct {
	Opportunity Opportunity
	Plan        Plan
	History     *HistoryMetrics

	// Заполняются оценщиком
	Score              float64
	WorstCaseBEHours   float64
	Liquidity          float64
}

// CurrentPosition - живая позиция для решения о ребалансе
type CurrentPosition struct {
	Symbol string
	// RemainingBEHours - остаток часов до окупаемости,
	// +Inf если недостижима
	RemainingBEHours float64
	// RemainingCost - неокупленные издержки (≤0 - уже окупилась)
	RemainingCost float64
	// FeesOutstanding - заработанный, но не реализованный фандинг,
	// теряемый при переключении
	FeesOutstanding float64
}

// Decision - итог оценки
type Decision struct {
	Action    Action
	Candidate *Candidate
	// P1Hours/P2Hours - времена до окупаемости обеих сторон решения
	P1Hours float64
	P2Hours float64
	Reason  string
}

// Action - выбранное действие
type Action string

const (
	ActionOpen      Action = "open"
	ActionRebalance Action = "rebalance"
	ActionHold      Action = "hold"
)

// Config - пороги оценщика
type Config struct {
	// MaxWorstCaseBreakEvenDays отвергает кандидатов, чья окупаемость
	// в худшем историческом случае дольше этого срока
	MaxWorstCaseBreakEvenDays float64
}

// Evaluator оценивает кандидатов
type Evaluator struct {
	cfg    Config
	logger *utils.Logger
}

// New создает оценщик
func New(cfg Config, logger *utils.Logger) *Evaluator {
	if cfg.MaxWorstCaseBreakEvenDays <= 0 {
		cfg.MaxWorstCaseBreakEvenDays = 7
	}
	return &Evaluator{
		cfg:    cfg,
		logger: utils.EnsureLogger(logger).WithComponent("evaluator"),
	}
}

// liquidityFallback применяется при отсутствии открытого интереса
const liquidityFallback = 0.1

// scoreCandidate заполняет Score, WorstCaseBEHours и Liquidity
func (e *Evaluator) scoreCandidate(c *Candidate) {
	c.WorstCaseBEHours = math.Inf(1)
	c.Liquidity = liquidityProxy(c.Opportunity.LongOI, c.Opportunity.ShortOI)
	c.Score = 0

	if c.History == nil || c.Plan.PositionSizeUsd <= 0 {
		return
	}

	// Худший спред: минимальная историческая ставка короткой ноги
	// против максимальной длинной
	worstSpread := c.History.MinShortRate - c.History.MaxLongRate
	totalCosts := c.Plan.EntryFees + c.Plan.ExitFees + c.Plan.EstimatedSlippage

	worstHourlyReturn := worstSpread * c.Plan.PositionSizeUsd
	if worstHourlyReturn > 0 {
		c.WorstCaseBEHours = totalCosts / worstHourlyReturn
	}

	if !math.IsInf(c.WorstCaseBEHours, 1) && c.WorstCaseBEHours > 0 {
		c.Score = c.History.Consistency * math.Abs(c.History.AvgRate) * c.Liquidity / c.WorstCaseBEHours
	}
}

// liquidityProxy - clamp01(log10(minOI/1000)/10), fallback 0.1
func liquidityProxy(longOI, shortOI float64) float64 {
	minOI := math.Min(longOI, shortOI)
	if minOI <= 0 {
		return liquidityFallback
	}
	return utils.Clamp01(math.Log10(minOI/1000) / 10)
}

// SelectBest оценивает кандидатов и возвращает лучшего.
// ok=false, если подходящих нет (пустой вход, нулевые очки или
// худший случай дольше MaxWorstCaseBreakEvenDays).
func (e *Evaluator) SelectBest(candidates []Candidate) (*Candidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	scored := make([]*Candidate, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		e.scoreCandidate(c)
		if c.Score > 0 {
			scored = append(scored, c)
		}
	}
	if len(scored) == 0 {
		return nil, false
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	best := scored[0]

	if best.WorstCaseBEHours/24 > e.cfg.MaxWorstCaseBreakEvenDays {
		e.logger.Info("best candidate rejected by worst-case break-even",
			utils.Symbol(best.Opportunity.Symbol),
			utils.Float64("worst_case_hours", best.WorstCaseBEHours),
			utils.Float64("max_days", e.cfg.MaxWorstCaseBreakEvenDays),
		)
		return nil, false
	}
	return best, true
}

// ShouldRebalance решает, менять ли позицию p1 на кандидата p2.
// Порядок правил фиксирован, выигрывает первое совпавшее.
func (e *Evaluator) ShouldRebalance(p1 CurrentPosition, p2 *Candidate) Decision {
	p1Hours := p1.RemainingBEHours

	// Часовой доход P2 и его время до окупаемости с учётом
	// потерянного прогресса P1
	hourlyReturnP2 := p2.Opportunity.ExpectedSpread * p2.Plan.PositionSizeUsd
	totalP2Costs := p1.FeesOutstanding + p2.Plan.EntryFees + p2.Plan.ExitFees + p2.Plan.EstimatedSlippage

	p2Hours := math.Inf(1)
	if hourlyReturnP2 > 0 {
		p2Hours = totalP2Costs / hourlyReturnP2
	}

	decide := func(action Action, reason string) Decision {
		return Decision{
			Action:    action,
			Candidate: p2,
			P1Hours:   p1Hours,
			P2Hours:   p2Hours,
			Reason:    reason,
		}
	}

	switch {
	case p2.Plan.ExpectedNetReturn > 0:
		return decide(ActionRebalance, "candidate is instantly net-profitable")
	case p1.RemainingCost <= 0:
		return decide(ActionHold, "current position is already profitable")
	case math.IsInf(p1Hours, 1) && !math.IsInf(p2Hours, 1):
		return decide(ActionRebalance, "current break-even unreachable, candidate's is finite")
	case math.IsInf(p1Hours, 1) && math.IsInf(p2Hours, 1):
		return decide(ActionHold, "both break-evens unreachable")
	case math.IsInf(p2Hours, 1):
		return decide(ActionHold, "candidate break-even unreachable")
	case p2Hours < p1Hours:
		return decide(ActionRebalance, "candidate breaks even sooner")
	default:
		return decide(ActionHold, "current position breaks even sooner")
	}
}
