// Package keeper - оркестратор стратегии: опрос фандинга, оценка
// возможностей, исполнение и ребаланс, восстановление после сбоев.
package keeper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fundarb/internal/evaluator"
	"fundarb/internal/events"
	"fundarb/internal/exchange"
	"fundarb/internal/executor"
	"fundarb/internal/funding"
	"fundarb/internal/losstrack"
	"fundarb/internal/metrics"
	"fundarb/internal/registry"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/retry"
	"fundarb/pkg/utils"
)

// Config - параметры оркестратора
type Config struct {
	// Symbols - нормализованные символы под наблюдением
	Symbols []string

	PollInterval      time.Duration // опрос ставок фандинга
	EvaluateInterval  time.Duration // цикл оценки и исполнения
	EquityInterval    time.Duration // обновление equity
	ReconcileInterval time.Duration // сверка позиций с площадками

	// HistoryDays - окно исторической статистики для оценщика
	HistoryDays int

	// Размер позиции: min(MaxPositionUsd, PositionPct × портфель)
	PositionPct    float64
	MaxPositionUsd float64

	// Оценка издержек ноги
	TakerFeeRate float64 // на нотационал, за одну ногу
	SlippageRate float64 // на нотационал, суммарно

	// ExecutionCooldown - пауза сверки после завершённого исполнения:
	// хвосты свежего исполнения не считаются одиночными ногами
	ExecutionCooldown time.Duration

	// Таймауты блокировок
	GlobalLockTimeout time.Duration
}

// DefaultConfig - значения по умолчанию
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Minute,
		EvaluateInterval:  5 * time.Minute,
		EquityInterval:    2 * time.Minute,
		ReconcileInterval: 10 * time.Minute,
		HistoryDays:       7,
		PositionPct:       0.2,
		MaxPositionUsd:    50_000,
		TakerFeeRate:      0.00055,
		SlippageRate:      0.0003,
		ExecutionCooldown: 5 * time.Minute,
		GlobalLockTimeout: 30 * time.Second,
	}
}

// executionEngine - поверхность движка исполнения, нужная keeper'у
type executionEngine interface {
	Execute(ctx context.Context, req *executor.Request) *executor.Result
}

// ExecutionSink принимает завершённые исполнения для долговременного
// хранения. nil-sink означает работу без БД.
type ExecutionSink interface {
	SaveExecution(ctx context.Context, res *executor.Result) error
}

// PairPosition - открытая дельта-нейтральная пара
type PairPosition struct {
	Symbol     string    `json:"symbol"`
	LongVenue  string    `json:"longVenue"`
	ShortVenue string    `json:"shortVenue"`
	Size       float64   `json:"size"`
	SizeUsd    float64   `json:"sizeUsd"`
	OpenedAt   time.Time `json:"openedAt"`
}

// Keeper управляет жизненным циклом стратегии
type Keeper struct {
	cfg       Config
	venues    map[string]exchange.PerpExchange
	recorder  *funding.Recorder
	eval      *evaluator.Evaluator
	engine    executionEngine
	tracker   *losstrack.Tracker
	locks     *registry.LockManager
	orders    *registry.OrderRegistry
	limiter   *ratelimit.Limiter
	bus       *events.Bus
	portfolio *Portfolio
	sink      ExecutionSink
	logger    *utils.Logger

	paused atomic.Bool

	mu     sync.Mutex
	active *PairPosition
	// Последние часовые ставки по ключу symbol_venue
	rates map[string]float64

	// Инъекция времени для тестов
	now func() time.Time
}

// New создает keeper. sink может быть nil (без БД).
func New(cfg Config, venues map[string]exchange.PerpExchange, recorder *funding.Recorder, eval *evaluator.Evaluator, engine executionEngine, tracker *losstrack.Tracker, locks *registry.LockManager, orders *registry.OrderRegistry, limiter *ratelimit.Limiter, bus *events.Bus, portfolio *Portfolio, sink ExecutionSink, logger *utils.Logger) *Keeper {
	return &Keeper{
		cfg:       cfg,
		venues:    venues,
		recorder:  recorder,
		eval:      eval,
		engine:    engine,
		tracker:   tracker,
		locks:     locks,
		orders:    orders,
		limiter:   limiter,
		bus:       bus,
		portfolio: portfolio,
		sink:      sink,
		logger:    utils.EnsureLogger(logger).WithComponent("keeper"),
		rates:     make(map[string]float64),
		now:       time.Now,
	}
}

// Run крутит тикеры до отмены контекста. Блокирует вызывающего.
func (k *Keeper) Run(ctx context.Context) {
	k.logger.Info("keeper started",
		utils.Int("symbols", len(k.cfg.Symbols)),
		utils.Int("venues", len(k.venues)),
	)

	// Стартовая сверка: подхватываем позиции, пережившие рестарт
	k.portfolio.Refresh(ctx)
	k.Reconcile(ctx)

	poll := time.NewTicker(k.cfg.PollInterval)
	evaluate := time.NewTicker(k.cfg.EvaluateInterval)
	equity := time.NewTicker(k.cfg.EquityInterval)
	reconcile := time.NewTicker(k.cfg.ReconcileInterval)
	defer poll.Stop()
	defer evaluate.Stop()
	defer equity.Stop()
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return
		case <-poll.C:
			k.PollFundingRates(ctx)
		case <-evaluate.C:
			k.EvaluateOnce(ctx)
		case <-equity.C:
			k.portfolio.Refresh(ctx)
		case <-reconcile.C:
			k.Reconcile(ctx)
		}
	}
}

// ============================================================
// Пауза
// ============================================================

// Pause приостанавливает оценку и исполнение. Опрос и сверка
// продолжаются: история фандинга должна накапливаться.
func (k *Keeper) Pause(ctx context.Context, reason string) {
	if k.paused.Swap(true) {
		return
	}
	metrics.SetPaused(true)
	k.logger.Warn("keeper paused", utils.String("reason", reason))
	k.bus.Publish(ctx, events.NewKeeperPaused(reason))
}

// Resume снимает паузу
func (k *Keeper) Resume(ctx context.Context) {
	if !k.paused.Swap(false) {
		return
	}
	metrics.SetPaused(false)
	k.logger.Info("keeper resumed")
	k.bus.Publish(ctx, events.NewKeeperResumed())
}

// Paused сообщает, стоит ли keeper на паузе
func (k *Keeper) Paused() bool {
	return k.paused.Load()
}

// ============================================================
// Опрос фандинга
// ============================================================

// PollFundingRates снимает текущие ставки всех пар (symbol, venue),
// нормализует к часу и складывает в рекордер
func (k *Keeper) PollFundingRates(ctx context.Context) {
	for _, name := range k.venueNames() {
		venue := k.venues[name]
		for _, symbol := range k.cfg.Symbols {
			if err := k.limiter.Acquire(ctx, name, 1, ratelimit.PriorityNormal, "get_funding_rate"); err != nil {
				return
			}
			rate, err := venue.GetFundingRate(ctx, symbol)
			metrics.RecordVenueRequest(name, "get_funding_rate", err)
			if err != nil {
				k.logger.Warn("funding rate poll failed",
					utils.Venue(name),
					utils.Symbol(symbol),
					utils.Err(err),
				)
				continue
			}
			hourly := exchange.HourlyRate(name, rate)
			k.recorder.Observe(symbol, name, hourly, k.now())

			k.mu.Lock()
			k.rates[symbol+"_"+name] = hourly
			k.mu.Unlock()
		}
	}
}

// ============================================================
// Оценка и исполнение
// ============================================================

// EvaluateOnce выполняет один цикл: строит кандидатов, выбирает
// лучшего, открывает или ребалансирует позицию
func (k *Keeper) EvaluateOnce(ctx context.Context) {
	if k.paused.Load() {
		return
	}

	candidates := k.buildCandidates()
	best, ok := k.eval.SelectBest(candidates)
	if !ok {
		metrics.RecordEvaluation("no_candidate")
		return
	}

	k.mu.Lock()
	active := k.active
	k.mu.Unlock()

	if active == nil {
		metrics.RecordEvaluation(string(evaluator.ActionOpen))
		k.openPosition(ctx, best, registry.GlobalNormal)
		return
	}

	if active.Symbol == best.Opportunity.Symbol &&
		active.LongVenue == best.Opportunity.LongVenue &&
		active.ShortVenue == best.Opportunity.ShortVenue {
		metrics.RecordEvaluation(string(evaluator.ActionHold))
		return
	}

	decision := k.eval.ShouldRebalance(k.currentPositionState(active), best)
	metrics.RecordEvaluation(string(decision.Action))
	k.bus.Publish(ctx, events.NewRebalanceDecided(
		active.Symbol, best.Opportunity.Symbol, decision.Reason,
		best.Plan.ExpectedNetReturn,
		best.Plan.EntryFees+best.Plan.ExitFees+best.Plan.EstimatedSlippage,
	))

	if decision.Action != evaluator.ActionRebalance {
		return
	}

	owner := uuid.New().String()
	if err := k.locks.AcquireGlobal(ctx, owner, "rebalance", registry.GlobalRebalance, k.cfg.GlobalLockTimeout); err != nil {
		k.logger.Warn("rebalance skipped: global lock", utils.Err(err))
		return
	}
	defer k.locks.ReleaseGlobal(owner)

	if err := k.closePosition(ctx, active); err != nil {
		k.logger.Error("rebalance close failed, keeping current position",
			utils.Symbol(active.Symbol),
			utils.Err(err),
		)
		return
	}
	k.openPositionLocked(ctx, best)
}

// buildCandidates собирает кандидатов по всем символам и
// упорядоченным парам площадок
func (k *Keeper) buildCandidates() []evaluator.Candidate {
	names := k.venueNames()
	sizeUsd := math.Min(k.cfg.MaxPositionUsd, k.cfg.PositionPct*k.portfolio.Total())
	if sizeUsd <= 0 {
		return nil
	}

	var out []evaluator.Candidate
	for _, symbol := range k.cfg.Symbols {
		for _, longVenue := range names {
			for _, shortVenue := range names {
				if longVenue == shortVenue {
					continue
				}
				if c, ok := k.buildCandidate(symbol, longVenue, shortVenue, sizeUsd); ok {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// buildCandidate строит одного кандидата. ok=false без истории
// или при неположительном ожидаемом спреде.
func (k *Keeper) buildCandidate(symbol, longVenue, shortVenue string, sizeUsd float64) (evaluator.Candidate, bool) {
	k.mu.Lock()
	longRate, okLong := k.rates[symbol+"_"+longVenue]
	shortRate, okShort := k.rates[symbol+"_"+shortVenue]
	k.mu.Unlock()
	if !okLong || !okShort {
		return evaluator.Candidate{}, false
	}

	spread := k.recorder.AverageSpread(symbol, longVenue, symbol, shortVenue, longRate, shortRate)
	if spread <= 0 {
		return evaluator.Candidate{}, false
	}

	longMetrics, okL := k.recorder.Metrics(symbol, longVenue, k.cfg.HistoryDays)
	shortMetrics, okS := k.recorder.Metrics(symbol, shortVenue, k.cfg.HistoryDays)
	if !okL || !okS {
		return evaluator.Candidate{}, false
	}

	consistency := math.Min(longMetrics.ConsistencyScore, shortMetrics.ConsistencyScore)
	dataPoints := longMetrics.DataPoints
	if spreadMetrics, ok := k.recorder.SpreadVolatilityMetrics(symbol, longVenue, symbol, shortVenue, k.cfg.HistoryDays); ok {
		consistency = spreadMetrics.PositiveShare
		dataPoints = spreadMetrics.DataPoints
	}

	entryFees := 2 * k.cfg.TakerFeeRate * sizeUsd
	exitFees := entryFees
	slippage := k.cfg.SlippageRate * sizeUsd

	// Ожидаемый чистый результат до ближайшей выплаты фандинга
	hours := exchange.TimeToFunding(shortVenue, k.now()).Hours()
	netReturn := spread*sizeUsd*hours - entryFees - exitFees - slippage

	return evaluator.Candidate{
		Opportunity: evaluator.Opportunity{
			Symbol:         symbol,
			LongVenue:      longVenue,
			ShortVenue:     shortVenue,
			ExpectedSpread: spread,
		},
		Plan: evaluator.Plan{
			PositionSizeUsd:   sizeUsd,
			EntryFees:         entryFees,
			ExitFees:          exitFees,
			EstimatedSlippage: slippage,
			ExpectedNetReturn: netReturn,
		},
		History: &evaluator.HistoryMetrics{
			AvgRate:      spread,
			StdDev:       shortMetrics.StdDev,
			MinLongRate:  longMetrics.MinRate,
			MaxLongRate:  longMetrics.MaxRate,
			MinShortRate: shortMetrics.MinRate,
			MaxShortRate: shortMetrics.MaxRate,
			Consistency:  consistency,
			DataPoints:   dataPoints,
		},
	}, true
}

// currentPositionState переводит живую позицию на язык оценщика
func (k *Keeper) currentPositionState(active *PairPosition) evaluator.CurrentPosition {
	state := evaluator.CurrentPosition{Symbol: active.Symbol}

	k.mu.Lock()
	spread := k.rates[active.Symbol+"_"+active.ShortVenue] - k.rates[active.Symbol+"_"+active.LongVenue]
	k.mu.Unlock()

	be, err := k.tracker.ComputeBreakEven(active.Symbol, active.ShortVenue, true, spread, active.SizeUsd)
	if err != nil {
		// Трекер не знает позицию (рестарт без персистентности):
		// считаем её неокупленной с неизвестной перспективой
		state.RemainingBEHours = math.Inf(1)
		state.RemainingCost = 2 * k.cfg.TakerFeeRate * active.SizeUsd * 2
		return state
	}

	state.FeesOutstanding = be.FeesEarnedSoFar
	switch {
	case be.AlreadyBreakEven:
		state.RemainingCost = 0
	case !be.Reachable:
		state.RemainingBEHours = math.Inf(1)
		state.RemainingCost = 2 * k.cfg.TakerFeeRate * active.SizeUsd * 2
	default:
		state.RemainingBEHours = be.RemainingHours
		state.RemainingCost = be.RemainingCost
	}
	return state
}

// openPosition открывает позицию под глобальной блокировкой
func (k *Keeper) openPosition(ctx context.Context, cand *evaluator.Candidate, priority registry.GlobalPriority) {
	owner := uuid.New().String()
	if err := k.locks.AcquireGlobal(ctx, owner, "open_position", priority, k.cfg.GlobalLockTimeout); err != nil {
		k.logger.Warn("open skipped: global lock", utils.Err(err))
		return
	}
	defer k.locks.ReleaseGlobal(owner)
	k.openPositionLocked(ctx, cand)
}

// openPositionLocked исполняет открытие. Вызывается под глобальной
// блокировкой.
func (k *Keeper) openPositionLocked(ctx context.Context, cand *evaluator.Candidate) {
	longVenue := k.venues[cand.Opportunity.LongVenue]
	shortVenue := k.venues[cand.Opportunity.ShortVenue]
	if longVenue == nil || shortVenue == nil {
		k.logger.Error("candidate references unknown venue",
			utils.Venue(cand.Opportunity.LongVenue),
			utils.Venue(cand.Opportunity.ShortVenue),
		)
		return
	}

	mark, err := k.markPrice(ctx, longVenue, cand.Opportunity.Symbol)
	if err != nil {
		k.logger.Warn("open skipped: no mark price",
			utils.Symbol(cand.Opportunity.Symbol),
			utils.Err(err),
		)
		return
	}

	req := &executor.Request{
		Symbol:       cand.Opportunity.Symbol,
		LongVenue:    longVenue,
		ShortVenue:   shortVenue,
		Size:         cand.Plan.PositionSizeUsd / mark,
		MarkPrice:    mark,
		PortfolioUsd: k.portfolio.Total(),
	}
	res := k.engine.Execute(ctx, req)
	k.persistExecution(ctx, res)
	if !res.Success {
		k.logger.Warn("open execution failed",
			utils.Symbol(req.Symbol),
			utils.String("reason", res.AbortReason),
		)
		return
	}

	// Вход в трекер: полные издержки пары на ключе короткой ноги,
	// нулевая запись длинной для видимости обеих ног
	entryCost := cand.Plan.EntryFees + cand.Plan.EstimatedSlippage/2
	now := k.now()
	k.tracker.RecordEntry(req.Symbol, cand.Opportunity.ShortVenue, entryCost, cand.Plan.PositionSizeUsd, now)
	k.tracker.RecordEntry(req.Symbol, cand.Opportunity.LongVenue, 0, cand.Plan.PositionSizeUsd, now)
	k.bus.Publish(ctx, events.NewPositionEntryRecorded(req.Symbol, cand.Opportunity.ShortVenue, entryCost, cand.Plan.PositionSizeUsd))

	k.mu.Lock()
	k.active = &PairPosition{
		Symbol:     req.Symbol,
		LongVenue:  cand.Opportunity.LongVenue,
		ShortVenue: cand.Opportunity.ShortVenue,
		Size:       res.LongFilled,
		SizeUsd:    cand.Plan.PositionSizeUsd,
		OpenedAt:   now,
	}
	k.mu.Unlock()
}

// closePosition закрывает обе ноги reduceOnly маркет-ордерами и
// фиксирует выход в трекере
func (k *Keeper) closePosition(ctx context.Context, active *PairPosition) error {
	legs := []struct {
		venueName string
		side      string
	}{
		{active.LongVenue, exchange.SideLong},
		{active.ShortVenue, exchange.SideShort},
	}

	for _, l := range legs {
		venue := k.venues[l.venueName]
		if venue == nil {
			return fmt.Errorf("unknown venue %s", l.venueName)
		}
		err := retry.Do(ctx, func() error {
			if err := k.limiter.Acquire(ctx, l.venueName, 1, ratelimit.PriorityHigh, "close_position"); err != nil {
				return err
			}
			_, err := venue.PlaceOrder(ctx, &exchange.OrderRequest{
				Symbol:     active.Symbol,
				Side:       exchange.OppositeSide(l.side),
				Type:       exchange.OrderTypeMarket,
				Size:       active.Size,
				ReduceOnly: true,
			})
			return err
		}, retry.OrderConfig())
		if err != nil {
			return fmt.Errorf("close %s leg on %s: %w", l.side, l.venueName, err)
		}
	}

	exitCost := 2 * k.cfg.TakerFeeRate * active.SizeUsd
	now := k.now()
	if err := k.tracker.RecordExit(active.Symbol, active.ShortVenue, exitCost, 0, now); err != nil {
		k.logger.Warn("exit not tracked", utils.Err(err))
	} else {
		k.bus.Publish(ctx, events.NewPositionExitRecorded(active.Symbol, active.ShortVenue, exitCost, 0, utils.HoursBetween(active.OpenedAt, now)))
	}
	_ = k.tracker.RecordExit(active.Symbol, active.LongVenue, 0, 0, now)

	k.mu.Lock()
	k.active = nil
	k.mu.Unlock()
	return nil
}

// markPrice запрашивает mark-цену с учётом лимитов
func (k *Keeper) markPrice(ctx context.Context, venue exchange.PerpExchange, symbol string) (float64, error) {
	if err := k.limiter.Acquire(ctx, venue.Name(), 1, ratelimit.PriorityNormal, "get_mark_price"); err != nil {
		return 0, err
	}
	mark, err := venue.GetMarkPrice(ctx, symbol)
	metrics.RecordVenueRequest(venue.Name(), "get_mark_price", err)
	if err != nil {
		return 0, err
	}
	if mark <= 0 {
		return 0, fmt.Errorf("non-positive mark price for %s", symbol)
	}
	return mark, nil
}

// persistExecution сохраняет исполнение в БД (best-effort)
func (k *Keeper) persistExecution(ctx context.Context, res *executor.Result) {
	if k.sink == nil {
		return
	}
	if err := k.sink.SaveExecution(ctx, res); err != nil {
		k.logger.Warn("execution not persisted",
			utils.ExecutionID(res.ExecutionID),
			utils.Err(err),
		)
	}
}

// ActivePosition возвращает снимок открытой пары (nil, если её нет)
func (k *Keeper) ActivePosition() *PairPosition {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active == nil {
		return nil
	}
	cp := *k.active
	return &cp
}

// HourlyRate возвращает последнюю наблюдённую часовую ставку фандинга
func (k *Keeper) HourlyRate(symbol, venue string) (float64, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rate, ok := k.rates[symbol+"_"+venue]
	return rate, ok
}

// venueNames - детерминированный порядок площадок
func (k *Keeper) venueNames() []string {
	names := make([]string, 0, len(k.venues))
	for name := range k.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
