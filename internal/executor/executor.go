// Package executor исполняет хеджированную сделку на двух площадках
// последовательными слайсами с откатом незахеджированных остатков.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"fundarb/internal/events"
	"fundarb/internal/exchange"
	"fundarb/internal/metrics"
	"fundarb/internal/registry"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/retry"
	"fundarb/pkg/utils"
)

// Config - параметры движка исполнения
type Config struct {
	// Ограничения размера слайса
	MaxPortfolioPctPerSlice float64
	MaxUsdPerSlice          float64
	MinSlices               int
	MaxSlices               int

	// Тайминги слайса
	SliceFillTimeout  time.Duration
	FillCheckInterval time.Duration
	InterSliceDelay   time.Duration

	// Допустимый дисбаланс ног как доля размера слайса
	MaxImbalancePercent float64

	// Динамическое слайсирование от времени до фандинга
	DynamicSlicing bool
	FundingBuffer  time.Duration

	// ConstrainedVenue всегда исполняется первой ногой (Leg A).
	// Если ни одна из ног не на ней - первой идёт длинная.
	ConstrainedVenue string

	// Таймаут захвата блокировки символа
	LockTimeout time.Duration
}

// DefaultConfig - значения по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxPortfolioPctPerSlice: 0.05,
		MaxUsdPerSlice:          10_000,
		MinSlices:               1,
		MaxSlices:               10,
		SliceFillTimeout:        30 * time.Second,
		FillCheckInterval:       time.Second,
		InterSliceDelay:         500 * time.Millisecond,
		MaxImbalancePercent:     0.10,
		DynamicSlicing:          false,
		FundingBuffer:           2 * time.Minute,
		ConstrainedVenue:        exchange.VenueHyperliquid,
		LockTimeout:             10 * time.Second,
	}
}

// Request - задание на исполнение: лонг на LongVenue, шорт на ShortVenue
type Request struct {
	ExecutionID  string // генерируется, если пуст
	Symbol       string
	LongVenue    exchange.PerpExchange
	ShortVenue   exchange.PerpExchange
	Size         float64 // базовый актив, суммарно на обе ноги
	MarkPrice    float64 // референсная цена для нотационала
	PortfolioUsd float64
}

// Validate проверяет корректность задания
func (r *Request) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("execution request: empty symbol")
	}
	if r.LongVenue == nil || r.ShortVenue == nil {
		return fmt.Errorf("execution request: both venues required")
	}
	if r.LongVenue.Name() == r.ShortVenue.Name() {
		return fmt.Errorf("execution request: long and short venue must differ")
	}
	if r.Size <= 0 {
		return fmt.Errorf("execution request: size must be positive")
	}
	if r.MarkPrice <= 0 {
		return fmt.Errorf("execution request: mark price must be positive")
	}
	return nil
}

// SliceResult - итог одного слайса
type SliceResult struct {
	Index       int     `json:"index"`
	Size        float64 `json:"size"`
	LongFilled  float64 `json:"longFilled"`
	ShortFilled float64 `json:"shortFilled"`
	RolledBack  bool    `json:"rolledBack"`
	Error       string  `json:"error,omitempty"`
}

// Result - итог исполнения. Движок возвращает результат, а не ошибку:
// частичное состояние обязано дойти до вызывающего.
type Result struct {
	Success         bool          `json:"success"`
	ExecutionID     string        `json:"executionId"`
	Symbol          string        `json:"symbol"`
	AbortReason     string        `json:"abortReason,omitempty"`
	TotalSlices     int           `json:"totalSlices"`
	CompletedSlices int           `json:"completedSlices"`
	LongFilled      float64       `json:"longFilled"`
	ShortFilled     float64       `json:"shortFilled"`
	Slices          []SliceResult `json:"slices"`
	Duration        time.Duration `json:"duration"`
}

// Общий допуск расхождения ног успешного исполнения
const overallParityTolerance = 0.02

// Вес запросов к площадкам в единицах limiter'а
const (
	weightPlaceOrder  = 1
	weightCancelOrder = 1
	weightQuery       = 1
)

// Engine - движок слайсированного исполнения
type Engine struct {
	cfg     Config
	locks   *registry.LockManager
	orders  *registry.OrderRegistry
	limiter *ratelimit.Limiter
	bus     *events.Bus
	logger  *utils.Logger

	// progress вызывается после каждого слайса (UI-стрим), может быть nil
	progress func(req *Request, slice SliceResult, totalSlices int)

	// Инъекция времени для тестов
	now func() time.Time
}

// OnSliceProgress устанавливает callback прогресса исполнения.
// Вызывать до Execute; callback не должен блокировать.
func (e *Engine) OnSliceProgress(fn func(req *Request, slice SliceResult, totalSlices int)) {
	e.progress = fn
}

// NewEngine создает движок
func NewEngine(cfg Config, locks *registry.LockManager, orders *registry.OrderRegistry, limiter *ratelimit.Limiter, bus *events.Bus, logger *utils.Logger) *Engine {
	if cfg.FillCheckInterval <= 0 {
		cfg.FillCheckInterval = time.Second
	}
	if cfg.MinSlices < 1 {
		cfg.MinSlices = 1
	}
	if cfg.MaxSlices < cfg.MinSlices {
		cfg.MaxSlices = cfg.MinSlices
	}
	return &Engine{
		cfg:     cfg,
		locks:   locks,
		orders:  orders,
		limiter: limiter,
		bus:     bus,
		logger:  utils.EnsureLogger(logger).WithComponent("execution"),
		now:     time.Now,
	}
}

// leg - одна нога исполнения
type leg struct {
	venue exchange.PerpExchange
	side  string
	mark  float64
}

// Execute выполняет задание под блокировкой символа.
// Слайсы строго последовательны: внутри слайса Leg A завершается
// до начала Leg B.
func (e *Engine) Execute(ctx context.Context, req *Request) *Result {
	started := e.now()
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.New().String()
	}
	// Блокировки, реестр и события ключуются каноническим символом:
	// сырой символ площадки обошёл бы single-flight защиту
	req.Symbol = exchange.NormalizeSymbol(req.Symbol)

	result := &Result{ExecutionID: req.ExecutionID, Symbol: req.Symbol}
	if err := req.Validate(); err != nil {
		result.AbortReason = err.Error()
		return result
	}

	err := e.locks.WithSymbolLock(ctx, req.Symbol, "execute", e.cfg.LockTimeout, func() error {
		e.runExecution(ctx, req, result)
		return nil
	})
	if err != nil {
		result.AbortReason = fmt.Sprintf("symbol lock not acquired: %v", err)
	}

	result.Duration = e.now().Sub(started)
	metrics.RecordExecution(result.Success, result.Duration)
	e.publishOutcome(ctx, req, result)
	return result
}

// runExecution - тело исполнения под блокировкой символа
func (e *Engine) runExecution(ctx context.Context, req *Request, result *Result) {
	plan := e.planSlices(req, e.now())
	result.TotalSlices = plan.Slices

	// Leg A стабильна на всё исполнение: нога на constrained-площадке,
	// иначе длинная
	legA := leg{venue: req.LongVenue, side: exchange.SideLong}
	legB := leg{venue: req.ShortVenue, side: exchange.SideShort}
	if req.ShortVenue.Name() == e.cfg.ConstrainedVenue {
		legA, legB = legB, legA
	}

	e.logger.Info("execution started",
		utils.ExecutionID(req.ExecutionID),
		utils.Symbol(req.Symbol),
		utils.Venue(legA.venue.Name()),
		utils.Int("slices", plan.Slices),
		utils.Float64("slice_size", plan.SliceSize),
		utils.Bool("time_pressure", plan.TimePressure),
	)

	for i := 1; i <= plan.Slices; i++ {
		if err := ctx.Err(); err != nil {
			result.AbortReason = fmt.Sprintf("cancelled before slice %d: %v", i, err)
			return
		}

		legA.mark, legB.mark = e.refreshMarks(ctx, req, legA.venue, legB.venue)

		slice := e.runSlice(ctx, req, plan, i, legA, legB)
		metrics.RecordSliceResult(slice.Error == "", slice.RolledBack)
		if e.progress != nil {
			e.progress(req, slice, plan.Slices)
		}
		result.Slices = append(result.Slices, slice)
		result.LongFilled += slice.LongFilled
		result.ShortFilled += slice.ShortFilled

		if slice.Error != "" {
			result.AbortReason = slice.Error
			return
		}
		result.CompletedSlices++

		if reason, abort := e.checkImbalance(req, plan, slice); abort {
			result.AbortReason = reason
			return
		}

		if i < plan.Slices && e.cfg.InterSliceDelay > 0 {
			timer := time.NewTimer(e.cfg.InterSliceDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				result.AbortReason = fmt.Sprintf("cancelled after slice %d: %v", i, ctx.Err())
				return
			}
		}
	}

	parity := math.Abs(result.LongFilled-result.ShortFilled) / req.Size
	if parity >= overallParityTolerance {
		result.AbortReason = fmt.Sprintf("overall imbalance %.2f%% exceeds tolerance", parity*100)
		return
	}

	result.Success = true
	e.orders.MarkExecutionCompleted(req.Symbol)
}

// refreshMarks обновляет mark-цены обеих ног с откатом на исходную
// цену задания при ошибке запроса
func (e *Engine) refreshMarks(ctx context.Context, req *Request, venueA, venueB exchange.PerpExchange) (float64, float64) {
	markFor := func(venue exchange.PerpExchange) float64 {
		if err := e.limiter.Acquire(ctx, venue.Name(), weightQuery, ratelimit.PriorityNormal, "get_mark_price"); err != nil {
			return req.MarkPrice
		}
		mark, err := venue.GetMarkPrice(ctx, req.Symbol)
		if err != nil || mark <= 0 {
			e.logger.Warn("mark price refresh failed, using original",
				utils.Venue(venue.Name()),
				utils.Symbol(req.Symbol),
			)
			return req.MarkPrice
		}
		return mark
	}
	return markFor(venueA), markFor(venueB)
}

// runSlice исполняет один слайс: Leg A до конца, затем Leg B,
// с откатом Leg A при неудаче Leg B
func (e *Engine) runSlice(ctx context.Context, req *Request, plan SlicePlan, index int, legA, legB leg) SliceResult {
	slice := SliceResult{Index: index, Size: plan.SliceSize}
	logger := e.logger.With(utils.ExecutionID(req.ExecutionID), utils.Symbol(req.Symbol), utils.Slice(index))

	record := func(l leg, filled float64) {
		if l.side == exchange.SideLong {
			slice.LongFilled = filled
		} else {
			slice.ShortFilled = filled
		}
	}

	// ---- Leg A ----
	filledA, err := e.executeLeg(ctx, req, legA, plan.SliceSize, plan.FillTimeout, logger)
	record(legA, filledA)
	if err != nil {
		slice.Error = fmt.Sprintf("Leg A (%s) failed: %v", legA.venue.Name(), err)
		return slice
	}

	// ---- Leg B, размер по фактическому заполнению Leg A ----
	filledB, err := e.executeLeg(ctx, req, legB, filledA, plan.FillTimeout, logger)
	record(legB, filledB)
	if err == nil && filledB >= filledA {
		return slice
	}

	// Leg B не закрыла объём Leg A - откатываем незахеджированное
	unhedged := filledA - filledB
	if err != nil {
		logger.Warn("Leg B failed, rolling back unhedged quantity",
			utils.Venue(legB.venue.Name()),
			utils.Float64("unhedged", unhedged),
			utils.Err(err),
		)
	}

	if unhedged <= 0 {
		return slice
	}

	imbalance := unhedged / plan.SliceSize
	if err == nil && imbalance <= e.cfg.MaxImbalancePercent {
		// Частичное расхождение в допуске - предупреждаем и живём с ним
		logger.Warn("slice imbalance within tolerance",
			utils.Float64("imbalance_pct", imbalance*100),
		)
		return slice
	}

	if rbErr := e.rollbackLeg(ctx, req, legA, unhedged, logger); rbErr != nil {
		e.trackSingleLeg(ctx, req, legA, unhedged)
		slice.Error = fmt.Sprintf("Leg B (%s) failed and rollback failed: %v (rollback: %v)",
			legB.venue.Name(), err, rbErr)
		return slice
	}
	slice.RolledBack = true
	record(legA, filledB)

	if err != nil {
		slice.Error = fmt.Sprintf("Leg B (%s) failed: %v", legB.venue.Name(), err)
	}
	return slice
}

// executeLeg размещает лимитный ордер ноги и ждёт заполнения.
// Возвращает фактически заполненный объём.
func (e *Engine) executeLeg(ctx context.Context, req *Request, l leg, size float64, fillTimeout time.Duration, logger *utils.Logger) (float64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("empty leg size")
	}

	if err := e.limiter.Acquire(ctx, l.venue.Name(), weightPlaceOrder, ratelimit.PriorityHigh, "place_order"); err != nil {
		return 0, err
	}

	// Размер позиции до размещения: база для fallback-детекции
	initialPosition, err := positionSize(ctx, l.venue, req.Symbol, l.side)
	if err != nil {
		logger.Warn("initial position query failed, assuming zero",
			utils.Venue(l.venue.Name()),
			utils.Err(err),
		)
		initialPosition = 0
	}

	key := registry.OrderKey{Venue: l.venue.Name(), Symbol: req.Symbol, Side: l.side}
	if _, err := e.orders.RegisterOrderPlacing(key, req.ExecutionID, size, initialPosition); err != nil {
		return 0, err
	}

	resp, err := l.venue.PlaceOrder(ctx, &exchange.OrderRequest{
		Symbol:      req.Symbol,
		Side:        l.side,
		Type:        exchange.OrderTypeLimit,
		Size:        size,
		LimitPrice:  l.mark,
		TimeInForce: exchange.TIFGoodTillCancel,
	})
	if err != nil {
		_ = e.orders.UpdateOrderStatus(key, registry.StatusFailed, "", 0)
		return 0, fmt.Errorf("placement: %w", err)
	}
	_ = e.orders.UpdateOrderStatus(key, registry.StatusPlaced, resp.OrderID, 0)
	_ = e.orders.UpdateOrderStatus(key, registry.StatusWaitingFill, "", 0)

	outcome := e.waitForFill(ctx, l.venue, resp.OrderID, req.Symbol, l.side, size, initialPosition, fillTimeout)
	if outcome.complete {
		_ = e.orders.UpdateOrderStatus(key, registry.StatusFilled, "", outcome.filled)
		return outcome.filled, nil
	}

	// Не заполнился: снимаем остаток с площадки
	e.cancelRemainder(ctx, l.venue, resp.OrderID, req.Symbol, logger)
	_ = e.orders.UpdateOrderStatus(key, registry.StatusCancelled, "", outcome.filled)

	// Частичное заполнение от половины слайса пригодно для хеджа
	if outcome.filled >= 0.5*size {
		logger.Warn("leg partially filled, continuing with actual fill",
			utils.Venue(l.venue.Name()),
			utils.Float64("filled", outcome.filled),
			utils.Float64("requested", size),
		)
		return outcome.filled, nil
	}

	if outcome.filled > 0 {
		return outcome.filled, fmt.Errorf("filled %.4f of %.4f before %v", outcome.filled, size, outcome.err)
	}
	return 0, outcome.err
}

// cancelRemainder снимает незаполненный остаток ордера
func (e *Engine) cancelRemainder(ctx context.Context, venue exchange.PerpExchange, orderID, symbol string, logger *utils.Logger) {
	if err := e.limiter.Acquire(ctx, venue.Name(), weightCancelOrder, ratelimit.PriorityHigh, "cancel_order"); err != nil {
		logger.Warn("cancel skipped: limiter", utils.Err(err))
		return
	}
	if err := venue.CancelOrder(ctx, orderID, symbol); err != nil {
		logger.Warn("cancel remainder failed",
			utils.Venue(venue.Name()),
			utils.OrderID(orderID),
			utils.Err(err),
		)
	}
}

// rollbackLeg закрывает незахеджированный объём ноги reduceOnly
// маркет-ордером противоположной стороны
func (e *Engine) rollbackLeg(ctx context.Context, req *Request, l leg, qty float64, logger *utils.Logger) error {
	logger.Warn("rolling back unhedged leg",
		utils.Venue(l.venue.Name()),
		utils.Side(l.side),
		utils.Float64("quantity", qty),
	)

	return retry.Do(ctx, func() error {
		if err := e.limiter.Acquire(ctx, l.venue.Name(), weightPlaceOrder, ratelimit.PriorityEmergency, "rollback"); err != nil {
			return err
		}
		_, err := l.venue.PlaceOrder(ctx, &exchange.OrderRequest{
			Symbol:     req.Symbol,
			Side:       exchange.OppositeSide(l.side),
			Type:       exchange.OrderTypeMarket,
			Size:       qty,
			ReduceOnly: true,
		})
		return err
	}, retry.SafetyConfig())
}

// trackSingleLeg регистрирует незакрытую одиночную ногу и публикует
// событие для внешнего вмешательства
func (e *Engine) trackSingleLeg(ctx context.Context, req *Request, l leg, qty float64) {
	sizeUsd := qty * l.mark
	e.orders.RecordSingleLeg(registry.SingleLegRecord{
		ExecutionID: req.ExecutionID,
		Symbol:      req.Symbol,
		Venue:       l.venue.Name(),
		Side:        l.side,
		SizeUsd:     sizeUsd,
		Source:      "execution",
	})
	if e.bus != nil {
		e.bus.Publish(ctx, events.NewSingleLegDetected(req.ExecutionID, req.Symbol, l.venue.Name(), l.side, sizeUsd, "execution"))
	}
}

// checkImbalance применяет пороги дисбаланса после успешного слайса
func (e *Engine) checkImbalance(req *Request, plan SlicePlan, slice SliceResult) (string, bool) {
	legAFilled := slice.LongFilled
	legBFilled := slice.ShortFilled

	if legAFilled == 0 || legBFilled == 0 {
		if legAFilled == 0 && legBFilled == 0 {
			// Слайс без заполнений с пустой ошибкой не бывает, но
			// нулевой объём не дисбаланс
			return "", false
		}
		return "one side completely failed", true
	}

	imbalance := math.Abs(legAFilled-legBFilled) / plan.SliceSize
	if imbalance > e.cfg.MaxImbalancePercent {
		return fmt.Sprintf("slice %d imbalance %.2f%% exceeds %.2f%%",
			slice.Index, imbalance*100, e.cfg.MaxImbalancePercent*100), true
	}
	if imbalance > 0 {
		e.logger.Warn("slice imbalance within tolerance",
			utils.ExecutionID(req.ExecutionID),
			utils.Slice(slice.Index),
			utils.Float64("imbalance_pct", imbalance*100),
		)
	}
	return "", false
}

// publishOutcome публикует терминальное событие исполнения
func (e *Engine) publishOutcome(ctx context.Context, req *Request, result *Result) {
	if e.bus == nil {
		return
	}
	if result.Success {
		e.bus.Publish(ctx, events.NewExecutionCompleted(
			req.ExecutionID, req.Symbol,
			req.LongVenue.Name(), req.ShortVenue.Name(),
			result.LongFilled*req.MarkPrice,
			result.TotalSlices,
			result.Duration,
		))
		return
	}
	e.bus.Publish(ctx, events.NewExecutionAborted(req.ExecutionID, req.Symbol, result.AbortReason, result.CompletedSlices+1))
}
