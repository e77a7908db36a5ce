package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"fundarb/internal/events"
	"fundarb/internal/exchange"
	"fundarb/internal/registry"
	"fundarb/pkg/ratelimit"
)

// Limiter с запасом, чтобы тесты не упирались в бюджеты
func testLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Config{
		Default: ratelimit.VenueLimits{MaxPerSecond: 10_000, MaxPerMinute: 600_000},
	}, nil)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SliceFillTimeout = 50 * time.Millisecond
	cfg.FillCheckInterval = time.Millisecond
	cfg.InterSliceDelay = time.Millisecond
	cfg.LockTimeout = time.Second
	return cfg
}

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	return NewEngine(cfg,
		registry.NewLockManager(nil),
		registry.NewOrderRegistry(nil),
		testLimiter(),
		events.NewBus(nil),
		nil,
	)
}

// Маленькая позиция на большом портфеле: один слайс, обе ноги
// заполняются, исполнение успешно
func TestExecuteSingleSliceHappyPath(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("mockB")
	long.SetMarkPrice("ETH", 3000)
	short.SetMarkPrice("ETH", 3000)

	e := testEngine(t, testConfig())
	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         0.1,
		MarkPrice:    3000,
		PortfolioUsd: 100_000,
	})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.AbortReason)
	}
	if res.TotalSlices != 1 || res.CompletedSlices != 1 {
		t.Errorf("slices = %d/%d, want 1/1", res.CompletedSlices, res.TotalSlices)
	}
	if res.LongFilled != 0.1 || res.ShortFilled != 0.1 {
		t.Errorf("filled = %v/%v, want 0.1/0.1", res.LongFilled, res.ShortFilled)
	}
	if got := len(long.CallsOf("place")); got != 1 {
		t.Errorf("long venue got %d place calls, want 1", got)
	}
	if got := len(short.CallsOf("place")); got != 1 {
		t.Errorf("short venue got %d place calls, want 1", got)
	}
}

// Сырой символ площадки нормализуется на входе: блокировки, реестр
// и отметки завершения ключуются каноническим символом, иначе сверка
// (работающая с нормализованными символами) их не увидит
func TestExecuteNormalizesRawSymbol(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("mockB")
	long.SetMarkPrice("ETH", 3000)
	short.SetMarkPrice("ETH", 3000)

	locks := registry.NewLockManager(nil)
	orders := registry.NewOrderRegistry(nil)
	e := NewEngine(testConfig(), locks, orders, testLimiter(), events.NewBus(nil), nil)

	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETHUSDT",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         0.1,
		MarkPrice:    3000,
		PortfolioUsd: 100_000,
	})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.AbortReason)
	}
	if res.Symbol != "ETH" {
		t.Errorf("result symbol = %q, want canonical ETH", res.Symbol)
	}
	for _, rec := range orders.History() {
		if rec.Key.Symbol != "ETH" {
			t.Errorf("order registry key symbol = %q, want ETH", rec.Key.Symbol)
		}
	}
	if _, ok := orders.LastExecutionCompleted("ETH"); !ok {
		t.Error("completion mark missing under canonical symbol")
	}
	if _, ok := orders.LastExecutionCompleted("ETHUSDT"); ok {
		t.Error("completion mark recorded under raw symbol")
	}
}

// Нотационал $2500 при лимите $500 на слайс: ровно 5 слайсов по 0.5
func TestExecuteSplitsIntoFiveSlices(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("mockB")
	long.SetMarkPrice("OP", 1000)
	short.SetMarkPrice("OP", 1000)

	cfg := testConfig()
	cfg.MaxUsdPerSlice = 500
	cfg.MaxPortfolioPctPerSlice = 1.0

	e := testEngine(t, cfg)
	res := e.Execute(context.Background(), &Request{
		Symbol:       "OP",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         2.5,
		MarkPrice:    1000,
		PortfolioUsd: 100_000,
	})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.AbortReason)
	}
	if res.TotalSlices != 5 || res.CompletedSlices != 5 {
		t.Fatalf("slices = %d/%d, want 5/5", res.CompletedSlices, res.TotalSlices)
	}
	for _, c := range long.CallsOf("place") {
		if c.Size != 0.5 {
			t.Errorf("slice size = %v, want 0.5", c.Size)
		}
	}
	if got := len(short.CallsOf("place")); got != 5 {
		t.Errorf("short venue got %d place calls, want 5", got)
	}
	if res.LongFilled != 2.5 || res.ShortFilled != 2.5 {
		t.Errorf("filled = %v/%v, want 2.5/2.5", res.LongFilled, res.ShortFilled)
	}
}

// Leg A не заполняется: остаток снимается, Leg B не размещается,
// причина остановки называет ногу
func TestExecuteLegANeverFills(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("mockB")
	long.SetMarkPrice("ETH", 3000)
	short.SetMarkPrice("ETH", 3000)
	long.ScriptNextOrder(exchange.OrderStatusInfo{State: exchange.OrderStatePlaced})

	e := testEngine(t, testConfig())
	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         1.0,
		MarkPrice:    3000,
		PortfolioUsd: 1_000_000,
	})

	if res.Success {
		t.Fatal("execution succeeded with unfilled Leg A")
	}
	if !strings.Contains(res.AbortReason, "Leg A") {
		t.Errorf("abort reason %q does not name Leg A", res.AbortReason)
	}
	if got := len(short.CallsOf("place")); got != 0 {
		t.Errorf("Leg B was placed %d times despite Leg A failure", got)
	}
	if got := len(long.CallsOf("cancel")); got != 1 {
		t.Errorf("cancel called %d times on Leg A venue, want 1", got)
	}
}

// Отказ размещения Leg B: заполненная Leg A закрывается reduceOnly
// маркет-ордером противоположной стороны
func TestExecuteLegBRejectedRollsBackLegA(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("mockB")
	long.SetMarkPrice("ETH", 3000)
	short.SetMarkPrice("ETH", 3000)
	short.FailNextPlace(1, nil)

	e := testEngine(t, testConfig())
	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         1.0,
		MarkPrice:    3000,
		PortfolioUsd: 1_000_000,
	})

	if res.Success {
		t.Fatal("execution succeeded despite Leg B rejection")
	}
	if !strings.Contains(res.AbortReason, "Leg B") {
		t.Errorf("abort reason %q does not name Leg B", res.AbortReason)
	}

	places := long.CallsOf("place")
	if len(places) != 2 {
		t.Fatalf("Leg A venue got %d place calls, want entry + rollback", len(places))
	}
	rollback := places[1]
	if !rollback.Reduce {
		t.Error("rollback order is not reduce-only")
	}
	if rollback.Side != exchange.SideShort {
		t.Errorf("rollback side = %s, want short", rollback.Side)
	}
	if rollback.Size != 1.0 {
		t.Errorf("rollback size = %v, want 1.0", rollback.Size)
	}
	if len(res.Slices) != 1 || !res.Slices[0].RolledBack {
		t.Error("slice not marked as rolled back")
	}

	// Позиция Leg A закрыта откатом
	pos, err := long.GetPosition(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != nil {
		t.Errorf("Leg A position survived rollback: %+v", pos)
	}
}

// Существующая позиция не доказательство заполнения: при отказах
// запроса статуса нулевая дельта позиции не признаётся заполнением
func TestExecutePreexistingPositionNotCountedAsFill(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("mockB")
	long.SetMarkPrice("ETH", 3000)
	short.SetMarkPrice("ETH", 3000)

	long.SetApplyFills(false)
	long.SeedPosition("ETH", exchange.SideLong, 168.2, 2900)
	long.FailNextStatus(1000)

	e := testEngine(t, testConfig())
	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         1.0,
		MarkPrice:    3000,
		PortfolioUsd: 1_000_000,
	})

	if res.Success {
		t.Fatal("stale position was counted as a fill")
	}
	if got := len(short.CallsOf("place")); got != 0 {
		t.Errorf("Leg B was placed %d times without a confirmed Leg A fill", got)
	}
	if !strings.Contains(res.AbortReason, "fill timeout") {
		t.Errorf("abort reason %q, want fill timeout", res.AbortReason)
	}
}

// Рост позиции от снятой до размещения базы признаётся заполнением
func TestPositionDeltaConfirmsFill(t *testing.T) {
	venue := exchange.NewMock("mockA")
	venue.SetApplyFills(false)
	venue.SeedPosition("ETH", exchange.SideLong, 169.2, 2900)

	e := testEngine(t, testConfig())
	filled, ok := e.positionDelta(context.Background(), venue, "ETH", exchange.SideLong, 1.0, 168.2)
	if !ok {
		t.Fatal("delta of full expected size not recognized as fill")
	}
	if filled != 1.0 {
		t.Errorf("filled = %v, want 1.0", filled)
	}

	// Дельта ниже порога не признаётся
	if _, ok := e.positionDelta(context.Background(), venue, "ETH", exchange.SideLong, 1.0, 168.5); ok {
		t.Error("sub-threshold delta recognized as fill")
	}
	// Противоположная сторона не в счёт
	if _, ok := e.positionDelta(context.Background(), venue, "ETH", exchange.SideShort, 1.0, 0); ok {
		t.Error("opposite-side position recognized as fill")
	}
}

// Динамическая разбивка: 4 минуты до фандинга при 2-минутном буфере
// дают 3 слайса, близость фандинга сокращает таймаут заполнения
func TestPlanSlicesDynamicUnderTimePressure(t *testing.T) {
	cfg := testConfig()
	cfg.DynamicSlicing = true
	cfg.FundingBuffer = 2 * time.Minute
	cfg.SliceFillTimeout = 30 * time.Second

	e := testEngine(t, cfg)
	req := &Request{
		Symbol:       "ETH",
		LongVenue:    exchange.NewMock("hyperliquid"),
		ShortVenue:   exchange.NewMock("bybit"),
		Size:         3.0,
		MarkPrice:    1000,
		PortfolioUsd: 1_000_000,
	}

	// hyperliquid платит на границе часа: до 11:00 ровно 4 минуты
	now := time.Date(2026, 1, 2, 10, 56, 0, 0, time.UTC)
	plan := e.planSlices(req, now)

	// 120s доступных / 30.5s на слайс = 3
	if plan.Slices != 3 {
		t.Errorf("slices = %d, want 3", plan.Slices)
	}
	if !plan.TimePressure {
		t.Error("time pressure not flagged at 4 minutes to funding")
	}
	if plan.FillTimeout != reducedFillTimeout {
		t.Errorf("fill timeout = %v, want %v", plan.FillTimeout, reducedFillTimeout)
	}
	if plan.SliceSize != 1.0 {
		t.Errorf("slice size = %v, want 1.0", plan.SliceSize)
	}
}

// Тот же сценарий целиком: три слайса исполняются успешно
func TestExecuteDynamicSlicingEndToEnd(t *testing.T) {
	long := exchange.NewMock("hyperliquid")
	short := exchange.NewMock("bybit")
	long.SetMarkPrice("ETH", 1000)
	short.SetMarkPrice("ETH", 1000)

	cfg := testConfig()
	cfg.DynamicSlicing = true
	cfg.FundingBuffer = 2 * time.Minute
	cfg.SliceFillTimeout = 30 * time.Second

	e := testEngine(t, cfg)
	frozen := time.Date(2026, 1, 2, 10, 56, 0, 0, time.UTC)
	e.now = func() time.Time { return frozen }

	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         3.0,
		MarkPrice:    1000,
		PortfolioUsd: 1_000_000,
	})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.AbortReason)
	}
	if res.TotalSlices != 3 {
		t.Errorf("slices = %d, want 3", res.TotalSlices)
	}
	if got := len(long.CallsOf("place")); got != 3 {
		t.Errorf("long venue got %d place calls, want 3", got)
	}
}

// Частичное заполнение Leg A от половины слайса: остаток снимается,
// Leg B размечается под фактический объём
func TestExecuteLegAPartialFillShrinksLegB(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("mockB")
	long.SetMarkPrice("ETH", 3000)
	short.SetMarkPrice("ETH", 3000)
	long.ScriptNextOrder(exchange.OrderStatusInfo{
		State:      exchange.OrderStatePartiallyFilled,
		FilledSize: 0.6,
	})

	e := testEngine(t, testConfig())
	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         1.0,
		MarkPrice:    3000,
		PortfolioUsd: 1_000_000,
	})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.AbortReason)
	}
	places := short.CallsOf("place")
	if len(places) != 1 {
		t.Fatalf("Leg B got %d place calls, want 1", len(places))
	}
	if places[0].Size != 0.6 {
		t.Errorf("Leg B size = %v, want 0.6 (actual Leg A fill)", places[0].Size)
	}
	if got := len(long.CallsOf("cancel")); got != 1 {
		t.Errorf("remainder cancel called %d times, want 1", got)
	}
	if res.LongFilled != 0.6 || res.ShortFilled != 0.6 {
		t.Errorf("filled = %v/%v, want 0.6/0.6", res.LongFilled, res.ShortFilled)
	}
}

// failReduceOnly отвергает reduceOnly-ордера поверх обычного mock
type failReduceOnly struct {
	*exchange.Mock
}

func (f *failReduceOnly) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResponse, error) {
	if req.ReduceOnly {
		return nil, exchange.NewVenueError(f.Name(), "10001", exchange.ErrKindRejected, "reduce-only rejected", nil)
	}
	return f.Mock.PlaceOrder(ctx, req)
}

// Откат тоже не удался: одиночная нога регистрируется и публикуется
// критическое событие
func TestExecuteRollbackFailureRecordsSingleLeg(t *testing.T) {
	inner := exchange.NewMock("mockA")
	inner.SetMarkPrice("ETH", 3000)
	long := &failReduceOnly{Mock: inner}

	short := exchange.NewMock("mockB")
	short.SetMarkPrice("ETH", 3000)
	short.FailNextPlace(1, nil)

	orders := registry.NewOrderRegistry(nil)
	bus := events.NewBus(nil)

	var singleLegEvents int
	bus.Subscribe(events.TypeSingleLegDetected, func(ctx context.Context, ev events.Event) error {
		singleLegEvents++
		return nil
	})

	e := NewEngine(testConfig(), registry.NewLockManager(nil), orders, testLimiter(), bus, nil)
	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         1.0,
		MarkPrice:    3000,
		PortfolioUsd: 1_000_000,
	})

	if res.Success {
		t.Fatal("execution succeeded despite failed rollback")
	}
	if !strings.Contains(res.AbortReason, "rollback failed") {
		t.Errorf("abort reason %q does not mention rollback failure", res.AbortReason)
	}

	legs := orders.SingleLegs()
	if len(legs) != 1 {
		t.Fatalf("single legs recorded = %d, want 1", len(legs))
	}
	if legs[0].Venue != "mockA" || legs[0].Side != exchange.SideLong {
		t.Errorf("single leg = %s/%s, want mockA/long", legs[0].Venue, legs[0].Side)
	}
	if legs[0].SizeUsd != 3000 {
		t.Errorf("single leg size = %v USD, want 3000", legs[0].SizeUsd)
	}
	if singleLegEvents != 1 {
		t.Errorf("single leg events published = %d, want 1", singleLegEvents)
	}
}

// Успешное исполнение публикует терминальное событие
func TestExecutePublishesCompletionEvent(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("mockB")
	long.SetMarkPrice("ETH", 3000)
	short.SetMarkPrice("ETH", 3000)

	bus := events.NewBus(nil)
	var completed int
	bus.Subscribe(events.TypeExecutionCompleted, func(ctx context.Context, ev events.Event) error {
		completed++
		return nil
	})

	e := NewEngine(testConfig(), registry.NewLockManager(nil), registry.NewOrderRegistry(nil), testLimiter(), bus, nil)
	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         0.1,
		MarkPrice:    3000,
		PortfolioUsd: 100_000,
	})

	if !res.Success {
		t.Fatalf("execution failed: %s", res.AbortReason)
	}
	if completed != 1 {
		t.Errorf("completion events = %d, want 1", completed)
	}
}

// Нога на constrained-площадке всегда исполняется первой
func TestExecuteConstrainedVenueGoesFirst(t *testing.T) {
	long := exchange.NewMock("mockA")
	short := exchange.NewMock("hyperliquid")
	long.SetMarkPrice("ETH", 3000)
	short.SetMarkPrice("ETH", 3000)
	// Заваливаем Leg A (short на hyperliquid): Leg B не должна разместиться
	short.ScriptNextOrder(exchange.OrderStatusInfo{State: exchange.OrderStatePlaced})

	e := testEngine(t, testConfig())
	res := e.Execute(context.Background(), &Request{
		Symbol:       "ETH",
		LongVenue:    long,
		ShortVenue:   short,
		Size:         1.0,
		MarkPrice:    3000,
		PortfolioUsd: 1_000_000,
	})

	if res.Success {
		t.Fatal("execution succeeded with unfilled constrained leg")
	}
	if !strings.Contains(res.AbortReason, "hyperliquid") {
		t.Errorf("abort reason %q does not name the constrained venue", res.AbortReason)
	}
	if got := len(long.CallsOf("place")); got != 0 {
		t.Errorf("unconstrained leg placed %d times before constrained leg filled", got)
	}
}

func TestSafetySliceCount(t *testing.T) {
	cfg := Config{MaxPortfolioPctPerSlice: 0.05, MaxUsdPerSlice: 10_000}

	tests := []struct {
		name         string
		totalUsd     float64
		portfolioUsd float64
		expected     int
	}{
		{"small order single slice", 300, 100_000, 1},
		{"portfolio cap dominates", 20_000, 100_000, 4},   // cap 5000
		{"absolute cap dominates", 50_000, 1_000_000, 5},  // cap 10000
		{"exact multiple", 15_000, 100_000, 3},
		{"zero portfolio falls back", 5000, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := safetySliceCount(tt.totalUsd, tt.portfolioUsd, cfg)
			if got != tt.expected {
				t.Errorf("safetySliceCount = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestRequestValidate(t *testing.T) {
	valid := func() *Request {
		return &Request{
			Symbol:       "ETH",
			LongVenue:    exchange.NewMock("mockA"),
			ShortVenue:   exchange.NewMock("mockB"),
			Size:         1,
			MarkPrice:    3000,
			PortfolioUsd: 100_000,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	r := valid()
	r.Symbol = ""
	if err := r.Validate(); err == nil {
		t.Error("empty symbol accepted")
	}

	r = valid()
	r.ShortVenue = r.LongVenue
	if err := r.Validate(); err == nil {
		t.Error("same venue on both legs accepted")
	}

	r = valid()
	r.Size = 0
	if err := r.Validate(); err == nil {
		t.Error("zero size accepted")
	}
}
