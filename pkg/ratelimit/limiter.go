// Package ratelimit реализует взвешенный rate limiter площадок
// с двумя скользящими окнами и приоритетной очередью ожидания.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"fundarb/pkg/utils"
)

// Алгоритм:
// - На площадку ведутся два скользящих окна: секундное и минутное.
// - Каждый запрос декларирует вес (тяжелые info-эндпоинты весят больше).
// - Запрос допускается, когда оба окна вмещают его вес.
// - Ожидающие выстраиваются в очередь: по приоритету, внутри
//   приоритета FIFO. emergency обходит секундное окно и очередь,
//   но уважает 110% минутного лимита (защита от бана).

// Priority - приоритет запроса
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityEmergency
)

func (p Priority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// waitFactor - множитель расчётного времени ожидания
func (p Priority) waitFactor() float64 {
	switch p {
	case PriorityEmergency:
		return 0.5
	case PriorityHigh:
		return 0.8
	default:
		return 1.0
	}
}

const (
	secondWindow = time.Second
	minuteWindow = time.Minute

	// Буфер поверх расчётного времени ожидания: страхует от рассинхрона
	// часов и гранулярности таймера
	safetyBuffer = 50 * time.Millisecond

	// Допуск сверх минутного лимита для emergency-запросов
	emergencyOverflow = 1.1
)

// VenueLimits - бюджеты площадки в единицах веса
type VenueLimits struct {
	MaxPerSecond float64
	MaxPerMinute float64
}

// Config - конфигурация limiter'а
type Config struct {
	// Default применяется к площадкам без явного override
	Default VenueLimits

	// Overrides - лимиты конкретных площадок
	Overrides map[string]VenueLimits
}

// DefaultConfig возвращает лимиты по публичной документации площадок,
// с запасом вниз
func DefaultConfig() Config {
	return Config{
		Default: VenueLimits{MaxPerSecond: 10, MaxPerMinute: 300},
		Overrides: map[string]VenueLimits{
			"bybit":       {MaxPerSecond: 10, MaxPerMinute: 400},
			"bitget":      {MaxPerSecond: 10, MaxPerMinute: 300},
			"hyperliquid": {MaxPerSecond: 20, MaxPerMinute: 1000},
		},
	}
}

// entry - запись окна: момент и вес
type entry struct {
	ts     time.Time
	weight float64
}

// waiter - участник очереди ожидания площадки
type waiter struct {
	priority Priority
	seq      uint64
}

// venueState - окна и очередь одной площадки
type venueState struct {
	limits    VenueLimits
	secWindow []entry
	minWindow []entry
	queue     []*waiter
}

// Limiter - общий для всех адаптеров взвешенный rate limiter
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	venues map[string]*venueState
	seq    uint64

	analytics *analyticsState
	logger    *utils.Logger

	// Инъекция времени для тестов
	now func() time.Time
}

// NewLimiter создает limiter с конфигурацией cfg
func NewLimiter(cfg Config, logger *utils.Logger) *Limiter {
	if cfg.Default.MaxPerSecond <= 0 {
		cfg.Default.MaxPerSecond = 10
	}
	if cfg.Default.MaxPerMinute <= 0 {
		cfg.Default.MaxPerMinute = 300
	}
	return &Limiter{
		cfg:       cfg,
		venues:    make(map[string]*venueState),
		analytics: newAnalyticsState(),
		logger:    utils.EnsureLogger(logger).WithComponent("ratelimit"),
		now:       time.Now,
	}
}

// venue возвращает состояние площадки, создавая при необходимости.
// Вызывается под mu.
func (l *Limiter) venue(name string) *venueState {
	vs, ok := l.venues[name]
	if !ok {
		limits := l.cfg.Default
		if override, ok := l.cfg.Overrides[name]; ok {
			limits = override
		}
		vs = &venueState{limits: limits}
		l.venues[name] = vs
	}
	return vs
}

// prune удаляет записи, вышедшие из окон. Вызывается под mu.
func (vs *venueState) prune(now time.Time) {
	vs.secWindow = pruneWindow(vs.secWindow, now.Add(-secondWindow))
	vs.minWindow = pruneWindow(vs.minWindow, now.Add(-minuteWindow))
}

// pruneWindow отрезает записи с ts <= cutoff. Порядок по ts
// поддерживает insertEntry, иначе бинарный поиск некорректен.
func pruneWindow(window []entry, cutoff time.Time) []entry {
	idx := sort.Search(len(window), func(i int) bool {
		return window[i].ts.After(cutoff)
	})
	if idx == 0 {
		return window
	}
	return append(window[:0:0], window[idx:]...)
}

// insertEntry вставляет запись с сохранением порядка окна по ts.
// Обычные допуски идут в конец, но синтетические записи cooldown'а
// датируются и прошлым (cooldown короче окна), и будущим (длиннее),
// поэтому позиция ищется всегда.
func insertEntry(window []entry, e entry) []entry {
	idx := sort.Search(len(window), func(i int) bool {
		return window[i].ts.After(e.ts)
	})
	window = append(window, entry{})
	copy(window[idx+1:], window[idx:])
	window[idx] = e
	return window
}

func windowSum(window []entry) float64 {
	var sum float64
	for _, e := range window {
		sum += e.weight
	}
	return sum
}

// waitFor возвращает время до момента, когда окно освободит weight
func waitFor(window []entry, windowLen time.Duration, max, sum, weight float64, now time.Time) time.Duration {
	needed := sum + weight - max
	if needed <= 0 {
		return 0
	}
	var freed float64
	for _, e := range window {
		freed += e.weight
		if freed >= needed {
			return e.ts.Add(windowLen).Sub(now)
		}
	}
	return windowLen
}

// admit записывает вес в оба окна. Вызывается под mu.
func (vs *venueState) admit(now time.Time, weight float64) {
	vs.secWindow = insertEntry(vs.secWindow, entry{ts: now, weight: weight})
	vs.minWindow = insertEntry(vs.minWindow, entry{ts: now, weight: weight})
}

// canAdmit проверяет, вмещают ли оба окна вес. Вызывается под mu.
func (vs *venueState) canAdmit(weight float64) bool {
	return windowSum(vs.secWindow)+weight <= vs.limits.MaxPerSecond &&
		windowSum(vs.minWindow)+weight <= vs.limits.MaxPerMinute
}

// isHead проверяет, стоит ли w первым среди ожидающих с приоритетом
// не ниже его собственного. Вызывается под mu.
func (vs *venueState) isHead(w *waiter) bool {
	for _, other := range vs.queue {
		if other == w {
			continue
		}
		if other.priority > w.priority {
			return false
		}
		if other.priority == w.priority && other.seq < w.seq {
			return false
		}
	}
	return true
}

// dequeue удаляет w из очереди. Вызывается под mu.
func (vs *venueState) dequeue(w *waiter) {
	for i, other := range vs.queue {
		if other == w {
			vs.queue = append(vs.queue[:i], vs.queue[i+1:]...)
			return
		}
	}
}

// Acquire блокирует до допуска запроса веса weight к площадке venue.
//
// emergency обходит секундное окно и очередь, но соблюдает 110%
// минутного лимита. high обгоняет normal в очереди.
// Отменённый ctx снимает запрос с очереди без записи в окна.
func (l *Limiter) Acquire(ctx context.Context, venue string, weight float64, priority Priority, operation string) error {
	if weight <= 0 {
		weight = 1
	}

	var w *waiter
	var started time.Time
	waited := false

	defer func() {
		if w != nil {
			l.mu.Lock()
			l.venue(venue).dequeue(w)
			l.mu.Unlock()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		if started.IsZero() {
			started = now
		}
		vs := l.venue(venue)
		vs.prune(now)

		if priority == PriorityEmergency {
			// Только минутное окно, с допуском 110%
			if windowSum(vs.minWindow)+weight <= vs.limits.MaxPerMinute*emergencyOverflow {
				vs.admit(now, weight)
				l.recordAdmit(vs, venue, operation, weight, now.Sub(started), now)
				l.mu.Unlock()
				return nil
			}
		} else {
			if w == nil {
				l.seq++
				w = &waiter{priority: priority, seq: l.seq}
				vs.queue = append(vs.queue, w)
			}
			if vs.isHead(w) && vs.canAdmit(weight) {
				vs.dequeue(w)
				w = nil
				vs.admit(now, weight)
				l.recordAdmit(vs, venue, operation, weight, now.Sub(started), now)
				l.mu.Unlock()
				return nil
			}
		}

		wait := l.computeWait(vs, weight, priority, now)

		if !waited {
			waited = true
			l.analytics.recordHit(venue, operation, wait, now)
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// computeWait возвращает время до следующей попытки. Вызывается под mu.
func (l *Limiter) computeWait(vs *venueState, weight float64, priority Priority, now time.Time) time.Duration {
	secSum := windowSum(vs.secWindow)
	minSum := windowSum(vs.minWindow)

	var wait time.Duration
	if priority == PriorityEmergency {
		wait = waitFor(vs.minWindow, minuteWindow, vs.limits.MaxPerMinute*emergencyOverflow, minSum, weight, now)
	} else {
		secWait := waitFor(vs.secWindow, secondWindow, vs.limits.MaxPerSecond, secSum, weight, now)
		minWait := waitFor(vs.minWindow, minuteWindow, vs.limits.MaxPerMinute, minSum, weight, now)
		// Ждать нужно то окно, которое освободится позже: раньше оба
		// всё равно не вместят вес
		wait = secWait
		if minWait > wait {
			wait = minWait
		}
	}

	wait = time.Duration(float64(wait+safetyBuffer) * priority.waitFactor())
	if wait < safetyBuffer {
		wait = safetyBuffer
	}
	return wait
}

// TryAcquire - неблокирующий допуск: true если оба окна вмещают
// вес прямо сейчас и очередь пуста
func (l *Limiter) TryAcquire(venue string, weight float64) bool {
	if weight <= 0 {
		weight = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	vs := l.venue(venue)
	vs.prune(now)

	if len(vs.queue) > 0 || !vs.canAdmit(weight) {
		return false
	}
	vs.admit(now, weight)
	l.recordAdmit(vs, venue, "try_acquire", weight, 0, now)
	return true
}

// RecordExternalRateLimit регистрирует 429 от площадки.
//
// В оба окна вводятся синтетические записи максимального веса,
// датированные так, чтобы окна очистились ровно в now+cooldown.
// До этого момента все вызовы Acquire будут ждать.
func (l *Limiter) RecordExternalRateLimit(venue string, cooldown time.Duration) {
	if cooldown <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	vs := l.venue(venue)
	vs.prune(now)

	release := now.Add(cooldown)
	vs.secWindow = insertEntry(vs.secWindow, entry{ts: release.Add(-secondWindow), weight: vs.limits.MaxPerSecond})
	vs.minWindow = insertEntry(vs.minWindow, entry{ts: release.Add(-minuteWindow), weight: vs.limits.MaxPerMinute})

	l.analytics.recordExternal(venue, cooldown, now)

	l.logger.Warn("external rate limit recorded",
		utils.Venue(venue),
		utils.String("cooldown", cooldown.String()),
	)
}

// recordAdmit фиксирует допуск в аналитике. Вызывается под mu.
func (l *Limiter) recordAdmit(vs *venueState, venue, operation string, weight float64, queueTime time.Duration, now time.Time) {
	usagePct := 0.0
	if vs.limits.MaxPerMinute > 0 {
		usagePct = windowSum(vs.minWindow) / vs.limits.MaxPerMinute * 100
	}
	l.analytics.recordRequest(venue, operation, weight, queueTime, usagePct, now)
}

// Limits возвращает действующие лимиты площадки
func (l *Limiter) Limits(venue string) VenueLimits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.venue(venue).limits
}
