package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fundarb/pkg/utils"
)

const (
	// Блокировка символа старше этого порога считается подвисшей
	// и снимается с предупреждением
	symbolStaleThreshold = 30 * time.Second

	// Порог подвисания глобальной блокировки
	globalStaleThreshold = 120 * time.Second

	// Интервал повторных попыток WithSymbolLock
	symbolRetryInterval = 100 * time.Millisecond
)

// GlobalPriority - приоритет ожидания глобальной блокировки
type GlobalPriority int

const (
	GlobalNormal GlobalPriority = iota
	GlobalRebalance
	GlobalSafety
)

func (p GlobalPriority) String() string {
	switch p {
	case GlobalSafety:
		return "safety"
	case GlobalRebalance:
		return "rebalance"
	default:
		return "normal"
	}
}

// holder - текущий владелец блокировки
type holder struct {
	owner      string
	operation  string
	acquiredAt time.Time
}

// globalWaiter - ожидающий глобальную блокировку
type globalWaiter struct {
	priority  GlobalPriority
	seq       uint64
	owner     string
	operation string
	grant     chan struct{}
	granted   bool
}

// LockManager - блокировки символов и глобальная блокировка стратегии.
// Все мутации сериализованы одним mutex'ом.
type LockManager struct {
	mu          sync.Mutex
	symbolLocks map[string]*holder
	global      *holder
	queue       []*globalWaiter
	seq         uint64
	logger      *utils.Logger

	// Инъекция времени для тестов
	now func() time.Time
}

// NewLockManager создает менеджер блокировок
func NewLockManager(logger *utils.Logger) *LockManager {
	return &LockManager{
		symbolLocks: make(map[string]*holder),
		logger:      utils.EnsureLogger(logger).WithComponent("registry"),
		now:         time.Now,
	}
}

// ============================================================
// Блокировки символов
// ============================================================

// TryAcquireSymbol пытается захватить блокировку символа.
// Успех, если блокировки нет или существующая подвисла (снимается
// с предупреждением).
func (m *LockManager) TryAcquireSymbol(symbol, owner, operation string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.symbolLocks[symbol]; ok {
		age := now.Sub(existing.acquiredAt)
		if age < symbolStaleThreshold {
			return false
		}
		m.logger.Warn("releasing stale symbol lock",
			utils.Symbol(symbol),
			utils.String("stale_owner", existing.owner),
			utils.String("stale_operation", existing.operation),
			utils.String("age", age.String()),
		)
	}

	m.symbolLocks[symbol] = &holder{owner: owner, operation: operation, acquiredAt: now}
	return true
}

// ReleaseSymbol снимает блокировку символа. No-op, если owner
// не совпадает: чужую блокировку снять нельзя.
func (m *LockManager) ReleaseSymbol(symbol, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.symbolLocks[symbol]
	if !ok {
		return
	}
	if existing.owner != owner {
		m.logger.Warn("symbol lock release refused: owner mismatch",
			utils.Symbol(symbol),
			utils.String("holder", existing.owner),
			utils.String("caller", owner),
		)
		return
	}
	delete(m.symbolLocks, symbol)
}

// SymbolLocked возвращает, удерживается ли блокировка символа
// (подвисшие не считаются)
func (m *LockManager) SymbolLocked(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.symbolLocks[symbol]
	if !ok {
		return false
	}
	return m.now().Sub(existing.acquiredAt) < symbolStaleThreshold
}

// WithSymbolLock выполняет fn под блокировкой символа.
// Захват повторяется каждые 100ms до успеха или таймаута.
// Блокировка снимается безусловно, в том числе при ошибке fn.
func (m *LockManager) WithSymbolLock(ctx context.Context, symbol, operation string, timeout time.Duration, fn func() error) error {
	owner := uuid.New().String()
	deadline := m.now().Add(timeout)

	for !m.TryAcquireSymbol(symbol, owner, operation) {
		if m.now().After(deadline) {
			return fmt.Errorf("symbol lock timeout: %s held during %s", symbol, operation)
		}
		timer := time.NewTimer(symbolRetryInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	defer m.ReleaseSymbol(symbol, owner)

	return fn()
}

// ============================================================
// Глобальная блокировка
// ============================================================

// TryAcquireGlobal - неблокирующий захват глобальной блокировки
func (m *LockManager) TryAcquireGlobal(owner, operation string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictStaleGlobal()

	// Очередь не обгоняется даже при свободной блокировке
	if m.global != nil || len(m.queue) > 0 {
		return false
	}
	m.global = &holder{owner: owner, operation: operation, acquiredAt: m.now()}
	return true
}

// AcquireGlobal ждёт глобальную блокировку в приоритетной очереди:
// safety > rebalance > normal, внутри приоритета FIFO.
func (m *LockManager) AcquireGlobal(ctx context.Context, owner, operation string, priority GlobalPriority, timeout time.Duration) error {
	m.mu.Lock()
	m.evictStaleGlobal()

	if m.global == nil && len(m.queue) == 0 {
		m.global = &holder{owner: owner, operation: operation, acquiredAt: m.now()}
		m.mu.Unlock()
		return nil
	}

	m.seq++
	w := &globalWaiter{
		priority:  priority,
		seq:       m.seq,
		owner:     owner,
		operation: operation,
		grant:     make(chan struct{}),
	}
	m.enqueue(w)

	// Блокировка могла освободиться между проверкой и постановкой
	// в очередь - передаём, если w оказался головой
	if m.global == nil {
		m.grantNext()
	}
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.grant:
		return nil
	case <-timer.C:
		m.abandonWaiter(w)
		return fmt.Errorf("global lock timeout after %s (%s, priority %s)", timeout, operation, priority)
	case <-ctx.Done():
		m.abandonWaiter(w)
		return ctx.Err()
	}
}

// ReleaseGlobal снимает глобальную блокировку и синхронно передаёт её
// голове очереди. No-op при несовпадении владельца.
func (m *LockManager) ReleaseGlobal(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global == nil {
		return
	}
	if m.global.owner != owner {
		m.logger.Warn("global lock release refused: owner mismatch",
			utils.String("holder", m.global.owner),
			utils.String("caller", owner),
		)
		return
	}
	m.global = nil
	m.grantNext()
}

// ForceReleaseGlobal снимает блокировку независимо от владельца
// и передаёт следующему ожидающему
func (m *LockManager) ForceReleaseGlobal(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global != nil {
		m.logger.Warn("global lock force released",
			utils.String("holder", m.global.owner),
			utils.String("operation", m.global.operation),
			utils.String("reason", reason),
		)
		m.global = nil
	}
	m.grantNext()
}

// GlobalHolder возвращает владельца и операцию глобальной блокировки,
// ok=false если блокировка свободна
func (m *LockManager) GlobalHolder() (owner, operation string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global == nil {
		return "", "", false
	}
	return m.global.owner, m.global.operation, true
}

// GlobalQueueLen - размер очереди ожидания (для диагностики)
func (m *LockManager) GlobalQueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// enqueue вставляет w в очередь с сохранением порядка:
// приоритет по убыванию, внутри приоритета FIFO. Вызывается под mu.
func (m *LockManager) enqueue(w *globalWaiter) {
	pos := len(m.queue)
	for i, other := range m.queue {
		if w.priority > other.priority {
			pos = i
			break
		}
	}
	m.queue = append(m.queue, nil)
	copy(m.queue[pos+1:], m.queue[pos:])
	m.queue[pos] = w
}

// grantNext передаёт свободную блокировку голове очереди.
// Вызывается под mu при m.global == nil.
func (m *LockManager) grantNext() {
	if m.global != nil || len(m.queue) == 0 {
		return
	}
	w := m.queue[0]
	m.queue = m.queue[1:]
	m.global = &holder{owner: w.owner, operation: w.operation, acquiredAt: m.now()}
	w.granted = true
	close(w.grant)
}

// abandonWaiter снимает w с очереди при таймауте или отмене.
// Если передача уже произошла, блокировка немедленно освобождается.
func (m *LockManager) abandonWaiter(w *globalWaiter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.granted {
		if m.global != nil && m.global.owner == w.owner {
			m.global = nil
			m.grantNext()
		}
		return
	}
	for i, other := range m.queue {
		if other == w {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// evictStaleGlobal снимает подвисшую глобальную блокировку.
// Вызывается под mu.
func (m *LockManager) evictStaleGlobal() {
	if m.global == nil {
		return
	}
	age := m.now().Sub(m.global.acquiredAt)
	if age < globalStaleThreshold {
		return
	}
	m.logger.Warn("releasing stale global lock",
		utils.String("stale_owner", m.global.owner),
		utils.String("stale_operation", m.global.operation),
		utils.String("age", age.String()),
	)
	m.global = nil
	m.grantNext()
}
