// Package metrics - prometheus-метрики keeper'а.
//
// Все метрики объявлены на уровне пакета через promauto и доступны
// из любого компонента. Хелперы оставляют вызовы одной строкой.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fundarb"

// ============================================================
// Исполнение
// ============================================================

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "total",
		Help:      "Executions by outcome",
	}, []string{"outcome"})

	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "duration_seconds",
		Help:      "End-to-end execution duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	slicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "slices_total",
		Help:      "Executed slices by outcome",
	}, []string{"outcome"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "rollbacks_total",
		Help:      "Unhedged leg rollbacks",
	})
)

// RecordExecution учитывает завершённое исполнение
func RecordExecution(success bool, duration time.Duration) {
	executionsTotal.WithLabelValues(outcome(success)).Inc()
	executionDuration.Observe(duration.Seconds())
}

// RecordSliceResult учитывает один слайс
func RecordSliceResult(success, rolledBack bool) {
	slicesTotal.WithLabelValues(outcome(success)).Inc()
	if rolledBack {
		rollbacksTotal.Inc()
	}
}

// ============================================================
// Rate limiter
// ============================================================

var (
	limiterWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for rate-limit budget",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	}, []string{"venue"})

	externalLimitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "external_total",
		Help:      "429 responses reported by venues",
	}, []string{"venue"})
)

// RecordLimiterWait учитывает ожидание бюджета площадки
func RecordLimiterWait(venue string, wait time.Duration) {
	limiterWait.WithLabelValues(venue).Observe(wait.Seconds())
}

// RecordExternalRateLimit учитывает внешний 429
func RecordExternalRateLimit(venue string) {
	externalLimitsTotal.WithLabelValues(venue).Inc()
}

// ============================================================
// Реестр
// ============================================================

var (
	staleEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "stale_evictions_total",
		Help:      "Stale lock/order evictions by kind",
	}, []string{"kind"})

	singleLegsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "single_legs",
		Help:      "Currently tracked unhedged single legs",
	})
)

// RecordStaleEviction учитывает вытеснение протухшей записи
// (kind: symbol_lock, global_lock, order)
func RecordStaleEviction(kind string) {
	staleEvictionsTotal.WithLabelValues(kind).Inc()
}

// SetSingleLegs обновляет число отслеживаемых одиночных ног
func SetSingleLegs(n int) {
	singleLegsGauge.Set(float64(n))
}

// ============================================================
// События
// ============================================================

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Domain events published by type",
}, []string{"type"})

// RecordEvent учитывает публикацию доменного события
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// ============================================================
// Площадки
// ============================================================

var (
	venueEquity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "venue",
		Name:      "equity_usd",
		Help:      "Account equity per venue",
	}, []string{"venue"})

	venueRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "venue",
		Name:      "requests_total",
		Help:      "Venue API requests by operation and outcome",
	}, []string{"venue", "operation", "outcome"})
)

// UpdateVenueEquity обновляет equity площадки
func UpdateVenueEquity(venue string, equity float64) {
	venueEquity.WithLabelValues(venue).Set(equity)
}

// RecordVenueRequest учитывает запрос к площадке
func RecordVenueRequest(venue, operation string, err error) {
	venueRequestsTotal.WithLabelValues(venue, operation, outcome(err == nil)).Inc()
}

// ============================================================
// Keeper
// ============================================================

var (
	keeperPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "keeper",
		Name:      "paused",
		Help:      "1 when the keeper is paused",
	})

	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "keeper",
		Name:      "evaluations_total",
		Help:      "Evaluation cycles by decision",
	}, []string{"decision"})

	portfolioEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "keeper",
		Name:      "portfolio_equity_usd",
		Help:      "Aggregated equity across venues",
	})
)

// SetPaused отражает паузу keeper'а
func SetPaused(paused bool) {
	if paused {
		keeperPaused.Set(1)
		return
	}
	keeperPaused.Set(0)
}

// RecordEvaluation учитывает цикл оценки (decision: open, rebalance,
// hold, no_candidate)
func RecordEvaluation(decision string) {
	evaluationsTotal.WithLabelValues(decision).Inc()
}

// SetPortfolioEquity обновляет суммарный equity портфеля
func SetPortfolioEquity(equity float64) {
	portfolioEquity.Set(equity)
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
