package ratelimit

import (
	"sync"
	"time"
)

// ============================================================
// Аналитика limiter'а
// ============================================================

const (
	hitRingCapacity     = 1000
	requestRingCapacity = 10000
)

// HitEvent - факт ожидания на limiter'е
type HitEvent struct {
	Venue     string    `json:"venue"`
	Operation string    `json:"operation"`
	WaitMs    float64   `json:"waitMs"`
	At        time.Time `json:"at"`
}

// RequestEvent - факт допущенного запроса
type RequestEvent struct {
	Venue       string    `json:"venue"`
	Operation   string    `json:"operation"`
	Weight      float64   `json:"weight"`
	QueueTimeMs float64   `json:"queueTimeMs"`
	UsagePct    float64   `json:"usagePct"`
	At          time.Time `json:"at"`
}

// ExternalEvent - полученный от площадки 429
type ExternalEvent struct {
	Venue    string        `json:"venue"`
	Cooldown time.Duration `json:"cooldown"`
	At       time.Time     `json:"at"`
}

// ring - кольцевой буфер фиксированной ёмкости
type ring[T any] struct {
	buf  []T
	head int
	full bool
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, 0, capacity)}
}

func (r *ring[T]) push(v T) {
	if !r.full {
		r.buf = append(r.buf, v)
		if len(r.buf) == cap(r.buf) {
			r.full = true
		}
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// items возвращает содержимое в хронологическом порядке
func (r *ring[T]) items() []T {
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	out = append(out, r.buf[:r.head]...)
	return out
}

// analyticsState хранит кольца событий. Собственный mutex: запись
// происходит под mu limiter'а, чтение отчётов - без него.
type analyticsState struct {
	mu       sync.Mutex
	hits     *ring[HitEvent]
	requests *ring[RequestEvent]
	external []ExternalEvent
}

func newAnalyticsState() *analyticsState {
	return &analyticsState{
		hits:     newRing[HitEvent](hitRingCapacity),
		requests: newRing[RequestEvent](requestRingCapacity),
	}
}

func (a *analyticsState) recordHit(venue, operation string, wait time.Duration, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hits.push(HitEvent{
		Venue:     venue,
		Operation: operation,
		WaitMs:    float64(wait.Milliseconds()),
		At:        now,
	})
}

func (a *analyticsState) recordRequest(venue, operation string, weight float64, queueTime time.Duration, usagePct float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests.push(RequestEvent{
		Venue:       venue,
		Operation:   operation,
		Weight:      weight,
		QueueTimeMs: float64(queueTime.Milliseconds()),
		UsagePct:    usagePct,
		At:          now,
	})
}

func (a *analyticsState) recordExternal(venue string, cooldown time.Duration, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.external = append(a.external, ExternalEvent{Venue: venue, Cooldown: cooldown, At: now})
	// Держим только последние сутки
	cutoff := now.Add(-24 * time.Hour)
	for len(a.external) > 0 && !a.external[0].At.After(cutoff) {
		a.external = a.external[1:]
	}
}

// VenueReport - сводка по площадке за окно отчёта
type VenueReport struct {
	Venue          string             `json:"venue"`
	TotalRequests  int                `json:"totalRequests"`
	TotalWeight    float64            `json:"totalWeight"`
	HitCount       int                `json:"hitCount"`
	HitRatePct     float64            `json:"hitRatePct"`
	AvgQueueTimeMs float64            `json:"avgQueueTimeMs"`
	MaxQueueTimeMs float64            `json:"maxQueueTimeMs"`
	PeakUsagePct   float64            `json:"peakUsagePct"`
	ExternalLimits int                `json:"externalLimits"`
	ByOperation    map[string]int     `json:"byOperation"`
	WeightByOp     map[string]float64 `json:"weightByOperation"`
}

// Report - агрегированный отчёт за окно
type Report struct {
	Window    string                  `json:"window"`
	From      time.Time               `json:"from"`
	To        time.Time               `json:"to"`
	Total     VenueReport             `json:"total"`
	Venues    map[string]*VenueReport `json:"venues"`
	LastHits  []HitEvent              `json:"lastHits"`
}

// Report строит сводку за последний период (обычно 1h или 24h)
func (l *Limiter) Report(window time.Duration) Report {
	l.mu.Lock()
	now := l.now()
	l.mu.Unlock()

	a := l.analytics
	a.mu.Lock()
	requests := a.requests.items()
	hits := a.hits.items()
	external := append([]ExternalEvent(nil), a.external...)
	a.mu.Unlock()

	cutoff := now.Add(-window)
	report := Report{
		Window: window.String(),
		From:   cutoff,
		To:     now,
		Venues: make(map[string]*VenueReport),
	}
	report.Total = VenueReport{
		Venue:       "all",
		ByOperation: make(map[string]int),
		WeightByOp:  make(map[string]float64),
	}

	venueOf := func(name string) *VenueReport {
		vr, ok := report.Venues[name]
		if !ok {
			vr = &VenueReport{
				Venue:       name,
				ByOperation: make(map[string]int),
				WeightByOp:  make(map[string]float64),
			}
			report.Venues[name] = vr
		}
		return vr
	}

	queueSums := make(map[string]float64)
	for _, req := range requests {
		if !req.At.After(cutoff) {
			continue
		}
		for _, vr := range []*VenueReport{&report.Total, venueOf(req.Venue)} {
			vr.TotalRequests++
			vr.TotalWeight += req.Weight
			vr.ByOperation[req.Operation]++
			vr.WeightByOp[req.Operation] += req.Weight
			if req.QueueTimeMs > vr.MaxQueueTimeMs {
				vr.MaxQueueTimeMs = req.QueueTimeMs
			}
			if req.UsagePct > vr.PeakUsagePct {
				vr.PeakUsagePct = req.UsagePct
			}
			queueSums[vr.Venue] += req.QueueTimeMs
		}
	}

	for _, hit := range hits {
		if !hit.At.After(cutoff) {
			continue
		}
		report.Total.HitCount++
		venueOf(hit.Venue).HitCount++
		if len(report.LastHits) < 20 {
			report.LastHits = append(report.LastHits, hit)
		}
	}

	for _, ev := range external {
		if !ev.At.After(cutoff) {
			continue
		}
		report.Total.ExternalLimits++
		venueOf(ev.Venue).ExternalLimits++
	}

	finalize := func(vr *VenueReport) {
		if vr.TotalRequests > 0 {
			vr.AvgQueueTimeMs = queueSums[vr.Venue] / float64(vr.TotalRequests)
			vr.HitRatePct = float64(vr.HitCount) / float64(vr.TotalRequests) * 100
		}
	}
	finalize(&report.Total)
	for _, vr := range report.Venues {
		finalize(vr)
	}

	return report
}
