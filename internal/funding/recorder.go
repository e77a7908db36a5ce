// Package funding накапливает историю ставок фандинга и считает
// статистику по ним.
package funding

import (
	"hash/fnv"
	"sync"
	"time"

	"fundarb/pkg/utils"
)

const (
	// Число шардов карты серий. Степень двойки для дешёвого остатка.
	shardCount = 16

	// Максимум наблюдений на серию: при часовом фандинге это
	// больше трёх месяцев истории
	seriesCapacity = 2500
)

// Sample - одно наблюдение ставки.
// Rate хранится нормализованной к часу (см. exchange.HourlyRate),
// чтобы площадки с разными периодами были сравнимы.
type Sample struct {
	Rate float64   `json:"rate"`
	At   time.Time `json:"at"`
}

// Metrics - статистика серии за окно
type Metrics struct {
	AverageRate float64 `json:"averageRate"`
	StdDev      float64 `json:"stdDev"`
	MinRate     float64 `json:"minRate"`
	MaxRate     float64 `json:"maxRate"`
	// ConsistencyScore - доля наблюдений, знак которых совпадает
	// со знаком среднего
	ConsistencyScore float64 `json:"consistencyScore"`
	DataPoints       int     `json:"dataPoints"`
}

// SpreadMetrics - статистика спреда между двумя ногами
type SpreadMetrics struct {
	AverageSpread float64 `json:"averageSpread"`
	StdDev        float64 `json:"stdDev"`
	MinSpread     float64 `json:"minSpread"`
	MaxSpread     float64 `json:"maxSpread"`
	// PositiveShare - доля наблюдений с положительным спредом
	PositiveShare float64 `json:"positiveShare"`
	DataPoints    int     `json:"dataPoints"`
}

// series - ограниченная серия наблюдений одной пары (symbol, venue)
type series struct {
	samples []Sample
}

func (s *series) append(sample Sample) {
	s.samples = append(s.samples, sample)
	if len(s.samples) > seriesCapacity {
		s.samples = s.samples[len(s.samples)-seriesCapacity:]
	}
}

// shard - сегмент карты серий со своим mutex'ом
type shard struct {
	mu     sync.RWMutex
	series map[string]*series
}

// Recorder накапливает наблюдения в процессе (без backfill).
// Шардирование по FNV-1a снижает конкуренцию между горутинами
// опроса разных площадок.
type Recorder struct {
	shards [shardCount]*shard
	logger *utils.Logger

	// Инъекция времени для тестов
	now func() time.Time
}

// NewRecorder создает пустой рекордер
func NewRecorder(logger *utils.Logger) *Recorder {
	r := &Recorder{
		logger: utils.EnsureLogger(logger).WithComponent("funding"),
		now:    time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{series: make(map[string]*series)}
	}
	return r
}

func seriesKey(symbol, venue string) string {
	return symbol + "_" + venue
}

func (r *Recorder) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return r.shards[h.Sum32()%shardCount]
}

// Observe добавляет наблюдение ставки (нормализованной к часу)
func (r *Recorder) Observe(symbol, venue string, rate float64, ts time.Time) {
	if ts.IsZero() {
		ts = r.now()
	}
	key := seriesKey(symbol, venue)
	sh := r.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.series[key]
	if !ok {
		s = &series{}
		sh.series[key] = s
	}
	s.append(Sample{Rate: rate, At: ts})
}

// samplesSince возвращает копию наблюдений серии не старше cutoff
func (r *Recorder) samplesSince(symbol, venue string, cutoff time.Time) []Sample {
	key := seriesKey(symbol, venue)
	sh := r.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	s, ok := sh.series[key]
	if !ok {
		return nil
	}
	out := make([]Sample, 0, len(s.samples))
	for _, sample := range s.samples {
		if sample.At.After(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

// History возвращает все накопленные наблюдения пары
func (r *Recorder) History(symbol, venue string) []Sample {
	return r.samplesSince(symbol, venue, time.Time{})
}

// Metrics считает статистику серии за последние days дней.
// ok=false, если наблюдений нет.
func (r *Recorder) Metrics(symbol, venue string, days int) (Metrics, bool) {
	if days <= 0 {
		days = 7
	}
	cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)
	samples := r.samplesSince(symbol, venue, cutoff)
	if len(samples) == 0 {
		return Metrics{}, false
	}

	rates := make([]float64, len(samples))
	for i, s := range samples {
		rates[i] = s.Rate
	}

	m := Metrics{
		AverageRate: utils.Mean(rates),
		StdDev:      utils.StdDev(rates),
		MinRate:     rates[0],
		MaxRate:     rates[0],
		DataPoints:  len(rates),
	}
	matching := 0
	for _, rate := range rates {
		if rate < m.MinRate {
			m.MinRate = rate
		}
		if rate > m.MaxRate {
			m.MaxRate = rate
		}
		if sameSign(rate, m.AverageRate) {
			matching++
		}
	}
	m.ConsistencyScore = float64(matching) / float64(len(rates))
	return m, true
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return a == b
	}
	return (a > 0) == (b > 0)
}

// pairedSpreads строит серию спредов short − long, выравнивая
// наблюдения обеих ног с конца (свежие к свежим)
func (r *Recorder) pairedSpreads(longSymbol, longVenue, shortSymbol, shortVenue string, cutoff time.Time) []float64 {
	longSamples := r.samplesSince(longSymbol, longVenue, cutoff)
	shortSamples := r.samplesSince(shortSymbol, shortVenue, cutoff)

	n := len(longSamples)
	if len(shortSamples) < n {
		n = len(shortSamples)
	}
	if n == 0 {
		return nil
	}

	spreads := make([]float64, n)
	for i := 0; i < n; i++ {
		longRate := longSamples[len(longSamples)-n+i].Rate
		shortRate := shortSamples[len(shortSamples)-n+i].Rate
		spreads[i] = shortRate - longRate
	}
	return spreads
}

// AverageSpread - средний исторический спред пары ног за 7 дней.
// Без истории возвращается текущий спред shortRate − longRate.
func (r *Recorder) AverageSpread(longSymbol, longVenue, shortSymbol, shortVenue string, currentLongRate, currentShortRate float64) float64 {
	cutoff := r.now().Add(-7 * 24 * time.Hour)
	spreads := r.pairedSpreads(longSymbol, longVenue, shortSymbol, shortVenue, cutoff)
	if len(spreads) == 0 {
		return currentShortRate - currentLongRate
	}
	return utils.Mean(spreads)
}

// SpreadVolatilityMetrics - статистика спреда пары ног за days дней.
// ok=false, если спредов построить не из чего.
func (r *Recorder) SpreadVolatilityMetrics(longSymbol, longVenue, shortSymbol, shortVenue string, days int) (SpreadMetrics, bool) {
	if days <= 0 {
		days = 7
	}
	cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)
	spreads := r.pairedSpreads(longSymbol, longVenue, shortSymbol, shortVenue, cutoff)
	if len(spreads) == 0 {
		return SpreadMetrics{}, false
	}

	m := SpreadMetrics{
		AverageSpread: utils.Mean(spreads),
		StdDev:        utils.StdDev(spreads),
		MinSpread:     spreads[0],
		MaxSpread:     spreads[0],
		DataPoints:    len(spreads),
	}
	positive := 0
	for _, spread := range spreads {
		if spread < m.MinSpread {
			m.MinSpread = spread
		}
		if spread > m.MaxSpread {
			m.MaxSpread = spread
		}
		if spread > 0 {
			positive++
		}
	}
	m.PositiveShare = float64(positive) / float64(len(spreads))
	return m, true
}
