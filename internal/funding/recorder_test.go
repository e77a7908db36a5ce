package funding

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func observeSeries(r *Recorder, symbol, venue string, rates []float64) {
	base := time.Now().Add(-time.Duration(len(rates)) * time.Hour)
	for i, rate := range rates {
		r.Observe(symbol, venue, rate, base.Add(time.Duration(i)*time.Hour))
	}
}

func TestMetricsBasicStats(t *testing.T) {
	r := NewRecorder(nil)
	observeSeries(r, "BTC", "bybit", []float64{0.0001, 0.0002, 0.0003})

	m, ok := r.Metrics("BTC", "bybit", 7)
	if !ok {
		t.Fatal("metrics missing for observed series")
	}
	if math.Abs(m.AverageRate-0.0002) > 1e-12 {
		t.Errorf("average = %v, want 0.0002", m.AverageRate)
	}
	if m.MinRate != 0.0001 || m.MaxRate != 0.0003 {
		t.Errorf("min/max = %v/%v", m.MinRate, m.MaxRate)
	}
	if m.DataPoints != 3 {
		t.Errorf("dataPoints = %d, want 3", m.DataPoints)
	}
	// Все наблюдения положительны, как и среднее
	if m.ConsistencyScore != 1.0 {
		t.Errorf("consistency = %v, want 1.0", m.ConsistencyScore)
	}
}

func TestMetricsConsistencyMixedSigns(t *testing.T) {
	r := NewRecorder(nil)
	observeSeries(r, "ETH", "bybit", []float64{0.0002, 0.0002, 0.0002, -0.0001})

	m, ok := r.Metrics("ETH", "bybit", 7)
	if !ok {
		t.Fatal("metrics missing")
	}
	// Среднее положительное, совпадают 3 из 4
	if math.Abs(m.ConsistencyScore-0.75) > 1e-12 {
		t.Errorf("consistency = %v, want 0.75", m.ConsistencyScore)
	}
}

func TestMetricsMissingSeries(t *testing.T) {
	r := NewRecorder(nil)
	if _, ok := r.Metrics("BTC", "bybit", 7); ok {
		t.Error("metrics reported for empty series")
	}
}

func TestMetricsWindowFiltering(t *testing.T) {
	r := NewRecorder(nil)
	now := time.Now()
	r.Observe("BTC", "bybit", 0.01, now.Add(-10*24*time.Hour))
	r.Observe("BTC", "bybit", 0.0001, now.Add(-time.Hour))

	m, ok := r.Metrics("BTC", "bybit", 7)
	if !ok {
		t.Fatal("metrics missing")
	}
	if m.DataPoints != 1 {
		t.Errorf("dataPoints = %d, want 1 (old sample outside window)", m.DataPoints)
	}
	if m.AverageRate != 0.0001 {
		t.Errorf("average = %v", m.AverageRate)
	}
}

func TestSeriesBounded(t *testing.T) {
	r := NewRecorder(nil)
	for i := 0; i < seriesCapacity+100; i++ {
		r.Observe("BTC", "bybit", float64(i), time.Now())
	}
	history := r.History("BTC", "bybit")
	if len(history) != seriesCapacity {
		t.Errorf("history len = %d, want %d", len(history), seriesCapacity)
	}
	// Остаются самые свежие
	if history[len(history)-1].Rate != float64(seriesCapacity+99) {
		t.Errorf("last rate = %v", history[len(history)-1].Rate)
	}
}

func TestSeriesIsolation(t *testing.T) {
	r := NewRecorder(nil)
	// Одинаковый символ, разные площадки - раздельные серии
	r.Observe("BTC", "bybit", 0.0001, time.Now())
	r.Observe("BTC", "hyperliquid", 0.0005, time.Now())

	mb, _ := r.Metrics("BTC", "bybit", 7)
	mh, _ := r.Metrics("BTC", "hyperliquid", 7)
	if mb.AverageRate == mh.AverageRate {
		t.Error("series for different venues are not isolated")
	}

	// Шардирование не теряет ключи
	for i := 0; i < 100; i++ {
		r.Observe(fmt.Sprintf("SYM%d", i), "bybit", 0.0001, time.Now())
	}
	for i := 0; i < 100; i++ {
		if _, ok := r.Metrics(fmt.Sprintf("SYM%d", i), "bybit", 7); !ok {
			t.Fatalf("series SYM%d lost", i)
		}
	}
}

func TestAverageSpreadFallback(t *testing.T) {
	r := NewRecorder(nil)

	// Без истории - текущий спред short - long
	got := r.AverageSpread("BTC", "hyperliquid", "BTC", "bybit", 0.0001, 0.0004)
	if math.Abs(got-0.0003) > 1e-12 {
		t.Errorf("fallback spread = %v, want 0.0003", got)
	}
}

func TestAverageSpreadFromHistory(t *testing.T) {
	r := NewRecorder(nil)
	observeSeries(r, "BTC", "hyperliquid", []float64{0.0001, 0.0001})
	observeSeries(r, "BTC", "bybit", []float64{0.0003, 0.0005})

	// Спреды: 0.0002 и 0.0004, среднее 0.0003; текущие ставки игнорируются
	got := r.AverageSpread("BTC", "hyperliquid", "BTC", "bybit", 0.9, 0.9)
	if math.Abs(got-0.0003) > 1e-12 {
		t.Errorf("historical spread = %v, want 0.0003", got)
	}
}

func TestSpreadVolatilityMetrics(t *testing.T) {
	r := NewRecorder(nil)
	observeSeries(r, "ETH", "hyperliquid", []float64{0.0001, 0.0002, 0.0001})
	observeSeries(r, "ETH", "bitget", []float64{0.0004, 0.0001, 0.0005})

	m, ok := r.SpreadVolatilityMetrics("ETH", "hyperliquid", "ETH", "bitget", 7)
	if !ok {
		t.Fatal("spread metrics missing")
	}
	// Спреды: 0.0003, -0.0001, 0.0004
	if m.DataPoints != 3 {
		t.Errorf("dataPoints = %d, want 3", m.DataPoints)
	}
	if math.Abs(m.MinSpread+0.0001) > 1e-12 || math.Abs(m.MaxSpread-0.0004) > 1e-12 {
		t.Errorf("min/max spread = %v/%v", m.MinSpread, m.MaxSpread)
	}
	if math.Abs(m.PositiveShare-2.0/3.0) > 1e-12 {
		t.Errorf("positive share = %v, want 2/3", m.PositiveShare)
	}

	if _, ok := r.SpreadVolatilityMetrics("ETH", "hyperliquid", "SOL", "bybit", 7); ok {
		t.Error("spread metrics reported with one leg missing")
	}
}

func TestSpreadAlignmentUsesFreshestSamples(t *testing.T) {
	r := NewRecorder(nil)
	// Длинная нога имеет больше истории - выравнивание с конца
	observeSeries(r, "SOL", "hyperliquid", []float64{0.9, 0.9, 0.0001, 0.0002})
	observeSeries(r, "SOL", "bybit", []float64{0.0003, 0.0004})

	m, ok := r.SpreadVolatilityMetrics("SOL", "hyperliquid", "SOL", "bybit", 7)
	if !ok {
		t.Fatal("spread metrics missing")
	}
	// Пары: (0.0001, 0.0003) и (0.0002, 0.0004) -> спред 0.0002 оба раза
	if math.Abs(m.AverageSpread-0.0002) > 1e-12 {
		t.Errorf("average spread = %v, want 0.0002", m.AverageSpread)
	}
	if m.StdDev > 1e-12 {
		t.Errorf("stddev = %v, want 0", m.StdDev)
	}
}
