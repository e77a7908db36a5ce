package evaluator

import (
	"math"
	"testing"
)

func goodCandidate(symbol string) Candidate {
	return Candidate{
		Opportunity: Opportunity{
			Symbol:         symbol,
			LongVenue:      "hyperliquid",
			ShortVenue:     "bybit",
			ExpectedSpread: 0.0003,
			LongOI:         5_000_000,
			ShortOI:        8_000_000,
		},
		Plan: Plan{
			PositionSizeUsd:   10_000,
			EntryFees:         2,
			ExitFees:          2,
			EstimatedSlippage: 1,
		},
		History: &HistoryMetrics{
			AvgRate:      0.0003,
			MinLongRate:  -0.0001,
			MaxLongRate:  0.0001,
			MinShortRate: 0.0003,
			MaxShortRate: 0.0006,
			Consistency:  0.9,
			DataPoints:   100,
		},
	}
}

func TestScoreCandidate(t *testing.T) {
	e := New(Config{MaxWorstCaseBreakEvenDays: 7}, nil)
	c := goodCandidate("BTC")
	e.scoreCandidate(&c)

	// Худший спред = 0.0003 - 0.0001 = 0.0002; часовой доход $2;
	// издержки $5 -> окупаемость в худшем случае 2.5 часа
	if math.Abs(c.WorstCaseBEHours-2.5) > 1e-9 {
		t.Errorf("worstCaseBEHours = %v, want 2.5", c.WorstCaseBEHours)
	}
	// Ликвидность: log10(5_000_000/1000)/10 = log10(5000)/10 ≈ 0.37
	if c.Liquidity < 0.36 || c.Liquidity > 0.38 {
		t.Errorf("liquidity = %v, want ~0.37", c.Liquidity)
	}
	if c.Score <= 0 {
		t.Errorf("score = %v, want positive", c.Score)
	}
}

func TestScoreNegativeWorstSpread(t *testing.T) {
	e := New(Config{}, nil)
	c := goodCandidate("BTC")
	// Худший спред отрицательный: окупаемость недостижима
	c.History.MinShortRate = 0.0
	c.History.MaxLongRate = 0.0001
	e.scoreCandidate(&c)

	if !math.IsInf(c.WorstCaseBEHours, 1) {
		t.Errorf("worstCaseBEHours = %v, want +Inf", c.WorstCaseBEHours)
	}
	if c.Score != 0 {
		t.Errorf("score = %v, want 0", c.Score)
	}
}

func TestLiquidityProxy(t *testing.T) {
	tests := []struct {
		name     string
		longOI   float64
		shortOI  float64
		expected float64
	}{
		{"missing OI falls back", 0, 0, 0.1},
		{"one side missing falls back", 1_000_000, 0, 0.1},
		{"min side wins", 1_000_000, 10_000_000, 0.3},
		{"huge OI clamps to 1", 1e16, 1e16, 1.0},
		{"tiny OI clamps to 0", 500, 500, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := liquidityProxy(tt.longOI, tt.shortOI)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("liquidityProxy = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSelectBestPicksTopScore(t *testing.T) {
	e := New(Config{MaxWorstCaseBreakEvenDays: 7}, nil)

	weak := goodCandidate("WEAK")
	weak.History.Consistency = 0.2
	strong := goodCandidate("STRONG")

	best, ok := e.SelectBest([]Candidate{weak, strong})
	if !ok {
		t.Fatal("no candidate selected")
	}
	if best.Opportunity.Symbol != "STRONG" {
		t.Errorf("selected %s, want STRONG", best.Opportunity.Symbol)
	}
}

func TestSelectBestRejectsSlowBreakEven(t *testing.T) {
	e := New(Config{MaxWorstCaseBreakEvenDays: 1}, nil)

	c := goodCandidate("BTC")
	// Худший доход $0.2/час при издержках $50 -> 250 часов > 1 дня
	c.Plan.EntryFees = 25
	c.Plan.ExitFees = 25
	c.Plan.EstimatedSlippage = 0
	c.History.MinShortRate = 0.00011
	c.History.MaxLongRate = 0.00009

	if _, ok := e.SelectBest([]Candidate{c}); ok {
		t.Error("candidate above worst-case threshold was accepted")
	}
}

func TestSelectBestEmptyAndUnscorable(t *testing.T) {
	e := New(Config{}, nil)

	if _, ok := e.SelectBest(nil); ok {
		t.Error("selected from empty input")
	}

	noHistory := goodCandidate("BTC")
	noHistory.History = nil
	if _, ok := e.SelectBest([]Candidate{noHistory}); ok {
		t.Error("selected candidate without history")
	}
}

func TestShouldRebalanceRules(t *testing.T) {
	e := New(Config{}, nil)

	base := goodCandidate("NEW")
	finiteP1 := CurrentPosition{Symbol: "OLD", RemainingBEHours: 10, RemainingCost: 5, FeesOutstanding: 1}

	tests := []struct {
		name     string
		p1       CurrentPosition
		mutate   func(*Candidate)
		expected Action
	}{
		{
			"instantly profitable candidate wins",
			finiteP1,
			func(c *Candidate) { c.Plan.ExpectedNetReturn = 3 },
			ActionRebalance,
		},
		{
			"profitable current position holds",
			CurrentPosition{RemainingBEHours: 0, RemainingCost: -1},
			nil,
			ActionHold,
		},
		{
			"unreachable current, finite candidate",
			CurrentPosition{RemainingBEHours: math.Inf(1), RemainingCost: 5},
			nil,
			ActionRebalance,
		},
		{
			"both unreachable",
			CurrentPosition{RemainingBEHours: math.Inf(1), RemainingCost: 5},
			func(c *Candidate) { c.Opportunity.ExpectedSpread = -0.0001 },
			ActionHold,
		},
		{
			"unreachable candidate",
			finiteP1,
			func(c *Candidate) { c.Opportunity.ExpectedSpread = -0.0001 },
			ActionHold,
		},
		{
			"candidate breaks even sooner",
			CurrentPosition{RemainingBEHours: 100, RemainingCost: 50},
			nil,
			ActionRebalance,
		},
		{
			"current breaks even sooner",
			CurrentPosition{RemainingBEHours: 0.5, RemainingCost: 1},
			nil,
			ActionHold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			d := e.ShouldRebalance(tt.p1, &c)
			if d.Action != tt.expected {
				t.Errorf("action = %s (reason %q), want %s", d.Action, d.Reason, tt.expected)
			}
			if d.Reason == "" {
				t.Error("decision without reason")
			}
		})
	}
}

// shouldRebalance=true влечёт либо мгновенную прибыльность кандидата,
// либо более близкую окупаемость
func TestRebalanceMonotonicity(t *testing.T) {
	e := New(Config{}, nil)

	positions := []CurrentPosition{
		{RemainingBEHours: 0.1, RemainingCost: 1},
		{RemainingBEHours: 10, RemainingCost: 5, FeesOutstanding: 2},
		{RemainingBEHours: math.Inf(1), RemainingCost: 5},
		{RemainingBEHours: 5, RemainingCost: -2},
	}
	spreads := []float64{-0.0001, 0.00001, 0.0003}
	netReturns := []float64{-1, 0, 2}

	for _, p1 := range positions {
		for _, spread := range spreads {
			for _, net := range netReturns {
				c := goodCandidate("X")
				c.Opportunity.ExpectedSpread = spread
				c.Plan.ExpectedNetReturn = net

				d := e.ShouldRebalance(p1, &c)
				if d.Action != ActionRebalance {
					continue
				}
				if c.Plan.ExpectedNetReturn > 0 {
					continue
				}
				if !(d.P2Hours < d.P1Hours) {
					t.Errorf("rebalance without improvement: p1=%v p2=%v (reason %q)", d.P1Hours, d.P2Hours, d.Reason)
				}
			}
		}
	}
}
