package exchange

import (
	"testing"
	"time"
)

// ============================================================
// Funding schedule tests
// ============================================================

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad time literal %q: %v", value, err)
	}
	return ts
}

func TestFundingPeriod(t *testing.T) {
	tests := []struct {
		venue    string
		expected time.Duration
	}{
		{VenueHyperliquid, time.Hour},
		{VenueBybit, 8 * time.Hour},
		{VenueBitget, 8 * time.Hour},
		{VenueMock, time.Hour},
		{"unknown", 8 * time.Hour},
	}

	for _, tt := range tests {
		if got := FundingPeriod(tt.venue); got != tt.expected {
			t.Errorf("FundingPeriod(%s) = %v, want %v", tt.venue, got, tt.expected)
		}
	}
}

func TestNextFundingTime(t *testing.T) {
	tests := []struct {
		name     string
		venue    string
		from     string
		expected string
	}{
		{"hourly mid-hour", VenueHyperliquid, "2024-01-15T13:25:00Z", "2024-01-15T14:00:00Z"},
		{"hourly on boundary", VenueHyperliquid, "2024-01-15T13:00:00Z", "2024-01-15T14:00:00Z"},
		{"8h mid-interval", VenueBybit, "2024-01-15T13:25:00Z", "2024-01-15T16:00:00Z"},
		{"8h on boundary", VenueBybit, "2024-01-15T16:00:00Z", "2024-01-16T00:00:00Z"},
		{"8h before midnight", VenueBitget, "2024-01-15T23:59:00Z", "2024-01-16T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from := mustTime(t, tt.from)
			expected := mustTime(t, tt.expected)
			got := NextFundingTime(tt.venue, from)
			if !got.Equal(expected) {
				t.Errorf("NextFundingTime(%s, %s) = %v, want %v", tt.venue, tt.from, got, expected)
			}
		})
	}
}

func TestSoonerFundingTime(t *testing.T) {
	from := mustTime(t, "2024-01-15T13:25:00Z")

	// hyperliquid платит в 14:00, bybit в 16:00 - побеждает hyperliquid
	got := SoonerFundingTime(VenueHyperliquid, VenueBybit, from)
	want := mustTime(t, "2024-01-15T14:00:00Z")
	if !got.Equal(want) {
		t.Errorf("SoonerFundingTime = %v, want %v", got, want)
	}

	// Симметрично по порядку аргументов
	got = SoonerFundingTime(VenueBybit, VenueHyperliquid, from)
	if !got.Equal(want) {
		t.Errorf("SoonerFundingTime (swapped) = %v, want %v", got, want)
	}
}

func TestHourlyRate(t *testing.T) {
	tests := []struct {
		venue    string
		rate     float64
		expected float64
	}{
		{VenueHyperliquid, 0.0001, 0.0001},  // уже часовая
		{VenueBybit, 0.0008, 0.0001},        // 8h период
		{VenueBitget, -0.0008, -0.0001},     // знак сохраняется
	}

	for _, tt := range tests {
		got := HourlyRate(tt.venue, tt.rate)
		if diff := got - tt.expected; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("HourlyRate(%s, %v) = %v, want %v", tt.venue, tt.rate, got, tt.expected)
		}
	}
}
