package exchange

import (
	"testing"
)

// ============================================================
// Symbol normalization tests
// ============================================================

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"bybit linear", "BTCUSDT", "BTC"},
		{"lowercase", "ethusdt", "ETH"},
		{"usdc suffix", "SOLUSDC", "SOL"},
		{"dash perp", "BTC-PERP", "BTC"},
		{"dash usd", "ETH-USD", "ETH"},
		{"bitget umcbl", "SOLUSDT_UMCBL", "SOL"},
		{"plain ticker", "BTC", "BTC"},
		{"whitespace", "  btc-usdt  ", "BTC"},
		{"double suffix", "BTCUSDTUSDT", "BTC"},
		{"slash pair", "BTC/USDT", "BTC"},
		{"already normalized stays", "AVAX", "AVAX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSymbol(tt.raw)
			if got != tt.expected {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}

// Нормализация тотальна: повторное применение ничего не меняет
func TestNormalizeSymbolIdempotent(t *testing.T) {
	inputs := []string{"BTCUSDT", "ETH-PERP", "SOLUSDT_UMCBL", "btc"}
	for _, raw := range inputs {
		once := NormalizeSymbol(raw)
		twice := NormalizeSymbol(once)
		if once != twice {
			t.Errorf("NormalizeSymbol not idempotent for %q: %q != %q", raw, once, twice)
		}
	}
}

func TestDenormalize(t *testing.T) {
	tests := []struct {
		venue    string
		symbol   string
		expected string
	}{
		{VenueBybit, "BTC", "BTCUSDT"},
		{VenueBybit, "BTCUSDT", "BTCUSDT"},
		{VenueBitget, "ETH", "ETHUSDT"},
		{VenueHyperliquid, "BTC", "BTC"},
		{VenueHyperliquid, "BTCUSDT", "BTC"},
		{VenueMock, "SOL", "SOL"},
	}

	for _, tt := range tests {
		t.Run(tt.venue+"_"+tt.symbol, func(t *testing.T) {
			got := Denormalize(tt.venue, tt.symbol)
			if got != tt.expected {
				t.Errorf("Denormalize(%q, %q) = %q, want %q", tt.venue, tt.symbol, got, tt.expected)
			}
		})
	}
}

// Сырой символ площадки отображается ровно в один нормализованный:
// round-trip через Denormalize сохраняет канонический символ
func TestSymbolRoundTrip(t *testing.T) {
	for _, venue := range []string{VenueBybit, VenueBitget, VenueHyperliquid} {
		for _, symbol := range []string{"BTC", "ETH", "SOL"} {
			native := Denormalize(venue, symbol)
			if got := NormalizeSymbol(native); got != symbol {
				t.Errorf("round trip %s/%s: got %q", venue, symbol, got)
			}
		}
	}
}
