package utils

import (
	"math"
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		// Valid symbols
		{"valid BTCUSDT", "BTCUSDT", false},
		{"valid ETHUSDT", "ETHUSDT", false},
		{"valid lowercase", "btcusdt", false},
		{"valid with hyphen", "BTC-USDT", false},
		{"valid with underscore", "BTC_USDT", false},
		{"valid with slash", "BTC/USDT", false},
		{"valid short", "XY", false},
		{"valid with numbers", "1INCH", false},

		// Invalid symbols
		{"empty", "", true},
		{"single char", "B", true},
		{"too long", "BTCUSDTBTCUSDTBTCUSDTBTCUSDTXXX", true},
		{"special chars", "BTC@USDT", true},
		{"spaces", "BTC USDT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "btcusdt", "BTCUSDT"},
		{"with hyphen", "btc-usdt", "BTCUSDT"},
		{"with underscore", "BTC_USDT", "BTCUSDT"},
		{"with slash", "btc/usdt", "BTCUSDT"},
		{"already normalized", "BTCUSDT", "BTCUSDT"},
		{"mixed case with hyphen", "Btc-Usdt", "BTCUSDT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeSymbol(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestExtractBaseCurrency(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		expected string
	}{
		{"BTCUSDT", "BTCUSDT", "BTC"},
		{"ETHUSDT", "ETHUSDT", "ETH"},
		{"SOLUSDT", "SOLUSDT", "SOL"},
		{"with hyphen", "BTC-USDT", "BTC"},
		{"with underscore", "ETH_USDT", "ETH"},
		{"with slash", "SOL/USDT", "SOL"},
		{"USDC pair", "BTCUSDC", "BTC"},
		{"BTC quote", "ETHBTC", "ETH"},
		{"lowercase", "btcusdt", "BTC"},
		{"bare base", "BTC-PERP", "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractBaseCurrency(tt.symbol)
			if result != tt.expected {
				t.Errorf("ExtractBaseCurrency(%q) = %q, want %q", tt.symbol, result, tt.expected)
			}
		})
	}
}

func TestExtractQuoteCurrency(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		expected string
	}{
		{"BTCUSDT", "BTCUSDT", "USDT"},
		{"ETHUSDC", "ETHUSDC", "USDC"},
		{"with hyphen", "BTC-USDT", "USDT"},
		{"with underscore", "ETH_BTC", "BTC"},
		{"with slash", "SOL/ETH", "ETH"},
		{"BTC quote", "ETHBTC", "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractQuoteCurrency(tt.symbol)
			if result != tt.expected {
				t.Errorf("ExtractQuoteCurrency(%q) = %q, want %q", tt.symbol, result, tt.expected)
			}
		})
	}
}

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		size    float64
		wantErr bool
	}{
		{"valid small", 0.001, false},
		{"valid normal", 100.0, false},
		{"valid large", 1000000.0, false},
		{"min size", 1e-8, false},
		{"zero", 0, true},
		{"negative", -100.0, true},
		{"too large", 1e10, true},
		{"NaN", math.NaN(), true},
		{"Inf", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.size)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSize(%v) error = %v, wantErr %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNotional(t *testing.T) {
	tests := []struct {
		name    string
		usd     float64
		wantErr bool
	}{
		{"valid small", 10.0, false},
		{"valid normal", 3000.0, false},
		{"valid large", 1e6, false},
		{"zero", 0, true},
		{"negative", -500.0, true},
		{"too large", 1e10, true},
		{"NaN", math.NaN(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNotional(tt.usd)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNotional(%v) error = %v, wantErr %v", tt.usd, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSliceCount(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantErr bool
	}{
		{"valid 1", 1, false},
		{"valid 5", 5, false},
		{"valid 100", 100, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too large", 101, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSliceCount(tt.n)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSliceCount(%v) error = %v, wantErr %v", tt.n, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFundingRate(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		wantErr bool
	}{
		{"valid positive", 0.0001, false},
		{"valid negative", -0.0003, false},
		{"valid zero", 0, false},
		{"valid extreme", 0.03, false},
		{"out of range positive", 1.5, true},
		{"out of range negative", -1.5, true},
		{"NaN", math.NaN(), true},
		{"Inf", math.Inf(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFundingRate(tt.rate)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFundingRate(%v) error = %v, wantErr %v", tt.rate, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePercentage(t *testing.T) {
	tests := []struct {
		name    string
		pct     float64
		wantErr bool
	}{
		{"valid 0", 0, false},
		{"valid 50", 50.0, false},
		{"valid 100", 100.0, false},
		{"negative", -1.0, true},
		{"too large", 101.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePercentage(tt.pct)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePercentage(%v) error = %v, wantErr %v", tt.pct, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr bool
	}{
		{"valid 16 chars", "1234567890123456", false},
		{"valid 32 chars", "12345678901234567890123456789012", false},
		{"valid with letters", "AbCdEfGhIjKlMnOp", false},
		{"valid with dashes", "abcd-1234-5678-efgh", false},
		{"valid with underscores", "abcd_1234_5678_efgh", false},
		{"empty", "", true},
		{"too short", "123456789012345", true},
		{"special chars", "abcd!@#$efgh1234", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.apiKey)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.apiKey, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAPISecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"valid 16 chars", "1234567890123456", false},
		{"valid 64 chars", "1234567890123456789012345678901234567890123456789012345678901234", false},
		{"valid with special", "abcd1234!@#$%^&*", false},
		{"empty", "", true},
		{"too short", "123456789012345", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPISecret(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPISecret(%q) error = %v, wantErr %v", tt.secret, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAPIPassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		wantErr    bool
	}{
		{"empty allowed", "", false},
		{"valid short", "pass123", false},
		{"valid with special", "P@ssw0rd!", false},
		{"too long", string(make([]byte, 100)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIPassphrase(tt.passphrase)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIPassphrase(%q) error = %v, wantErr %v", tt.passphrase, err, tt.wantErr)
			}
		})
	}
}

func TestValidateVenue(t *testing.T) {
	tests := []struct {
		name    string
		venue   string
		wantErr bool
	}{
		{"valid bybit", "bybit", false},
		{"valid bitget", "bitget", false},
		{"valid hyperliquid", "hyperliquid", false},
		{"valid mock", "mock", false},
		{"valid uppercase", "BYBIT", false},
		{"valid mixed case", "Bybit", false},
		{"empty", "", true},
		{"unsupported", "binance", true},
		{"unsupported okx", "okx", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVenue(tt.venue)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVenue(%q) error = %v, wantErr %v", tt.venue, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeVenue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "bybit", "bybit"},
		{"uppercase", "BYBIT", "bybit"},
		{"mixed case", "ByBit", "bybit"},
		{"with spaces", "  bybit  ", "bybit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeVenue(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeVenue(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidateExecutionParams(t *testing.T) {
	tests := []struct {
		name    string
		params  ExecutionParams
		wantErr bool
	}{
		{
			name: "valid params",
			params: ExecutionParams{
				Symbol:     "BTC",
				LongVenue:  "bybit",
				ShortVenue: "hyperliquid",
				TotalUsd:   3000.0,
				MinSlices:  1,
				MaxSlices:  10,
			},
			wantErr: false,
		},
		{
			name: "invalid symbol",
			params: ExecutionParams{
				Symbol:     "",
				LongVenue:  "bybit",
				ShortVenue: "hyperliquid",
				TotalUsd:   3000.0,
				MinSlices:  1,
				MaxSlices:  10,
			},
			wantErr: true,
		},
		{
			name: "invalid long venue",
			params: ExecutionParams{
				Symbol:     "BTC",
				LongVenue:  "binance",
				ShortVenue: "hyperliquid",
				TotalUsd:   3000.0,
				MinSlices:  1,
				MaxSlices:  10,
			},
			wantErr: true,
		},
		{
			name: "zero notional",
			params: ExecutionParams{
				Symbol:     "BTC",
				LongVenue:  "bybit",
				ShortVenue: "hyperliquid",
				TotalUsd:   0,
				MinSlices:  1,
				MaxSlices:  10,
			},
			wantErr: true,
		},
		{
			name: "zero min slices",
			params: ExecutionParams{
				Symbol:     "BTC",
				LongVenue:  "bybit",
				ShortVenue: "hyperliquid",
				TotalUsd:   3000.0,
				MinSlices:  0,
				MaxSlices:  10,
			},
			wantErr: true,
		},
		{
			name: "same venues",
			params: ExecutionParams{
				Symbol:     "BTC",
				LongVenue:  "bybit",
				ShortVenue: "bybit",
				TotalUsd:   3000.0,
				MinSlices:  1,
				MaxSlices:  10,
			},
			wantErr: true,
		},
		{
			name: "max slices less than min",
			params: ExecutionParams{
				Symbol:     "BTC",
				LongVenue:  "bybit",
				ShortVenue: "hyperliquid",
				TotalUsd:   3000.0,
				MinSlices:  5,
				MaxSlices:  2,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionParams(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExecutionParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors

	errs.Add("field1", "error1")
	errs.Add("field2", "error2")

	if !errs.HasErrors() {
		t.Error("ValidationErrors.HasErrors() = false, want true")
	}

	errStr := errs.Error()
	if errStr == "" {
		t.Error("ValidationErrors.Error() should not be empty")
	}

	// Should contain both errors
	if len(errs) != 2 {
		t.Errorf("ValidationErrors length = %d, want 2", len(errs))
	}
}

func TestValidationErrorsAddError(t *testing.T) {
	var errs ValidationErrors

	// Should not add nil error
	errs.AddError("field1", nil)
	if errs.HasErrors() {
		t.Error("ValidationErrors.AddError(nil) should not add error")
	}

	// Should add non-nil error
	errs.AddError("field2", ErrInvalidSymbol)
	if !errs.HasErrors() {
		t.Error("ValidationErrors.AddError(err) should add error")
	}
}

func TestIsValidSymbol(t *testing.T) {
	if !IsValidSymbol("BTCUSDT") {
		t.Error("IsValidSymbol(BTCUSDT) = false, want true")
	}
	if IsValidSymbol("") {
		t.Error("IsValidSymbol('') = true, want false")
	}
}

func TestIsValidAPIKey(t *testing.T) {
	if !IsValidAPIKey("1234567890123456") {
		t.Error("IsValidAPIKey(1234567890123456) = false, want true")
	}
	if IsValidAPIKey("short") {
		t.Error("IsValidAPIKey(short) = true, want false")
	}
}

func TestIsValidVenue(t *testing.T) {
	if !IsValidVenue("bybit") {
		t.Error("IsValidVenue(bybit) = false, want true")
	}
	if IsValidVenue("invalid") {
		t.Error("IsValidVenue(invalid) = true, want false")
	}
}

func TestGetSupportedVenues(t *testing.T) {
	venues := GetSupportedVenues()

	if len(venues) != len(SupportedVenues) {
		t.Errorf("GetSupportedVenues() length = %d, want %d", len(venues), len(SupportedVenues))
	}

	// Verify it's a copy
	venues[0] = "modified"
	if SupportedVenues[0] == "modified" {
		t.Error("GetSupportedVenues() should return a copy, not the original")
	}
}

// Benchmarks

func BenchmarkValidateSymbol(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ValidateSymbol("BTCUSDT")
	}
}

func BenchmarkNormalizeSymbol(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NormalizeSymbol("btc-usdt")
	}
}

func BenchmarkExtractBaseCurrency(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ExtractBaseCurrency("BTCUSDT")
	}
}

func BenchmarkValidateExecutionParams(b *testing.B) {
	params := ExecutionParams{
		Symbol:     "BTC",
		LongVenue:  "bybit",
		ShortVenue: "hyperliquid",
		TotalUsd:   3000.0,
		MinSlices:  1,
		MaxSlices:  10,
	}
	for i := 0; i < b.N; i++ {
		ValidateExecutionParams(params)
	}
}
