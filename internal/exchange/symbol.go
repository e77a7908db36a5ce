package exchange

import (
	"strings"
)

// symbol.go - тотальная нормализация символов
//
// Назначение:
// Каждая площадка использует свой формат символа (BTCUSDT, BTC-USD,
// BTCUSDT_UMCBL, BTC). Внутри ядра символ всегда нормализован:
// верхний регистр, без суффиксов котируемой валюты и контрактных
// пометок. Любая операция, ключующаяся по символу, нормализует вход.
//
// Инвариант: сырой символ площадки всегда отображается ровно в один
// нормализованный символ.

// Суффиксы в порядке убывания длины: сначала снимаем длинные,
// чтобы "-USDT" не оставил висячий дефис.
var symbolSuffixes = []string{
	"_UMCBL", // bitget mix
	"-USDT",
	"-USDC",
	"-PERP",
	"USDT",
	"USDC",
	"-USD",
	"USD",
	"PERP",
}

// NormalizeSymbol приводит сырой символ площадки к каноническому виду.
//
// Примеры:
//
//	NormalizeSymbol("BTCUSDT")       // "BTC"
//	NormalizeSymbol("eth-PERP")      // "ETH"
//	NormalizeSymbol("SOLUSDT_UMCBL") // "SOL"
//	NormalizeSymbol("BTC")           // "BTC"
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "/", "")

	for changed := true; changed; {
		changed = false
		for _, suffix := range symbolSuffixes {
			if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
				s = strings.TrimSuffix(s, suffix)
				changed = true
			}
		}
	}

	s = strings.TrimRight(s, "-_")
	return s
}

// Denormalize возвращает нативный формат символа для площадки.
//
// Ядро оперирует нормализованными символами, адаптеры переводят
// их обратно в формат конкретного API.
func Denormalize(venue, symbol string) string {
	normalized := NormalizeSymbol(symbol)

	switch strings.ToLower(venue) {
	case VenueBybit:
		return normalized + "USDT"
	case VenueBitget:
		return normalized + "USDT"
	case VenueHyperliquid:
		// hyperliquid использует чистый тикер
		return normalized
	default:
		return normalized
	}
}
