package utils

// validator.go - валидация входных данных
//
// Назначение:
// Проверка корректности символов, площадок, параметров исполнения
// и учетных данных API до того, как они попадут в горячий путь.
//
// Все Validate*-функции возвращают error с описанием проблемы
// или nil. Is*-варианты возвращают bool для быстрых проверок.

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Сентинельные ошибки валидации
var (
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrInvalidVenue  = errors.New("invalid venue")
	ErrInvalidSize   = errors.New("invalid size")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// SupportedVenues - площадки, для которых есть адаптеры.
// mock используется в тестах и в paper-режиме.
var SupportedVenues = []string{"bybit", "bitget", "hyperliquid", "mock"}

var (
	symbolRe = regexp.MustCompile(`^[A-Z0-9/_\-]{2,30}$`)
	apiKeyRe = regexp.MustCompile(`^[A-Za-z0-9_\-]{16,}$`)
)

// Котируемые валюты в порядке убывания длины суффикса.
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

// ============================================================
// Символы
// ============================================================

// ValidateSymbol проверяет формат торгового символа.
//
// Допускаются латинские буквы, цифры и разделители -_/,
// длина от 2 до 30 символов. Регистр не важен.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSymbol)
	}
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRe.MatchString(upper) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// IsValidSymbol - булев вариант ValidateSymbol.
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

// NormalizeSymbol приводит символ к каноническому виду:
// верхний регистр, без разделителей.
//
// Примеры:
//
//	NormalizeSymbol("btc-usdt") // "BTCUSDT"
//	NormalizeSymbol("BTC/USDT") // "BTCUSDT"
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}

// ExtractBaseCurrency извлекает базовую валюту из символа.
//
// Примеры:
//
//	ExtractBaseCurrency("BTCUSDT")  // "BTC"
//	ExtractBaseCurrency("ETH-USDT") // "ETH"
//	ExtractBaseCurrency("ETHBTC")   // "ETH"
func ExtractBaseCurrency(symbol string) string {
	base, _ := splitSymbol(symbol)
	return base
}

// ExtractQuoteCurrency извлекает котируемую валюту из символа.
func ExtractQuoteCurrency(symbol string) string {
	_, quote := splitSymbol(symbol)
	return quote
}

// splitSymbol делит символ на базовую и котируемую валюты.
// Сначала пробуем явный разделитель, потом известные суффиксы.
func splitSymbol(symbol string) (base, quote string) {
	upper := strings.ToUpper(strings.TrimSpace(symbol))

	for _, sep := range []string{"-", "_", "/"} {
		if idx := strings.Index(upper, sep); idx > 0 {
			return upper[:idx], upper[idx+1:]
		}
	}

	for _, q := range quoteCurrencies {
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			return strings.TrimSuffix(upper, q), q
		}
	}

	return upper, ""
}

// ============================================================
// Площадки
// ============================================================

// ValidateVenue проверяет, что площадка поддерживается.
func ValidateVenue(venue string) error {
	if venue == "" {
		return fmt.Errorf("%w: empty", ErrInvalidVenue)
	}
	normalized := NormalizeVenue(venue)
	for _, v := range SupportedVenues {
		if v == normalized {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (supported: %s)", ErrInvalidVenue, venue, strings.Join(SupportedVenues, ", "))
}

// IsValidVenue - булев вариант ValidateVenue.
func IsValidVenue(venue string) bool {
	return ValidateVenue(venue) == nil
}

// NormalizeVenue приводит идентификатор площадки к нижнему регистру.
func NormalizeVenue(venue string) string {
	return strings.ToLower(strings.TrimSpace(venue))
}

// GetSupportedVenues возвращает копию списка поддерживаемых площадок.
func GetSupportedVenues() []string {
	out := make([]string, len(SupportedVenues))
	copy(out, SupportedVenues)
	return out
}

// ============================================================
// Числовые параметры
// ============================================================

// ValidateSize проверяет размер позиции в единицах базового актива.
// Допустим любой конечный положительный размер до 1e9.
func ValidateSize(size float64) error {
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return fmt.Errorf("%w: not finite", ErrInvalidSize)
	}
	if size <= 0 {
		return fmt.Errorf("%w: must be positive, got %v", ErrInvalidSize, size)
	}
	if size > 1e9 {
		return fmt.Errorf("%w: too large, got %v", ErrInvalidSize, size)
	}
	return nil
}

// ValidateNotional проверяет номинал в USD.
func ValidateNotional(usd float64) error {
	if math.IsNaN(usd) || math.IsInf(usd, 0) {
		return errors.New("notional must be finite")
	}
	if usd <= 0 {
		return fmt.Errorf("notional must be positive, got %v", usd)
	}
	if usd > 1e9 {
		return fmt.Errorf("notional too large, got %v", usd)
	}
	return nil
}

// ValidateSliceCount проверяет количество слайсов (1..100).
func ValidateSliceCount(n int) error {
	if n < 1 {
		return fmt.Errorf("slice count must be at least 1, got %d", n)
	}
	if n > 100 {
		return fmt.Errorf("slice count too large, got %d", n)
	}
	return nil
}

// ValidateFundingRate проверяет ставку фандинга за интервал.
// Ставка может быть отрицательной; |rate| > 100% считается мусором.
func ValidateFundingRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return errors.New("funding rate must be finite")
	}
	if math.Abs(rate) > 1.0 {
		return fmt.Errorf("funding rate out of range, got %v", rate)
	}
	return nil
}

// ValidatePercentage проверяет процентное значение (0..100).
func ValidatePercentage(pct float64) error {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return errors.New("percentage must be finite")
	}
	if pct < 0 || pct > 100 {
		return fmt.Errorf("percentage must be in [0, 100], got %v", pct)
	}
	return nil
}

// ============================================================
// Учетные данные API
// ============================================================

// ValidateAPIKey проверяет формат API ключа:
// минимум 16 символов, латиница, цифры, дефисы и подчеркивания.
func ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAPIKey)
	}
	if !apiKeyRe.MatchString(apiKey) {
		return fmt.Errorf("%w: must be at least 16 alphanumeric characters", ErrInvalidAPIKey)
	}
	return nil
}

// IsValidAPIKey - булев вариант ValidateAPIKey.
func IsValidAPIKey(apiKey string) bool {
	return ValidateAPIKey(apiKey) == nil
}

// ValidateAPISecret проверяет секрет: минимум 16 символов,
// состав символов не ограничиваем.
func ValidateAPISecret(secret string) error {
	if len(secret) < 16 {
		return errors.New("api secret must be at least 16 characters")
	}
	return nil
}

// ValidateAPIPassphrase проверяет passphrase (требуется bitget).
// Пустое значение допустимо: не все площадки его используют.
func ValidateAPIPassphrase(passphrase string) error {
	if len(passphrase) > 64 {
		return errors.New("api passphrase too long")
	}
	return nil
}

// ============================================================
// Параметры исполнения
// ============================================================

// ExecutionParams - параметры запроса на исполнение для валидации.
type ExecutionParams struct {
	Symbol     string
	LongVenue  string
	ShortVenue string
	TotalUsd   float64
	MinSlices  int
	MaxSlices  int
}

// ValidateExecutionParams проверяет запрос на исполнение целиком
// и собирает все найденные проблемы.
func ValidateExecutionParams(p ExecutionParams) error {
	var errs ValidationErrors

	errs.AddError("symbol", ValidateSymbol(p.Symbol))
	errs.AddError("long_venue", ValidateVenue(p.LongVenue))
	errs.AddError("short_venue", ValidateVenue(p.ShortVenue))
	errs.AddError("total_usd", ValidateNotional(p.TotalUsd))
	errs.AddError("min_slices", ValidateSliceCount(p.MinSlices))
	errs.AddError("max_slices", ValidateSliceCount(p.MaxSlices))

	if p.LongVenue != "" && NormalizeVenue(p.LongVenue) == NormalizeVenue(p.ShortVenue) {
		errs.Add("venues", "long and short venues must differ")
	}
	if p.MaxSlices < p.MinSlices {
		errs.Add("max_slices", "must be >= min_slices")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ============================================================
// Накопитель ошибок валидации
// ============================================================

// ValidationError - одна ошибка валидации с привязкой к полю.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors - список ошибок валидации, реализует error.
type ValidationErrors []ValidationError

// Add добавляет ошибку по полю.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// AddError добавляет error, если он не nil.
func (e *ValidationErrors) AddError(field string, err error) {
	if err == nil {
		return
	}
	*e = append(*e, ValidationError{Field: field, Message: err.Error()})
}

// HasErrors сообщает, есть ли накопленные ошибки.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Error собирает все ошибки в одну строку.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
