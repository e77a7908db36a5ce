package exchange

import (
	"time"

	"fundarb/pkg/utils"
)

// funding.go - расписания фандинга площадок
//
// Назначение:
// Каждая площадка платит фандинг по своему расписанию. Исполнитель
// использует ближайшую границу выплаты как дедлайн для динамической
// разбивки на слайсы; трекер убытков нормализует ставки к часовой.
//
// Расписания:
// - hyperliquid: каждый час, по границе часа UTC
// - bybit/bitget: каждые 8 часов в 00:00/08:00/16:00 UTC

// Идентификаторы поддерживаемых площадок
const (
	VenueBybit       = "bybit"
	VenueBitget      = "bitget"
	VenueHyperliquid = "hyperliquid"
	VenueMock        = "mock"
)

// FundingPeriod возвращает интервал между выплатами фандинга площадки
func FundingPeriod(venue string) time.Duration {
	switch venue {
	case VenueHyperliquid:
		return time.Hour
	case VenueBybit, VenueBitget:
		return 8 * time.Hour
	case VenueMock:
		return time.Hour
	default:
		return 8 * time.Hour
	}
}

// NextFundingTime возвращает момент следующей выплаты фандинга
// площадки после from. Границы отсчитываются от начала суток UTC.
func NextFundingTime(venue string, from time.Time) time.Time {
	return utils.NextIntervalBoundary(from, FundingPeriod(venue))
}

// TimeToFunding возвращает время до следующей выплаты фандинга
func TimeToFunding(venue string, from time.Time) time.Duration {
	return NextFundingTime(venue, from).Sub(from)
}

// SoonerFundingTime возвращает более раннюю из двух границ фандинга.
// Используется как ограничивающий дедлайн для исполнения на паре площадок.
func SoonerFundingTime(venueA, venueB string, from time.Time) time.Time {
	a := NextFundingTime(venueA, from)
	b := NextFundingTime(venueB, from)
	if b.Before(a) {
		return b
	}
	return a
}

// HourlyRate нормализует ставку за период площадки к часовой ставке
func HourlyRate(venue string, ratePerPeriod float64) float64 {
	hours := FundingPeriod(venue).Hours()
	if hours <= 0 {
		return ratePerPeriod
	}
	return ratePerPeriod / hours
}
