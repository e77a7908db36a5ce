package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Вспомогательные функции для временных операций: границы
// интервалов фандинга, агрегация статистики по окнам,
// конвертация timestamp.
//
// Все расчёты ведутся в UTC: интервалы фандинга на биржах
// привязаны к UTC-границам (00:00, 08:00, 16:00 и т.д.).

// ============================================================
// Границы периодов
// ============================================================

// GetDayStart возвращает начало текущего дня (00:00:00) в UTC
//
// Пример:
//
//	// Сейчас: 2024-01-15 14:30:45 UTC
//	start := GetDayStart()
//	// start: 2024-01-15 00:00:00 UTC
func GetDayStart() time.Time {
	return GetDayStartFrom(time.Now().UTC())
}

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
//
// Параметры:
//   - t: исходное время
//
// Возвращает: начало дня (00:00:00 UTC) для указанной даты
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetHourStart возвращает начало текущего часа в UTC
func GetHourStart() time.Time {
	return GetHourStartFrom(time.Now().UTC())
}

// GetHourStartFrom возвращает начало часа для указанного времени в UTC
func GetHourStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

// ============================================================
// Границы интервалов фандинга
// ============================================================

// NextIntervalBoundary возвращает следующую границу интервала,
// отсчитываемую от начала суток UTC.
//
// Интервал должен нацело делить 24 часа (1h, 2h, 4h, 8h).
// Если from попадает точно на границу, возвращается СЛЕДУЮЩАЯ
// граница: выплата в момент from уже произошла.
//
// Параметры:
//   - from: точка отсчёта
//   - interval: длина интервала фандинга
//
// Возвращает:
//   - Время следующей границы в UTC
//
// Примеры:
//
//	// from = 2024-01-15 13:25 UTC, interval = 8h
//	NextIntervalBoundary(from, 8*time.Hour) // 2024-01-15 16:00 UTC
//
//	// from = 2024-01-15 16:00 UTC, interval = 8h
//	NextIntervalBoundary(from, 8*time.Hour) // 2024-01-16 00:00 UTC
func NextIntervalBoundary(from time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return from
	}
	from = from.UTC()
	anchor := GetDayStartFrom(from)
	elapsed := from.Sub(anchor)
	n := elapsed/interval + 1
	return anchor.Add(n * interval)
}

// HoursBetween возвращает количество часов между двумя моментами
// как дробное число. Порядок аргументов не важен.
func HoursBetween(a, b time.Time) float64 {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d.Hours()
}

// ============================================================
// Временные диапазоны
// ============================================================

// TimeRange представляет временной диапазон
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет, попадает ли время в диапазон
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// Duration возвращает продолжительность диапазона
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// GetLastNHours возвращает диапазон последних n часов
func GetLastNHours(n int) TimeRange {
	if n <= 0 {
		n = 1
	}
	now := time.Now().UTC()
	return TimeRange{
		Start: now.Add(-time.Duration(n) * time.Hour),
		End:   now,
	}
}

// GetLastNDays возвращает диапазон последних n дней (включая сегодня)
func GetLastNDays(n int) TimeRange {
	if n <= 0 {
		n = 1
	}
	now := time.Now().UTC()
	return TimeRange{
		Start: GetDayStartFrom(now.AddDate(0, 0, -(n - 1))),
		End:   now,
	}
}

// ============================================================
// Форматирование времени
// ============================================================

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
//   - "3d5h" (через 77h0m0s)
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		if hours > 0 {
			return (time.Duration(days*24+hours) * time.Hour).String()
		}
		return (time.Duration(days*24) * time.Hour).String()
	}

	if hours > 0 {
		if minutes > 0 {
			return (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute).String()
		}
		return (time.Duration(hours) * time.Hour).String()
	}

	if minutes > 0 {
		if seconds > 0 {
			return (time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second).String()
		}
		return (time.Duration(minutes) * time.Minute).String()
	}

	return (time.Duration(seconds) * time.Second).String()
}

// ============================================================
// Утилиты для timestamp
// ============================================================

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
