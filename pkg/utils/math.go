package utils

import (
	"math"
)

// math.go - математические утилиты для работы с позициями и ставками
//
// Назначение:
// Вспомогательные математические функции для расчёта объёмов,
// PNL и статистики ставок фандинга.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - RoundToLotSize: округление до lot size биржи
// - SplitNotional: разбивка номинала на слайсы
// - CalculatePNL: прибыль/убыток по ноге позиции
// - Mean / StdDev: статистика по выборке ставок

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до минимального шага биржи.
// Округление вниз гарантирует, что мы не превысим доступные средства.
//
// Параметры:
//   - value: исходное значение (объём в монетах актива)
//   - lotSize: минимальный шаг изменения объёма на бирже
//
// Возвращает:
//   - Округлённое значение, кратное lotSize
//   - Если lotSize <= 0, возвращает исходное значение
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
//   - RoundToLotSize(100.5, 1.0) = 100.0
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// Используем math.Floor для округления вниз
	// Это безопаснее для торговли - не превысим доступные средства
	return math.Floor(value/lotSize) * lotSize
}

// RoundToLotSizeUp округляет значение ВВЕРХ до ближайшего кратного lotSize.
//
// Используется когда нужно гарантировать минимальный объём (например, для minQty).
//
// Параметры:
//   - value: исходное значение
//   - lotSize: минимальный шаг
//
// Возвращает:
//   - Округлённое вверх значение, кратное lotSize
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Ceil(value/lotSize) * lotSize
}

// RoundToLotSizeNearest округляет к ближайшему кратному lotSize.
//
// Стандартное математическое округление. Подходит и для квантования
// цены по шагу тика.
//
// Параметры:
//   - value: исходное значение
//   - lotSize: минимальный шаг
//
// Возвращает:
//   - Округлённое значение к ближайшему кратному lotSize
func RoundToLotSizeNearest(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Round(value/lotSize) * lotSize
}

// CalculateWeightedAverage вычисляет средневзвешенное значение.
//
// Используется для расчёта средней цены исполнения по слайсам:
// values - цены заполнения, weights - заполненные объёмы.
//
// Формула:
//
//	avg = Σ(value_i × weight_i) / Σ(weight_i)
//
// Параметры:
//   - values: слайс значений (например, цены)
//   - weights: слайс весов (например, объёмы)
//
// Возвращает:
//   - Средневзвешенное значение
//   - 0 если входные данные некорректны
//
// Примеры:
//
//	values  = [100.0, 101.0, 102.0]
//	weights = [10.0, 20.0, 10.0]
//	avg = (100*10 + 101*20 + 102*10) / (10+20+10) = 4040/40 = 101.0
func CalculateWeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(weights) == 0 {
		return 0
	}
	if len(values) != len(weights) {
		return 0
	}

	var sumWeighted, sumWeights float64
	for i := range values {
		if weights[i] < 0 {
			continue // Пропускаем отрицательные веса
		}
		sumWeighted += values[i] * weights[i]
		sumWeights += weights[i]
	}

	if sumWeights == 0 {
		return 0
	}
	return sumWeighted / sumWeights
}

// CalculatePNL расчитывает прибыль/убыток по ноге позиции.
//
// Формулы:
//   - Long PNL = (P_close - P_open) × qty
//   - Short PNL = (P_open - P_close) × qty
//
// Параметры:
//   - side: "long" или "short"
//   - entryPrice: цена входа
//   - currentPrice: текущая/выходная цена
//   - quantity: объём позиции
//
// Возвращает:
//   - PNL в валюте котировки (обычно USDT)
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}

	switch side {
	case "long":
		// Лонг: прибыль если цена выросла
		return (currentPrice - entryPrice) * quantity
	case "short":
		// Шорт: прибыль если цена упала
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// CalculateTotalPNL расчитывает суммарный PNL дельта-нейтральной позиции.
//
// Параметры:
//   - longEntry: цена входа в лонг
//   - longCurrent: текущая цена лонга
//   - shortEntry: цена входа в шорт
//   - shortCurrent: текущая цена шорта
//   - quantity: объём (одинаковый для обеих ног)
//
// Возвращает:
//   - Суммарный PNL в валюте котировки
func CalculateTotalPNL(longEntry, longCurrent, shortEntry, shortCurrent, quantity float64) float64 {
	longPNL := CalculatePNL("long", longEntry, longCurrent, quantity)
	shortPNL := CalculatePNL("short", shortEntry, shortCurrent, quantity)
	return longPNL + shortPNL
}

// SplitNotional разбивает общий номинал в USD на N частей.
//
// Используется для разбивки исполнения на слайсы. Части равные,
// последняя поглощает остаток от деления, чтобы сумма частей
// в точности равнялась totalUsd.
//
// Параметры:
//   - totalUsd: общий номинал в USD
//   - nParts: количество частей
//
// Возвращает:
//   - Слайс номиналов для каждой части
//   - nil при некорректных входных данных
func SplitNotional(totalUsd float64, nParts int) []float64 {
	if nParts <= 0 || totalUsd <= 0 {
		return nil
	}

	if nParts == 1 {
		return []float64{totalUsd}
	}

	part := totalUsd / float64(nParts)
	parts := make([]float64, nParts)
	var used float64
	for i := 0; i < nParts-1; i++ {
		parts[i] = part
		used += part
	}
	parts[nParts-1] = totalUsd - used

	return parts
}

// Mean вычисляет среднее арифметическое выборки.
//
// Возвращает 0 для пустой выборки.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev вычисляет стандартное отклонение выборки (population).
//
// Возвращает 0 для выборки короче двух элементов.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Clamp01 ограничивает значение диапазоном [0, 1].
func Clamp01(value float64) float64 {
	return Clamp(value, 0, 1)
}
