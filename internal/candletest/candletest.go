// Package candletest строит свечи для тестов из float-литералов.
package candletest

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/pkg/models"
)

// Start время первой свечи в тестовых рядах
var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// D короткая запись decimal
func D(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// Bar свеча с индексом i (минутные интервалы от Start)
func Bar(i int, open, high, low, close float64) models.Candle {
	return models.Candle{
		Time:   Start.Add(time.Duration(i) * time.Minute),
		Open:   D(open),
		High:   D(high),
		Low:    D(low),
		Close:  D(close),
		Volume: D(1),
	}
}

// HL свеча, у которой важны только high/low; тело внутри диапазона
func HL(i int, high, low float64) models.Candle {
	mid := (high + low) / 2
	return Bar(i, mid, high, low, mid)
}

// Series строит ряд свечей по парам {high, low}
func Series(pairs ...[2]float64) []models.Candle {
	out := make([]models.Candle, len(pairs))
	for i, p := range pairs {
		out[i] = HL(i, p[0], p[1])
	}
	return out
}

// Trend ряд из n свечей со строго растущими (step > 0) или
// падающими (step < 0) high и low
func Trend(n int, base, step float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		low := base + float64(i)*step
		out[i] = HL(i, low+1, low)
	}
	return out
}
