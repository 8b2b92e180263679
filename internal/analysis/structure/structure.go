// Package structure размечает свечи событиями рыночной структуры (BOS/CHoCH).
package structure

import (
	"github.com/skalibog/smcbot/pkg/models"
)

// MinCandles минимальная длина окна, при которой появляются метки
const MinCandles = 3

// Detect возвращает по одной метке на каждую свечу окна.
// Индексы 0 и 1 всегда StructureNone. Окно не изменяется.
func Detect(candles []models.Candle) []models.StructureLabel {
	labels := make([]models.StructureLabel, len(candles))
	for i := range labels {
		labels[i] = models.StructureNone
	}

	for i := 2; i < len(candles); i++ {
		labels[i] = label(candles[i-2], candles[i-1], candles[i])
	}
	return labels
}

// label порядок проверок фиксирован: первая совпавшая побеждает
func label(prev2, prev, cur models.Candle) models.StructureLabel {
	switch {
	case cur.High.GreaterThan(prev.High) && cur.Low.GreaterThan(prev.Low):
		return models.BOSUp
	case cur.Low.LessThan(prev.Low) && cur.High.LessThan(prev.High):
		return models.BOSDown
	case cur.Low.GreaterThan(prev.Low) && prev2.High.GreaterThan(prev.High):
		return models.CHoCHUp
	case cur.High.LessThan(prev.High) && prev2.Low.LessThan(prev.Low):
		return models.CHoCHDown
	}
	return models.StructureNone
}

// Latest возвращает последнюю ненулевую метку и её индекс
func Latest(candles []models.Candle) (models.StructureLabel, int, bool) {
	labels := Detect(candles)
	for i := len(labels) - 1; i >= 0; i-- {
		if labels[i] != models.StructureNone {
			return labels[i], i, true
		}
	}
	return models.StructureNone, -1, false
}

// LatestMatching возвращает последний слом структуры в направлении dir
func LatestMatching(candles []models.Candle, dir models.Direction) (models.StructureLabel, int, bool) {
	labels := Detect(candles)
	for i := len(labels) - 1; i >= 0; i-- {
		if d, ok := labels[i].Direction(); ok && d == dir {
			return labels[i], i, true
		}
	}
	return models.StructureNone, -1, false
}
