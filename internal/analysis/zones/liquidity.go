package zones

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/pkg/models"
)

const maxStrength = 3

// LiquidityLevels ищет равные максимумы (buy-side) и минимумы (sell-side)
// в окрестности ±liquidityNeighborhood свечей.
func (d *Detector) LiquidityLevels(candles []models.Candle) []models.LiquidityLevel {
	if len(candles) < 3 {
		return nil
	}

	var levels []models.LiquidityLevel
	for i := 1; i < len(candles)-1; i++ {
		from := max(0, i-d.liquidityNeighborhood)
		to := min(len(candles)-1, i+d.liquidityNeighborhood)

		highs, lows := 0, 0
		for j := from; j <= to; j++ {
			if j == i {
				continue
			}
			if relDiff(candles[j].High, candles[i].High, candles[i].High).LessThanOrEqual(d.tolerance) {
				highs++
			}
			if relDiff(candles[j].Low, candles[i].Low, candles[i].Low).LessThanOrEqual(d.tolerance) {
				lows++
			}
		}

		if highs > 0 {
			levels = append(levels, models.LiquidityLevel{
				Type:     models.BuySide,
				Price:    candles[i].High,
				Time:     candles[i].Time,
				Strength: min(maxStrength, highs),
			})
		}
		if lows > 0 {
			levels = append(levels, models.LiquidityLevel{
				Type:     models.SellSide,
				Price:    candles[i].Low,
				Time:     candles[i].Time,
				Strength: min(maxStrength, lows),
			})
		}
	}

	return DedupeLevels(levels, d.tolerance, d.maxLevels)
}

// DedupeLevels объединяет уровни одного типа в пределах допуска, оставляя
// более сильный (при равенстве - более ранний), сортирует по убыванию
// силы и обрезает до limit.
func DedupeLevels(levels []models.LiquidityLevel, tolerance decimal.Decimal, limit int) []models.LiquidityLevel {
	// сильные первыми: первый оставленный уровень поглощает всех соседей
	sorted := append([]models.LiquidityLevel(nil), levels...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Strength > sorted[j].Strength
	})

	var merged []models.LiquidityLevel
	for _, lvl := range sorted {
		dup := false
		for _, m := range merged {
			if m.Type == lvl.Type && relDiff(m.Price, lvl.Price, m.Price).LessThanOrEqual(tolerance) {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, lvl)
		}
	}

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
