package zones

import (
	"github.com/skalibog/smcbot/pkg/models"
)

// OrderBlocks ищет ордерблоки. Для каждой тройки (c[i-2], опорная c[i-1],
// окно смещения c[i..]) первая подходящая свеча смещения порождает зону
// по телу опорной свечи.
func (d *Detector) OrderBlocks(candles []models.Candle) []models.Zone {
	if len(candles) < 3 {
		return nil
	}

	var zones []models.Zone
	for i := 2; i < len(candles); i++ {
		prev, pivot := candles[i-2], candles[i-1]
		end := min(i+d.displacementWindow, len(candles))

		// Медвежий: опорная обновила максимум, затем медвежья свеча с более низким максимумом
		if pivot.High.GreaterThan(prev.High) {
			for j := i; j < end; j++ {
				if candles[j].High.LessThan(pivot.High) && candles[j].Bearish() {
					zones = append(zones, orderBlock(models.Bearish, pivot, i-1))
					break
				}
			}
		}

		// Бычий: зеркально по минимумам
		if pivot.Low.LessThan(prev.Low) {
			for j := i; j < end; j++ {
				if candles[j].Low.GreaterThan(pivot.Low) && candles[j].Bullish() {
					zones = append(zones, orderBlock(models.Bullish, pivot, i-1))
					break
				}
			}
		}
	}
	return zones
}

func orderBlock(t models.ZoneType, pivot models.Candle, index int) models.Zone {
	return models.Zone{
		Kind:  models.OrderBlock,
		Type:  t,
		High:  pivot.BodyHigh(),
		Low:   pivot.BodyLow(),
		Time:  pivot.Time,
		Index: index,
	}
}
