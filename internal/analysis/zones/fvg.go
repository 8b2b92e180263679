package zones

import (
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/pkg/models"
)

// FairValueGaps ищет разрывы справедливой стоимости на тройках свечей.
// Границы округляются к шагу цены; разрывы уже minGapTicks отбрасываются.
func (d *Detector) FairValueGaps(candles []models.Candle) []models.Zone {
	if len(candles) < 3 {
		return nil
	}

	minWidth := d.tickSize.Mul(decimal.NewFromInt(int64(d.minGapTicks)))

	var gaps []models.Zone
	for i := 2; i < len(candles); i++ {
		first, middle, last := candles[i-2], candles[i-1], candles[i]

		var zone models.Zone
		switch {
		case first.High.LessThan(last.Low):
			zone = models.Zone{Type: models.Bullish, Low: first.High, High: last.Low}
		case first.Low.GreaterThan(last.High):
			zone = models.Zone{Type: models.Bearish, Low: last.High, High: first.Low}
		default:
			continue
		}

		zone.Kind = models.FairValueGap
		zone.Low = d.roundToTick(zone.Low)
		zone.High = d.roundToTick(zone.High)
		zone.Time = middle.Time
		zone.Index = i - 1

		// Фильтр шума
		if zone.High.Sub(zone.Low).LessThan(minWidth) {
			continue
		}
		gaps = append(gaps, zone)
	}
	return gaps
}
