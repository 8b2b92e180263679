package zones

import (
	"sort"

	"github.com/skalibog/smcbot/pkg/models"
)

// BreakerBlocks строит брейкеры из пробитых ордерблоков.
// Бычий OB, пробитый вниз, дает медвежий брейкер; медвежий - зеркально.
// Вариант reversal берет high/low первой свечи разворота в пределах
// maxRebound после пробоя, вариант retest - границы самого OB, если
// в том же окне цена вернулась к пробитой границе.
func (d *Detector) BreakerBlocks(candles []models.Candle, orderBlocks []models.Zone) []models.Zone {
	if len(candles) < 3 {
		return nil
	}

	// в варианте retest один свечной ретест может дать несколько зон
	// с разными границами
	type key struct {
		t         models.ZoneType
		index     int
		high, low string
	}
	seen := make(map[key]bool)

	var breakers []models.Zone
	for _, ob := range orderBlocks {
		if ob.Kind != models.OrderBlock || ob.Index < 0 || ob.Index >= len(candles) {
			continue
		}

		broken := d.invalidation(candles, ob)
		if broken < 0 {
			continue
		}

		var rebound int
		if d.breakerVariant == BreakerRetest {
			rebound = d.retest(candles, ob, broken)
		} else {
			rebound = d.rebound(candles, ob.Type, broken)
		}
		if rebound < 0 {
			continue
		}

		bbType := models.Bearish
		if ob.Type == models.Bearish {
			bbType = models.Bullish
		}
		c := candles[rebound]
		high, low := c.High, c.Low
		if d.breakerVariant == BreakerRetest {
			high, low = ob.High, ob.Low
		}

		k := key{bbType, rebound, high.String(), low.String()}
		if seen[k] {
			continue
		}
		seen[k] = true
		breakers = append(breakers, models.Zone{
			Kind:  models.BreakerBlock,
			Type:  bbType,
			High:  high,
			Low:   low,
			Time:  c.Time,
			Index: rebound,
		})
	}

	// от старых к новым, как и остальные детекторы
	sort.SliceStable(breakers, func(i, j int) bool {
		return breakers[i].Index < breakers[j].Index
	})
	return breakers
}

// invalidation индекс первой свечи, пробившей OB, или -1
func (d *Detector) invalidation(candles []models.Candle, ob models.Zone) int {
	for k := ob.Index + 1; k < len(candles); k++ {
		switch ob.Type {
		case models.Bullish:
			if candles[k].Low.LessThan(ob.Low) {
				return k
			}
		case models.Bearish:
			if candles[k].High.GreaterThan(ob.High) {
				return k
			}
		}
	}
	return -1
}

// rebound индекс первой разворотной свечи после пробоя или -1
func (d *Detector) rebound(candles []models.Candle, obType models.ZoneType, broken int) int {
	end := min(broken+d.maxRebound+1, len(candles))
	for m := broken + 1; m < end; m++ {
		if obType == models.Bullish && candles[m].Bullish() {
			return m
		}
		if obType == models.Bearish && candles[m].Bearish() {
			return m
		}
	}
	return -1
}

// retest индекс первой свечи после пробоя, дотянувшейся до пробитой
// границы OB, или -1
func (d *Detector) retest(candles []models.Candle, ob models.Zone, broken int) int {
	end := min(broken+d.maxRebound+1, len(candles))
	for m := broken + 1; m < end; m++ {
		if ob.Type == models.Bullish && candles[m].High.GreaterThanOrEqual(ob.Low) {
			return m
		}
		if ob.Type == models.Bearish && candles[m].Low.LessThanOrEqual(ob.High) {
			return m
		}
	}
	return -1
}
