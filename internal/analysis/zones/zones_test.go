package zones

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/candletest"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector() *Detector {
	return NewDetector(config.Default().Analysis.Detection)
}

var d = candletest.D

func TestOrderBlocksBearishDisplacement(t *testing.T) {
	candles := []models.Candle{
		candletest.Bar(0, 95, 100, 90, 96),
		// опорная: максимум выше предыдущего
		candletest.Bar(1, 97, 105, 92, 103),
		// медвежья свеча смещения с более низким максимумом
		candletest.Bar(2, 102, 104, 95, 96),
	}

	obs := newTestDetector().OrderBlocks(candles)
	require.Len(t, obs, 1)

	ob := obs[0]
	assert.Equal(t, models.OrderBlock, ob.Kind)
	assert.Equal(t, models.Bearish, ob.Type)
	assert.True(t, ob.Low.Equal(d(97)), "low %s", ob.Low)
	assert.True(t, ob.High.Equal(d(103)), "high %s", ob.High)
	assert.Equal(t, candles[1].Time, ob.Time)
	assert.Equal(t, 1, ob.Index)
}

func TestOrderBlocksFirstQualifyingCandleWithinWindow(t *testing.T) {
	candles := []models.Candle{
		candletest.Bar(0, 95, 100, 90, 96),
		candletest.Bar(1, 97, 105, 92, 103),
		// бычьи свечи не подходят
		candletest.Bar(2, 100, 104, 99, 103),
		candletest.Bar(3, 100, 104, 99, 103),
		candletest.Bar(4, 100, 104, 99, 103),
		// за пределами окна смещения
		candletest.Bar(5, 102, 104, 95, 96),
	}

	for _, ob := range newTestDetector().OrderBlocks(candles) {
		assert.NotEqual(t, 1, ob.Index, "pivot 1 must not qualify outside the window")
	}
}

func TestOrderBlocksBullish(t *testing.T) {
	candles := []models.Candle{
		candletest.Bar(0, 103, 110, 100, 104),
		candletest.Bar(1, 101, 104, 98, 99),
		candletest.Bar(2, 99.5, 104, 99, 103),
	}

	obs := newTestDetector().OrderBlocks(candles)
	require.Len(t, obs, 1)
	assert.Equal(t, models.Bullish, obs[0].Type)
	assert.True(t, obs[0].Low.Equal(d(99)))
	assert.True(t, obs[0].High.Equal(d(101)))
}

func TestOrderBlocksShortWindow(t *testing.T) {
	assert.Empty(t, newTestDetector().OrderBlocks(candletest.Trend(2, 100, 1)))
}

func TestFairValueGaps(t *testing.T) {
	det := newTestDetector()

	bullish := []models.Candle{
		candletest.HL(0, 100, 95),
		candletest.HL(1, 106, 99),
		candletest.HL(2, 108, 100.05),
	}
	gaps := det.FairValueGaps(bullish)
	require.Len(t, gaps, 1)
	assert.Equal(t, models.FairValueGap, gaps[0].Kind)
	assert.Equal(t, models.Bullish, gaps[0].Type)
	assert.True(t, gaps[0].Low.Equal(d(100)))
	assert.True(t, gaps[0].High.Equal(d(100.05)))
	assert.Equal(t, bullish[1].Time, gaps[0].Time)

	bearish := []models.Candle{
		candletest.HL(0, 110, 105),
		candletest.HL(1, 106, 98),
		candletest.HL(2, 104.9, 97),
	}
	gaps = det.FairValueGaps(bearish)
	require.Len(t, gaps, 1)
	assert.Equal(t, models.Bearish, gaps[0].Type)
	assert.True(t, gaps[0].Low.Equal(d(104.9)))
	assert.True(t, gaps[0].High.Equal(d(105)))
}

func TestFairValueGapsNoiseFilter(t *testing.T) {
	narrow := []models.Candle{
		candletest.HL(0, 100, 95),
		candletest.HL(1, 106, 99),
		candletest.HL(2, 108, 100.02),
	}
	assert.Empty(t, newTestDetector().FairValueGaps(narrow))
}

func TestFairValueGapsRoundToTick(t *testing.T) {
	cfg := config.Default().Analysis.Detection
	cfg.TickSize = 0.5
	det := NewDetector(cfg)

	candles := []models.Candle{
		candletest.HL(0, 100.2, 95),
		candletest.HL(1, 106, 99),
		candletest.HL(2, 108, 101.7),
	}
	gaps := det.FairValueGaps(candles)
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Low.Equal(d(100)), "low %s", gaps[0].Low)
	assert.True(t, gaps[0].High.Equal(d(101.5)), "high %s", gaps[0].High)
}

func TestFairValueGapsWidthProperty(t *testing.T) {
	det := newTestDetector()
	rng := rand.New(rand.NewSource(42))
	minWidth := det.TickSize().Mul(decimal.NewFromInt(3))

	price := 100.0
	candles := make([]models.Candle, 0, 500)
	for i := 0; i < 500; i++ {
		price += (rng.Float64() - 0.5) * 0.4
		spread := rng.Float64() * 0.2
		candles = append(candles, candletest.HL(i, price+spread, price-spread))
	}

	for _, gap := range det.FairValueGaps(candles) {
		assert.True(t, gap.High.Sub(gap.Low).GreaterThanOrEqual(minWidth), "gap %s-%s", gap.Low, gap.High)
		assert.True(t, gap.High.GreaterThanOrEqual(gap.Low))
	}
}

func breakerSeries() []models.Candle {
	return []models.Candle{
		candletest.Bar(0, 103, 105, 100, 102),
		// бычий OB: тело [99, 101]
		candletest.Bar(1, 101, 104, 98, 99),
		candletest.Bar(2, 99.5, 104, 99, 103),
		// пробой минимума OB
		candletest.Bar(3, 102, 102, 97, 97.5),
		// бычий отскок
		candletest.Bar(4, 97.5, 100.5, 97.2, 100),
	}
}

func TestBreakerBlocksFromInvalidatedBullishOB(t *testing.T) {
	det := newTestDetector()
	candles := breakerSeries()

	obs := det.OrderBlocks(candles)
	require.NotEmpty(t, obs)
	assert.Equal(t, 1, obs[0].Index)

	bbs := det.BreakerBlocks(candles, obs)
	require.Len(t, bbs, 1)
	bb := bbs[0]
	assert.Equal(t, models.BreakerBlock, bb.Kind)
	assert.Equal(t, models.Bearish, bb.Type)
	assert.True(t, bb.High.Equal(d(100.5)))
	assert.True(t, bb.Low.Equal(d(97.2)))
	assert.Equal(t, 4, bb.Index)
}

func TestBreakerBlocksRequireReboundWithinWindow(t *testing.T) {
	cfg := config.Default().Analysis.Detection
	cfg.MaxReboundCandles = 1
	det := NewDetector(cfg)

	candles := breakerSeries()
	// медвежья свеча вместо отскока, бычий отскок уже вне окна
	candles[4] = candletest.Bar(4, 97.5, 98, 96.5, 97)
	candles = append(candles, candletest.Bar(5, 97, 100, 96.8, 99))

	ob := models.Zone{Kind: models.OrderBlock, Type: models.Bullish, High: d(101), Low: d(99), Index: 1}
	assert.Empty(t, det.BreakerBlocks(candles, []models.Zone{ob}))
}

func TestBreakerBlocksWithoutInvalidation(t *testing.T) {
	det := newTestDetector()
	candles := breakerSeries()[:3]
	ob := models.Zone{Kind: models.OrderBlock, Type: models.Bullish, High: d(101), Low: d(99), Index: 1}
	assert.Empty(t, det.BreakerBlocks(candles, []models.Zone{ob}))
}

func TestBreakerBlocksFromBearishOB(t *testing.T) {
	det := newTestDetector()
	candles := []models.Candle{
		candletest.Bar(0, 100, 101, 95, 99),
		candletest.Bar(1, 99, 103, 97, 101),
		candletest.Bar(2, 100, 100.5, 98, 99),
		// пробой максимума медвежьего OB [99, 101]
		candletest.Bar(3, 99, 104, 98.5, 103.5),
		// медвежий отскок
		candletest.Bar(4, 103.5, 104.2, 101.5, 102),
	}
	ob := models.Zone{Kind: models.OrderBlock, Type: models.Bearish, High: d(101), Low: d(99), Index: 1}

	bbs := det.BreakerBlocks(candles, []models.Zone{ob})
	require.Len(t, bbs, 1)
	assert.Equal(t, models.Bullish, bbs[0].Type)
	assert.True(t, bbs[0].High.Equal(d(104.2)))
	assert.True(t, bbs[0].Low.Equal(d(101.5)))
}

func TestBreakerBlocksRetestVariant(t *testing.T) {
	cfg := config.Default().Analysis.Detection
	cfg.BreakerVariant = string(BreakerRetest)
	det := NewDetector(cfg)
	require.Equal(t, BreakerRetest, det.Variant())

	candles := breakerSeries()
	ob := models.Zone{Kind: models.OrderBlock, Type: models.Bullish, High: d(101), Low: d(99), Index: 1}

	// свеча 4 возвращается к пробитому минимуму 99, зона - сам OB
	bbs := det.BreakerBlocks(candles, []models.Zone{ob})
	require.Len(t, bbs, 1)
	assert.Equal(t, models.Bearish, bbs[0].Type)
	assert.True(t, bbs[0].High.Equal(d(101)))
	assert.True(t, bbs[0].Low.Equal(d(99)))
	assert.Equal(t, 4, bbs[0].Index)
	assert.Equal(t, candles[4].Time, bbs[0].Time)
}

func TestBreakerBlocksRetestRequiresReturn(t *testing.T) {
	cfg := config.Default().Analysis.Detection
	cfg.BreakerVariant = string(BreakerRetest)
	det := NewDetector(cfg)

	candles := breakerSeries()
	// бычья свеча, но не доходит до 99
	candles[4] = candletest.Bar(4, 97.5, 98.5, 97.2, 98)
	ob := models.Zone{Kind: models.OrderBlock, Type: models.Bullish, High: d(101), Low: d(99), Index: 1}

	assert.Empty(t, det.BreakerBlocks(candles, []models.Zone{ob}))
	// тот же ряд дает брейкер по свече разворота
	assert.Len(t, newTestDetector().BreakerBlocks(candles, []models.Zone{ob}), 1)
}

func TestBreakerBlocksRetestKeepsEveryBrokenOB(t *testing.T) {
	cfg := config.Default().Analysis.Detection
	cfg.BreakerVariant = string(BreakerRetest)
	det := NewDetector(cfg)

	candles := []models.Candle{
		candletest.Bar(0, 101, 103, 100.5, 102),
		candletest.Bar(1, 100.5, 102, 100.2, 101),
		// пробивает оба OB
		candletest.Bar(2, 100, 100.5, 97, 97.5),
		// ретест обоих
		candletest.Bar(3, 97.5, 100.5, 97.2, 100),
	}
	obs := []models.Zone{
		{Kind: models.OrderBlock, Type: models.Bullish, High: d(102), Low: d(100), Index: 0},
		{Kind: models.OrderBlock, Type: models.Bullish, High: d(101), Low: d(99), Index: 1},
	}

	bbs := det.BreakerBlocks(candles, obs)
	require.Len(t, bbs, 2)
	for i, ob := range obs {
		assert.Equal(t, models.Bearish, bbs[i].Type)
		assert.Equal(t, 3, bbs[i].Index)
		assert.True(t, bbs[i].High.Equal(ob.High), "high %s", bbs[i].High)
		assert.True(t, bbs[i].Low.Equal(ob.Low), "low %s", bbs[i].Low)
	}

	// вариант reversal дает одну зону по свече отскока
	assert.Len(t, newTestDetector().BreakerBlocks(candles, obs), 1)
}

func TestDetectorsOnDegenerateCandles(t *testing.T) {
	flat := func(price float64) []models.Candle {
		out := make([]models.Candle, 12)
		for i := range out {
			out[i] = candletest.HL(i, price, price)
		}
		return out
	}

	tests := []struct {
		name    string
		candles []models.Candle
		price   decimal.Decimal
	}{
		{"zero range", flat(100), d(100)},
		{"zero price", flat(0), decimal.Zero},
	}

	det := newTestDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var levels []models.LiquidityLevel
			require.NotPanics(t, func() {
				levels = det.LiquidityLevels(tt.candles)
			})
			// все свечи равны: один buy-side и один sell-side уровень
			require.Len(t, levels, 2)
			for _, lvl := range levels {
				assert.True(t, lvl.Price.Equal(tt.price), "price %s", lvl.Price)
				assert.Equal(t, maxStrength, lvl.Strength)
			}

			require.NotPanics(t, func() {
				assert.Empty(t, det.FairValueGaps(tt.candles))
				obs := det.OrderBlocks(tt.candles)
				det.BreakerBlocks(tt.candles, obs)
			})
		})
	}
}

func TestRelDiffZeroReference(t *testing.T) {
	assert.True(t, relDiff(decimal.Zero, decimal.Zero, decimal.Zero).IsZero())
	assert.True(t, relDiff(d(1), decimal.Zero, decimal.Zero).GreaterThan(d(1)))
}

func TestUnknownBreakerVariantFallsBackToReversal(t *testing.T) {
	cfg := config.Default().Analysis.Detection
	cfg.BreakerVariant = "unknown"
	assert.Equal(t, BreakerReversal, NewDetector(cfg).Variant())
}

func TestLiquidityLevelsMergesEqualHighs(t *testing.T) {
	candles := candletest.Series(
		[2]float64{100, 90},
		[2]float64{105, 91},
		[2]float64{105.05, 92},
		[2]float64{103, 93},
		[2]float64{105.02, 80},
		[2]float64{102, 94},
	)

	levels := newTestDetector().LiquidityLevels(candles)
	require.Len(t, levels, 1)
	assert.Equal(t, models.BuySide, levels[0].Type)
	assert.True(t, levels[0].Price.Equal(d(105)))
	assert.Equal(t, 2, levels[0].Strength)
	assert.Equal(t, candles[1].Time, levels[0].Time)
}

func TestLiquidityLevelsStrengthCapped(t *testing.T) {
	pairs := make([][2]float64, 8)
	for i := range pairs {
		pairs[i] = [2]float64{110, 90 - float64(i)*3}
	}
	levels := newTestDetector().LiquidityLevels(candletest.Series(pairs...))
	require.Len(t, levels, 1)
	assert.Equal(t, models.BuySide, levels[0].Type)
	assert.Equal(t, 3, levels[0].Strength)
}

func TestDedupeLevelsKeepsStronger(t *testing.T) {
	levels := []models.LiquidityLevel{
		{Type: models.BuySide, Price: d(100), Strength: 1},
		{Type: models.BuySide, Price: d(100.05), Strength: 3},
		{Type: models.SellSide, Price: d(100.02), Strength: 2},
	}

	out := DedupeLevels(levels, d(0.001), 10)
	require.Len(t, out, 2)
	assert.Equal(t, models.BuySide, out[0].Type)
	assert.True(t, out[0].Price.Equal(d(100.05)))
	assert.Equal(t, 3, out[0].Strength)
	assert.Equal(t, models.SellSide, out[1].Type)
}

func TestDedupeLevelsStrongerArrivingLastAbsorbsNeighbours(t *testing.T) {
	// 100.09 поглощает оба соседа, хотя сами они друг от друга дальше допуска
	levels := []models.LiquidityLevel{
		{Type: models.BuySide, Price: d(100), Strength: 1},
		{Type: models.BuySide, Price: d(100.18), Strength: 1},
		{Type: models.BuySide, Price: d(100.09), Strength: 3},
	}

	out := DedupeLevels(levels, d(0.001), 10)
	require.Len(t, out, 1)
	assert.True(t, out[0].Price.Equal(d(100.09)), "price %s", out[0].Price)
	assert.Equal(t, 3, out[0].Strength)
}

func TestDedupeLevelsNoSameTypePairWithinTolerance(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tol := d(0.001)

	for run := 0; run < 50; run++ {
		var levels []models.LiquidityLevel
		for i := 0; i < 20; i++ {
			typ := models.BuySide
			if rng.Intn(2) == 0 {
				typ = models.SellSide
			}
			levels = append(levels, models.LiquidityLevel{
				Type:     typ,
				Price:    d(100 + float64(rng.Intn(40))*0.05),
				Strength: rng.Intn(3) + 1,
			})
		}

		out := DedupeLevels(levels, tol, 0)
		for i := range out {
			for j := i + 1; j < len(out); j++ {
				if out[i].Type != out[j].Type {
					continue
				}
				assert.True(t, relDiff(out[i].Price, out[j].Price, out[i].Price).GreaterThan(tol),
					"run %d: %s %s и %s", run, out[i].Type, out[i].Price, out[j].Price)
			}
		}
	}
}

func TestDedupeLevelsSortsAndTruncates(t *testing.T) {
	var levels []models.LiquidityLevel
	for i := 0; i < 12; i++ {
		levels = append(levels, models.LiquidityLevel{
			Type:     models.SellSide,
			Price:    d(100 + float64(i)*10),
			Strength: i%3 + 1,
		})
	}

	out := DedupeLevels(levels, d(0.001), 10)
	require.Len(t, out, 10)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Strength, out[i].Strength)
	}
	assert.Equal(t, 3, out[0].Strength)
}

func TestContains(t *testing.T) {
	z := models.Zone{High: d(101), Low: d(99)}
	assert.True(t, z.Contains(d(99)))
	assert.True(t, z.Contains(d(101)))
	assert.True(t, z.Contains(d(100)))
	assert.False(t, z.Contains(d(101.01)))
	assert.False(t, z.Contains(d(98.99)))
}
