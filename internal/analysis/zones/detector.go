// Package zones извлекает ценовые зоны из окна свечей: ордерблоки,
// FVG, брейкеры и уровни ликвидности. Все методы - чистые функции окна.
package zones

import (
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
)

// epsilon знаменатель для свечей с нулевым диапазоном
var epsilon = decimal.New(1, -12)

// BreakerVariant способ построения брейкера после пробоя ордерблока
type BreakerVariant string

const (
	// BreakerReversal зона по свече разворота (первая свеча против пробоя)
	BreakerReversal BreakerVariant = "reversal"
	// BreakerRetest зона пробитого OB, когда цена вернулась к нему
	BreakerRetest BreakerVariant = "retest"
)

// Detector реализует детекторы зон
type Detector struct {
	tickSize              decimal.Decimal
	minGapTicks           int
	displacementWindow    int
	maxRebound            int
	liquidityNeighborhood int
	tolerance             decimal.Decimal
	maxLevels             int
	breakerVariant        BreakerVariant
}

// NewDetector создает детектор зон, подставляя значения по умолчанию
func NewDetector(cfg config.DetectionConfig) *Detector {
	d := &Detector{
		tickSize:              decimal.NewFromFloat(cfg.TickSize),
		minGapTicks:           cfg.MinGapTicks,
		displacementWindow:    cfg.DisplacementWindow,
		maxRebound:            cfg.MaxReboundCandles,
		liquidityNeighborhood: cfg.LiquidityNeighborhood,
		tolerance:             decimal.NewFromFloat(cfg.LiquidityTolerancePct),
		maxLevels:             cfg.MaxLiquidityLevels,
		breakerVariant:        BreakerVariant(cfg.BreakerVariant),
	}

	if !d.tickSize.IsPositive() {
		d.tickSize = decimal.New(1, -2)
	}
	if d.minGapTicks <= 0 {
		d.minGapTicks = 3
	}
	if d.displacementWindow <= 0 {
		d.displacementWindow = 3
	}
	if d.maxRebound <= 0 {
		d.maxRebound = 3
	}
	if d.liquidityNeighborhood <= 0 {
		d.liquidityNeighborhood = 10
	}
	if !d.tolerance.IsPositive() {
		d.tolerance = decimal.New(1, -3)
	}
	if d.maxLevels <= 0 {
		d.maxLevels = 10
	}
	if d.breakerVariant != BreakerRetest {
		d.breakerVariant = BreakerReversal
	}
	return d
}

// Variant активный вариант брейкера
func (d *Detector) Variant() BreakerVariant {
	return d.breakerVariant
}

// TickSize шаг цены, к которому округляются границы FVG
func (d *Detector) TickSize() decimal.Decimal {
	return d.tickSize
}

// roundToTick округляет цену к ближайшему кратному шагу цены
func (d *Detector) roundToTick(price decimal.Decimal) decimal.Decimal {
	return price.Div(d.tickSize).Round(0).Mul(d.tickSize)
}

// relDiff относительная разница |a-b| / |ref|
func relDiff(a, b, ref decimal.Decimal) decimal.Decimal {
	den := ref.Abs()
	if den.LessThan(epsilon) {
		den = epsilon
	}
	return a.Sub(b).Abs().Div(den)
}
