// Package entry принимает решение о входе: структура HTF, фильтр
// premium/discount, затем FVG, ордерблоки и брейкеры младшего таймфрейма.
package entry

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/analysis/premium"
	"github.com/skalibog/smcbot/internal/analysis/structure"
	"github.com/skalibog/smcbot/internal/analysis/zones"
	"github.com/skalibog/smcbot/pkg/models"
)

// Шаги процедуры решения
const (
	StepStructure = "structure"
	StepPremium   = "premium_discount"
	StepFVG       = "fair_value_gap"
	StepOB        = "order_block"
	StepBB        = "breaker_block"
	StepNoZone    = "no_zone"
	StepData      = "data"
)

// Engine детерминированная процедура решения о входе
type Engine struct {
	detector *zones.Detector
	filter   *premium.Filter
}

// NewEngine создает движок решений
func NewEngine(detector *zones.Detector, filter *premium.Filter) *Engine {
	return &Engine{
		detector: detector,
		filter:   filter,
	}
}

// Decide выполняет шаги по порядку и останавливается на первом
// провалившемся. Нулевая price означает закрытие последней свечи ltf.
func (e *Engine) Decide(symbol string, htf, ltf []models.Candle, price decimal.Decimal) (dec models.Decision) {
	dec = models.Decision{Symbol: symbol, Price: price}

	defer func() {
		if rec := recover(); rec != nil {
			dec.Accepted = false
			dec.Step = StepData
			dec.Reason = fmt.Sprintf("ошибка вычисления: %v", rec)
		}
	}()

	if len(ltf) == 0 {
		return reject(dec, StepData, "нет свечей младшего таймфрейма")
	}
	last := ltf[len(ltf)-1]
	dec.Time = last.Time
	if price.IsZero() {
		price = last.Close
		dec.Price = price
	}

	// 1. Структура старшего таймфрейма
	label, _, ok := structure.Latest(htf)
	if !ok {
		return reject(dec, StepStructure, "нет слома структуры на HTF")
	}
	dir, _ := label.Direction()
	dec.Direction = dir

	// 2. Premium/discount
	if res := e.filter.Check(htf, price, dir); !res.Pass {
		return reject(dec, StepPremium, res.Reason)
	}

	want := models.ZoneTypeFor(dir)

	// 3. Последний FVG нужного типа
	gaps := e.detector.FairValueGaps(ltf)
	for i := len(gaps) - 1; i >= 0; i-- {
		if gaps[i].Type != want {
			continue
		}
		if gaps[i].Contains(price) {
			return accept(dec, StepFVG, gaps[i])
		}
		break
	}

	// 4. Ордерблоки от новых к старым
	obs := e.detector.OrderBlocks(ltf)
	if z, ok := latestContaining(obs, want, price); ok {
		return accept(dec, StepOB, z)
	}

	// 5. Брейкеры из того же набора ордерблоков
	bbs := e.detector.BreakerBlocks(ltf, obs)
	if z, ok := latestContaining(bbs, want, price); ok {
		return accept(dec, StepBB, z)
	}

	return reject(dec, StepNoZone, fmt.Sprintf("цена %s вне зон %s (%s)", price, want, label))
}

func latestContaining(zs []models.Zone, want models.ZoneType, price decimal.Decimal) (models.Zone, bool) {
	for i := len(zs) - 1; i >= 0; i-- {
		if zs[i].Type == want && zs[i].Contains(price) {
			return zs[i], true
		}
	}
	return models.Zone{}, false
}

func accept(dec models.Decision, step string, z models.Zone) models.Decision {
	dec.Accepted = true
	dec.Step = step
	dec.Trigger = &z
	return dec
}

func reject(dec models.Decision, step, reason string) models.Decision {
	dec.Accepted = false
	dec.Step = step
	dec.Reason = reason
	return dec
}
