// Package premium отсекает входы в верхней (premium) или нижней (discount)
// части диапазона старшего таймфрейма.
package premium

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/models"
)

// Policy стратегия разбиения диапазона
type Policy string

const (
	// PolicyMid лонг только ниже середины, шорт только выше
	PolicyMid Policy = "mid"
	// PolicyAsymmetric лонг только ниже high - k*range, шорт только выше low + k*range
	PolicyAsymmetric Policy = "asymmetric"
)

var two = decimal.NewFromInt(2)

// Result результат проверки вместе с рассчитанными уровнями
type Result struct {
	Pass     bool
	High     decimal.Decimal
	Low      decimal.Decimal
	Mid      decimal.Decimal
	Premium  decimal.Decimal
	Discount decimal.Decimal
	Reason   string
}

// Filter фильтр premium/discount
type Filter struct {
	policy Policy
	window int
	factor decimal.Decimal
}

// NewFilter создает фильтр. Неизвестная политика трактуется как mid.
func NewFilter(cfg config.FilterConfig) *Filter {
	f := &Filter{
		policy: Policy(cfg.Policy),
		window: cfg.Window,
		factor: decimal.NewFromFloat(cfg.ZoneFactor),
	}
	if f.policy != PolicyAsymmetric {
		f.policy = PolicyMid
	}
	if !f.factor.IsPositive() {
		f.factor = decimal.NewFromFloat(0.3)
	}
	return f
}

// Policy активная политика
func (f *Filter) Policy() Policy {
	return f.policy
}

// Check проверяет цену относительно диапазона окна htf
func (f *Filter) Check(htf []models.Candle, price decimal.Decimal, dir models.Direction) Result {
	if len(htf) == 0 {
		return Result{Reason: "нет данных старшего таймфрейма"}
	}

	candles := htf
	if f.window > 0 && len(candles) > f.window {
		candles = candles[len(candles)-f.window:]
	}

	high, low := candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		high = decimal.Max(high, c.High)
		low = decimal.Min(low, c.Low)
	}

	res := Result{
		High: high,
		Low:  low,
		Mid:  high.Add(low).Div(two),
	}

	if f.policy == PolicyAsymmetric {
		rng := high.Sub(low).Mul(f.factor)
		res.Premium = high.Sub(rng)
		res.Discount = low.Add(rng)
	} else {
		res.Premium = res.Mid
		res.Discount = res.Mid
	}

	switch dir {
	case models.Long:
		if price.GreaterThan(res.Premium) {
			res.Reason = fmt.Sprintf("лонг в premium: цена %s > %s", price, res.Premium)
			return res
		}
	case models.Short:
		if price.LessThan(res.Discount) {
			res.Reason = fmt.Sprintf("шорт в discount: цена %s < %s", price, res.Discount)
			return res
		}
	default:
		res.Reason = fmt.Sprintf("неизвестное направление %q", dir)
		return res
	}

	res.Pass = true
	return res
}
