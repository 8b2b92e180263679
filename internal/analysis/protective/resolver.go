// Package protective подбирает защитный уровень и стоп-лосс для позиции
// каскадом кандидатов с явными приоритетами.
package protective

import (
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/models"
)

// Source происхождение выбранного уровня
type Source string

const (
	SourceZone     Source = "zone"
	SourceHTF      Source = "htf_extreme"
	SourceLTFSwing Source = "ltf_swing"
	SourceATR      Source = "atr"
	SourceCarried  Source = "carried"
	SourceFallback Source = "fallback"
)

// Приоритеты кандидатов: меньше - важнее
const (
	PriorityZone     = 1
	PriorityHTF      = 2
	PriorityLTFSwing = 3
	PriorityATR      = 4
	PriorityCarried  = 5
	PriorityFallback = 6
)

// Request входные данные для подбора уровня
type Request struct {
	Direction models.Direction
	Entry     decimal.Decimal
	// Trigger зона, обосновавшая вход
	Trigger *models.Zone
	HTF     []models.Candle
	LTF     []models.Candle
	// Carried ранее найденный защитный уровень (только для стопа)
	Carried *decimal.Decimal
}

// Resolution выбранный уровень
type Resolution struct {
	Price    decimal.Decimal
	Priority int
	Source   Source
	Reason   string
}

type candidate struct {
	priority int
	source   Source
	price    decimal.Decimal
}

// Resolver реализует каскады защитного уровня и стоп-лосса
type Resolver struct {
	minDistance   decimal.Decimal
	fallback      decimal.Decimal
	htfLookback   int
	swingSpan     int
	swingLookback int
	atrPeriod     int
	atrMultiplier decimal.Decimal
}

// NewResolver создает резолвер с параметрами риска
func NewResolver(cfg config.RiskConfig) *Resolver {
	r := &Resolver{
		minDistance:   decimal.NewFromFloat(cfg.MinDistancePct),
		fallback:      decimal.NewFromFloat(cfg.FallbackPct),
		htfLookback:   cfg.HTFLookback,
		swingSpan:     cfg.SwingSpan,
		swingLookback: cfg.SwingLookback,
		atrPeriod:     cfg.ATRPeriod,
		atrMultiplier: decimal.NewFromFloat(cfg.ATRMultiplier),
	}

	if !r.minDistance.IsPositive() {
		r.minDistance = decimal.NewFromFloat(0.003)
	}
	if !r.fallback.IsPositive() {
		r.fallback = decimal.NewFromFloat(0.005)
	}
	// Запасной уровень обязан проходить проверку расстояния
	r.fallback = decimal.Max(r.fallback, r.minDistance)
	if r.htfLookback <= 0 {
		r.htfLookback = 50
	}
	if r.swingSpan <= 0 {
		r.swingSpan = 2
	}
	if r.swingLookback <= 0 {
		r.swingLookback = 30
	}
	if r.atrPeriod <= 0 {
		r.atrPeriod = 14
	}
	if !r.atrMultiplier.IsPositive() {
		r.atrMultiplier = decimal.NewFromInt(2)
	}
	return r
}

// Protective уровень инвалидации идеи сделки: зона, HTF, LTF, запасной
func (r *Resolver) Protective(req Request) (res Resolution) {
	defer r.recoverTo(req, &res)

	if reason, ok := r.validate(req); !ok {
		return r.fallbackResolution(req, reason)
	}

	return r.pick(req, []func(Request) (candidate, string){
		r.zoneCandidate,
		r.htfCandidate,
		r.ltfSwingCandidate,
	})
}

// StopLoss стоп-лосс: каскад Protective, затем ATR и перенесенный уровень
func (r *Resolver) StopLoss(req Request) (res Resolution) {
	defer r.recoverTo(req, &res)

	if reason, ok := r.validate(req); !ok {
		return r.fallbackResolution(req, reason)
	}

	return r.pick(req, []func(Request) (candidate, string){
		r.zoneCandidate,
		r.htfCandidate,
		r.ltfSwingCandidate,
		r.atrCandidate,
		r.carriedCandidate,
	})
}

// Fallback фиксированный уровень entry ∓ fallback_pct
func (r *Resolver) Fallback(dir models.Direction, entry decimal.Decimal) decimal.Decimal {
	offset := entry.Mul(r.fallback)
	if dir == models.Short {
		return entry.Add(offset)
	}
	return entry.Sub(offset)
}

// pick возвращает первый по приоритету кандидат, прошедший проверку расстояния
func (r *Resolver) pick(req Request, cascade []func(Request) (candidate, string)) Resolution {
	var skipped []string
	for _, next := range cascade {
		c, reason := next(req)
		if reason != "" {
			skipped = append(skipped, reason)
			continue
		}
		if !r.valid(req, c.price) {
			skipped = append(skipped, fmt.Sprintf("%s %s: ближе %s от входа", c.source, c.price, r.minDistance))
			continue
		}
		return Resolution{
			Price:    c.price,
			Priority: c.priority,
			Source:   c.source,
			Reason:   strings.Join(skipped, "; "),
		}
	}
	return r.fallbackResolution(req, strings.Join(skipped, "; "))
}

// valid уровень строго с нужной стороны и не ближе minDistance от входа
func (r *Resolver) valid(req Request, price decimal.Decimal) bool {
	if !correctSide(req.Direction, req.Entry, price) {
		return false
	}
	return req.Entry.Sub(price).Abs().GreaterThanOrEqual(req.Entry.Mul(r.minDistance))
}

func (r *Resolver) validate(req Request) (string, bool) {
	if req.Direction != models.Long && req.Direction != models.Short {
		return fmt.Sprintf("неизвестное направление %q", req.Direction), false
	}
	if !req.Entry.IsPositive() {
		return fmt.Sprintf("некорректная цена входа %s", req.Entry), false
	}
	return "", true
}

func (r *Resolver) fallbackResolution(req Request, reason string) Resolution {
	dir := req.Direction
	if dir != models.Short {
		dir = models.Long
	}
	return Resolution{
		Price:    r.Fallback(dir, req.Entry),
		Priority: PriorityFallback,
		Source:   SourceFallback,
		Reason:   reason,
	}
}

func (r *Resolver) recoverTo(req Request, res *Resolution) {
	if rec := recover(); rec != nil {
		*res = r.fallbackResolution(req, fmt.Sprintf("ошибка вычисления: %v", rec))
	}
}

func (r *Resolver) zoneCandidate(req Request) (candidate, string) {
	if req.Trigger == nil {
		return candidate{}, "нет зоны входа"
	}

	edge := req.Trigger.Low
	if req.Direction == models.Short {
		edge = req.Trigger.High
	}
	if !correctSide(req.Direction, req.Entry, edge) {
		return candidate{}, fmt.Sprintf("граница зоны %s не с той стороны входа", edge)
	}
	return candidate{priority: PriorityZone, source: SourceZone, price: edge}, ""
}

func (r *Resolver) htfCandidate(req Request) (candidate, string) {
	window := tail(req.HTF, r.htfLookback)
	if len(window) == 0 {
		return candidate{}, "нет данных HTF"
	}

	// последний экстремум с нужной стороны; фрактал из трех свечей тоже
	// лежит с нужной стороны, поэтому отдельно его не ищем
	for i := len(window) - 1; i >= 0; i-- {
		level := extreme(window[i], req.Direction)
		if correctSide(req.Direction, req.Entry, level) {
			return candidate{priority: PriorityHTF, source: SourceHTF, price: level}, ""
		}
	}
	return candidate{}, "на HTF нет экстремума с нужной стороны"
}

func (r *Resolver) ltfSwingCandidate(req Request) (candidate, string) {
	window := tail(req.LTF, r.swingLookback)
	if level, ok := swing(window, req.Direction, req.Entry, r.swingSpan); ok {
		return candidate{priority: PriorityLTFSwing, source: SourceLTFSwing, price: level}, ""
	}
	return candidate{}, "на LTF нет фрактала"
}

func (r *Resolver) atrCandidate(req Request) (candidate, string) {
	n := len(req.LTF)
	if n <= r.atrPeriod {
		return candidate{}, fmt.Sprintf("мало свечей для ATR(%d): %d", r.atrPeriod, n)
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range req.LTF {
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
		closes[i] = c.Close.InexactFloat64()
	}

	atr := talib.Atr(highs, lows, closes, r.atrPeriod)
	raw := atr[len(atr)-1]
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return candidate{}, "ATR не определен"
	}
	last := decimal.NewFromFloat(raw)
	if !last.IsPositive() {
		return candidate{}, "нулевой ATR"
	}

	offset := last.Mul(r.atrMultiplier)
	price := req.Entry.Sub(offset)
	if req.Direction == models.Short {
		price = req.Entry.Add(offset)
	}
	return candidate{priority: PriorityATR, source: SourceATR, price: price}, ""
}

func (r *Resolver) carriedCandidate(req Request) (candidate, string) {
	if req.Carried == nil {
		return candidate{}, "нет перенесенного уровня"
	}
	return candidate{priority: PriorityCarried, source: SourceCarried, price: *req.Carried}, ""
}

// swing последний фрактал с размахом span, лежащий с нужной стороны входа:
// минимум ниже span соседей слева и справа (лонг), максимум выше (шорт)
func swing(candles []models.Candle, dir models.Direction, entry decimal.Decimal, span int) (decimal.Decimal, bool) {
	for i := len(candles) - 1 - span; i >= span; i-- {
		level := extreme(candles[i], dir)
		if !correctSide(dir, entry, level) {
			continue
		}

		isSwing := true
		for k := 1; k <= span && isSwing; k++ {
			left, right := extreme(candles[i-k], dir), extreme(candles[i+k], dir)
			if dir == models.Long {
				isSwing = level.LessThan(left) && level.LessThan(right)
			} else {
				isSwing = level.GreaterThan(left) && level.GreaterThan(right)
			}
		}
		if isSwing {
			return level, true
		}
	}
	return decimal.Zero, false
}

// extreme минимум свечи для лонга, максимум для шорта
func extreme(c models.Candle, dir models.Direction) decimal.Decimal {
	if dir == models.Short {
		return c.High
	}
	return c.Low
}

func correctSide(dir models.Direction, entry, level decimal.Decimal) bool {
	if dir == models.Short {
		return level.GreaterThan(entry)
	}
	return level.LessThan(entry)
}

func tail(candles []models.Candle, n int) []models.Candle {
	if n > 0 && len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}
