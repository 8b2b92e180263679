package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/analysis/entry"
	"github.com/skalibog/smcbot/internal/analysis/protective"
	"github.com/skalibog/smcbot/internal/candles"
	"github.com/skalibog/smcbot/internal/exchange"
	"github.com/skalibog/smcbot/internal/metrics"
	"github.com/skalibog/smcbot/internal/position"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	queueSize       = 256
	defaultHistory  = 200
	defaultInterval = time.Minute
)

var (
	// ErrNoPosition по символу нет открытой позиции
	ErrNoPosition = errors.New("нет открытой позиции")
	// ErrBusy очередь символа не освободилась до отмены контекста
	ErrBusy = errors.New("очередь символа занята")
)

// MarkPriceFeed получает внутрибаровые цены (симулятор исполнения)
type MarkPriceFeed interface {
	OnMarkPrice(symbol string, price decimal.Decimal) (exchange.Trade, bool)
}

// EventNotifier рассылает уведомления о событиях позиций
type EventNotifier interface {
	NotifyEvent(ev models.Event)
}

// Recorder сохраняет решения и события
type Recorder interface {
	SaveDecision(ctx context.Context, decision models.Decision) error
	SaveEvent(ctx context.Context, event models.Event) error
}

// PositionMirror внешняя копия открытых позиций
type PositionMirror interface {
	Apply(ctx context.Context, event models.Event) error
}

// Config параметры движка
type Config struct {
	Symbols     []string
	HTFInterval string
	LTFInterval string
	Quantity    decimal.Decimal
	RewardRatio decimal.Decimal
	// EvaluationInterval период оценки входов
	EvaluationInterval time.Duration
	// History сколько последних решений хранить
	History int
}

// Deps зависимости движка. Marks, Notifier, Recorder, Mirror и Metrics
// необязательны.
type Deps struct {
	Store     *candles.Store
	Decider   *entry.Engine
	Resolver  *protective.Resolver
	Positions *position.Manager
	Port      exchange.ExecutionPort
	Marks     MarkPriceFeed
	Notifier  EventNotifier
	Recorder  Recorder
	Mirror    PositionMirror
	Metrics   *metrics.Metrics
}

type taskKind int

const (
	taskPrice taskKind = iota
	taskEvaluate
	taskClose
	taskAdopt
)

type task struct {
	kind     taskKind
	price    decimal.Decimal
	quantity decimal.Decimal
}

// symbolState принадлежит воркеру символа
type symbolState struct {
	symbol   string
	quantity decimal.Decimal
	trigger  *models.Zone
}

// Engine связывает решения о входе, расчет стопа, машину состояний
// позиций и исполнение. Каждый символ обрабатывается своим воркером,
// задачи символа выполняются последовательно.
type Engine struct {
	cfg  Config
	deps Deps

	queues map[string]chan task
	prices sync.Map // symbol -> decimal.Decimal

	mu        sync.RWMutex
	decisions []models.Decision
}

// NewEngine создает движок
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.EvaluationInterval <= 0 {
		cfg.EvaluationInterval = defaultInterval
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}

	queues := make(map[string]chan task, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		queues[symbol] = make(chan task, queueSize)
	}

	return &Engine{
		cfg:    cfg,
		deps:   deps,
		queues: queues,
	}
}

// Run запускает воркеры символов и цикл оценки. Возвращает nil при
// отмене контекста.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, symbol := range e.cfg.Symbols {
		queue := e.queues[symbol]
		g.Go(func() error {
			e.worker(gctx, symbol, queue)
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(e.cfg.EvaluationInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				for _, symbol := range e.cfg.Symbols {
					e.enqueue(symbol, task{kind: taskEvaluate})
				}
			}
		}
	})

	logger.Info("Движок запущен",
		zap.Strings("symbols", e.cfg.Symbols),
		zap.Duration("interval", e.cfg.EvaluationInterval))
	return g.Wait()
}

// OnCandle реализует exchange.BarHandler: закрытая LTF свеча обновляет
// позицию по цене закрытия
func (e *Engine) OnCandle(ev models.BarEvent) {
	if ev.Timeframe != e.cfg.LTFInterval {
		return
	}
	e.enqueue(ev.Symbol, task{kind: taskPrice, price: ev.Candle.Close})
}

// OnPrice реализует exchange.BarHandler
func (e *Engine) OnPrice(symbol string, price decimal.Decimal) {
	e.prices.Store(symbol, price)
	e.enqueue(symbol, task{kind: taskPrice, price: price})
}

// Evaluate ставит оценку входа по символу в очередь
func (e *Engine) Evaluate(symbol string) bool {
	return e.enqueue(symbol, task{kind: taskEvaluate})
}

// ClosePosition ставит ручное закрытие позиции в очередь. В отличие от
// ценовых задач закрытие не отбрасывается: при полной очереди ждет места
// до отмены ctx и тогда возвращает ErrBusy.
func (e *Engine) ClosePosition(ctx context.Context, symbol string) error {
	queue, ok := e.queues[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}
	if _, open := e.deps.Positions.Get(symbol); !open {
		return fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}

	select {
	case queue <- task{kind: taskClose}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %w", symbol, ErrBusy, ctx.Err())
	}
}

// Positions открытые позиции
func (e *Engine) Positions() []models.Position {
	return e.deps.Positions.Positions()
}

// LastPrice последняя известная цена символа
func (e *Engine) LastPrice(symbol string) (decimal.Decimal, bool) {
	v, ok := e.prices.Load(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return v.(decimal.Decimal), true
}

// Decisions возвращает последние решения, новые первыми. Пустой symbol
// означает все символы.
func (e *Engine) Decisions(symbol string, limit int) []models.Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []models.Decision
	for i := len(e.decisions) - 1; i >= 0; i-- {
		d := e.decisions[i]
		if symbol != "" && d.Symbol != symbol {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// enqueue не блокирует: при переполненной очереди задача отбрасывается
func (e *Engine) enqueue(symbol string, t task) bool {
	queue, ok := e.queues[symbol]
	if !ok {
		return false
	}
	select {
	case queue <- t:
		return true
	default:
		logger.Debug("Очередь символа переполнена, задача отброшена",
			zap.String("symbol", symbol),
			zap.Int("kind", int(t.kind)))
		return false
	}
}

func (e *Engine) worker(ctx context.Context, symbol string, queue <-chan task) {
	st := &symbolState{symbol: symbol}
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-queue:
			e.process(ctx, st, t)
		}
	}
}

func (e *Engine) process(ctx context.Context, st *symbolState, t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Паника при обработке задачи",
				zap.String("symbol", st.symbol),
				zap.Any("panic", r))
		}
	}()

	switch t.kind {
	case taskPrice:
		e.onPrice(ctx, st, t.price)
	case taskEvaluate:
		start := time.Now()
		e.evaluate(ctx, st)
		if e.deps.Metrics != nil {
			e.deps.Metrics.ObserveEvaluation(time.Since(start).Seconds())
		}
	case taskClose:
		e.closeManual(ctx, st)
	case taskAdopt:
		st.quantity = t.quantity
	}
}

func (e *Engine) onPrice(ctx context.Context, st *symbolState, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	if e.deps.Marks != nil {
		if trade, ok := e.deps.Marks.OnMarkPrice(st.symbol, price); ok {
			logger.Info("Симулятор закрыл позицию",
				zap.String("symbol", trade.Symbol),
				zap.String("reason", trade.Reason),
				zap.Stringer("exit", trade.Exit),
				zap.Stringer("pnl", trade.PnL))
		}
	}

	ltf := e.deps.Store.Snapshot(st.symbol, e.cfg.LTFInterval)
	for _, ev := range e.deps.Positions.UpdatePrice(st.symbol, price, ltf) {
		e.handleEvent(ctx, st, ev)
	}
}

func (e *Engine) evaluate(ctx context.Context, st *symbolState) {
	if _, open := e.deps.Positions.Get(st.symbol); open {
		return
	}

	htf := e.deps.Store.Snapshot(st.symbol, e.cfg.HTFInterval)
	ltf := e.deps.Store.Snapshot(st.symbol, e.cfg.LTFInterval)
	price, _ := e.LastPrice(st.symbol)

	dec := e.deps.Decider.Decide(st.symbol, htf, ltf, price)
	e.recordDecision(ctx, dec)
	if !dec.Accepted {
		logger.Debug("Вход отклонен",
			zap.String("symbol", st.symbol),
			zap.String("step", dec.Step),
			zap.String("reason", dec.Reason))
		return
	}

	sl := e.deps.Resolver.StopLoss(protective.Request{
		Direction: dec.Direction,
		Entry:     dec.Price,
		Trigger:   dec.Trigger,
		HTF:       htf,
		LTF:       ltf,
	})
	tp := TakeProfit(dec.Direction, dec.Price, sl.Price, e.cfg.RewardRatio)

	ev, err := e.deps.Positions.Enter(st.symbol, dec.Direction, dec.Price, sl.Price, tp)
	if err != nil {
		logger.Warn("Не удалось открыть позицию",
			zap.String("symbol", st.symbol),
			zap.Error(err))
		return
	}

	logger.Info("Открыта позиция",
		zap.String("symbol", st.symbol),
		zap.String("direction", string(dec.Direction)),
		zap.String("zone", dec.Step),
		zap.Stringer("entry", dec.Price),
		zap.Stringer("sl", sl.Price),
		zap.String("sl_source", string(sl.Source)),
		zap.Stringer("tp", tp))

	st.trigger = dec.Trigger
	e.handleEvent(ctx, st, ev)
}

func (e *Engine) closeManual(ctx context.Context, st *symbolState) {
	price, ok := e.LastPrice(st.symbol)
	if !ok {
		if last, found := e.deps.Store.Last(st.symbol, e.cfg.LTFInterval); found {
			price = last.Close
		}
	}
	if ev, closed := e.deps.Positions.Close(st.symbol, price); closed {
		e.handleEvent(ctx, st, ev)
	}
}

// handleEvent исполняет намерение события через порт и рассылает его.
// Ошибки внешних сервисов логируются, состояние позиции не откатывается.
func (e *Engine) handleEvent(ctx context.Context, st *symbolState, ev models.Event) {
	switch ev.Type {
	case models.EventEntry:
		e.openOrder(ctx, st, ev)
	case models.EventMSS:
		e.tightenStop(ctx, st, ev)
	case models.EventPartialExit:
		e.partialExit(ctx, st, ev)
	case models.EventClosed:
		if _, err := e.deps.Port.ClosePosition(ctx, ev.Symbol); err != nil {
			e.portFailure("close_position", ev, err)
		}
		st.quantity = decimal.Zero
		st.trigger = nil
	}

	e.publish(ctx, ev)
}

func (e *Engine) openOrder(ctx context.Context, st *symbolState, ev models.Event) {
	fill, err := e.deps.Port.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   ev.Symbol,
		Side:     exchange.SideFor(ev.Position.Direction),
		Type:     exchange.OrderMarket,
		Quantity: e.cfg.Quantity,
		Price:    ev.Price,
		StopLoss: ev.Position.SL,
	})
	if err != nil {
		e.portFailure("place_order", ev, err)
		// позиция в машине состояний остается, частичный выход попробует
		// сократить заявленный объем
		st.quantity = e.cfg.Quantity
		return
	}
	st.quantity = fill.Quantity
}

// tightenStop подтягивает стоп к более близкому из уровня MSS и
// пересчитанного защитного уровня
func (e *Engine) tightenStop(ctx context.Context, st *symbolState, ev models.Event) {
	pos := ev.Position
	res := e.deps.Resolver.Protective(protective.Request{
		Direction: pos.Direction,
		Entry:     pos.Entry,
		Trigger:   st.trigger,
		HTF:       e.deps.Store.Snapshot(ev.Symbol, e.cfg.HTFInterval),
		LTF:       e.deps.Store.Snapshot(ev.Symbol, e.cfg.LTFInterval),
	})

	// запасной отступ не структурный уровень, стоп к нему не тянем
	var candidates []decimal.Decimal
	if res.Source != protective.SourceFallback {
		candidates = append(candidates, res.Price)
	}
	if pos.ProtectiveLevel != nil {
		candidates = append(candidates, *pos.ProtectiveLevel)
	}

	var best decimal.Decimal
	found := false
	for _, c := range candidates {
		if !tighter(pos.Direction, pos.Entry, c, pos.SL) {
			continue
		}
		if !found || tighter(pos.Direction, pos.Entry, c, best) {
			best, found = c, true
		}
	}
	if !found || !e.deps.Positions.SetStopLoss(ev.Symbol, best) {
		return
	}

	logger.Info("Стоп подтянут после MSS",
		zap.String("symbol", ev.Symbol),
		zap.Stringer("sl", best),
		zap.String("source", string(res.Source)))

	if err := e.deps.Port.UpdateStopLoss(ctx, ev.Symbol, best); err != nil {
		e.portFailure("update_stop_loss", ev, err)
	}
}

func (e *Engine) partialExit(ctx context.Context, st *symbolState, ev models.Event) {
	half := st.quantity.Div(decimal.NewFromInt(2))
	if !half.IsPositive() {
		return
	}

	side := exchange.SideFor(ev.Position.Direction.Opposite())
	if _, err := e.deps.Port.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     ev.Symbol,
		Side:       side,
		Type:       exchange.OrderMarket,
		Quantity:   half,
		Price:      ev.Price,
		ReduceOnly: true,
	}); err != nil {
		e.portFailure("partial_exit", ev, err)
		return
	}
	st.quantity = st.quantity.Sub(half)
}

func (e *Engine) publish(ctx context.Context, ev models.Event) {
	if m := e.deps.Metrics; m != nil {
		m.ObserveEvent(ev)
		m.SetOpenPositions(len(e.deps.Positions.Positions()))
	}
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyEvent(ev)
	}
	if e.deps.Recorder != nil {
		if err := e.deps.Recorder.SaveEvent(ctx, ev); err != nil {
			logger.Warn("Не удалось сохранить событие",
				zap.String("symbol", ev.Symbol),
				zap.String("event", string(ev.Type)),
				zap.Error(err))
		}
	}
	if e.deps.Mirror != nil {
		if err := e.deps.Mirror.Apply(ctx, ev); err != nil {
			logger.Warn("Не удалось обновить зеркало позиций",
				zap.String("symbol", ev.Symbol),
				zap.String("event", string(ev.Type)),
				zap.Error(err))
		}
	}
}

func (e *Engine) recordDecision(ctx context.Context, dec models.Decision) {
	e.mu.Lock()
	e.decisions = append(e.decisions, dec)
	if over := len(e.decisions) - e.cfg.History; over > 0 {
		e.decisions = append(e.decisions[:0], e.decisions[over:]...)
	}
	e.mu.Unlock()

	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveDecision(dec)
	}
	if e.deps.Recorder != nil {
		if err := e.deps.Recorder.SaveDecision(ctx, dec); err != nil {
			logger.Warn("Не удалось сохранить решение",
				zap.String("symbol", dec.Symbol),
				zap.Error(err))
		}
	}
}

func (e *Engine) portFailure(operation string, ev models.Event, err error) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.PortError(operation)
	}
	logger.Error("Ошибка порта исполнения",
		zap.String("symbol", ev.Symbol),
		zap.String("event", string(ev.Type)),
		zap.String("operation", operation),
		zap.Error(err))
}

// Reconcile подхватывает позиции, уже открытые на бирже. Отсутствующие
// стоп и тейк восстанавливаются из запасного отступа и reward ratio.
func (e *Engine) Reconcile(ctx context.Context) error {
	for _, symbol := range e.cfg.Symbols {
		open, err := e.deps.Port.GetOpenPosition(ctx, symbol)
		if err != nil {
			return fmt.Errorf("сверка позиции %s: %w", symbol, err)
		}
		if open == nil {
			continue
		}
		if _, exists := e.deps.Positions.Get(symbol); exists {
			continue
		}

		sl := open.StopLoss
		if !stopOnSide(open.Direction, open.Entry, sl) {
			sl = e.deps.Resolver.Fallback(open.Direction, open.Entry)
		}
		tp := open.TakeProfit
		if !stopOnSide(open.Direction.Opposite(), open.Entry, tp) {
			tp = TakeProfit(open.Direction, open.Entry, sl, e.cfg.RewardRatio)
		}

		ev, err := e.deps.Positions.Enter(symbol, open.Direction, open.Entry, sl, tp)
		if err != nil {
			logger.Warn("Позицию с биржи не удалось восстановить",
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		if open.MarkPrice.IsPositive() {
			e.prices.LoadOrStore(symbol, open.MarkPrice)
		}
		// объем позиции принадлежит воркеру символа
		e.enqueue(symbol, task{kind: taskAdopt, quantity: open.Quantity})
		logger.Info("Восстановлена позиция с биржи",
			zap.String("symbol", symbol),
			zap.String("direction", string(open.Direction)),
			zap.Stringer("entry", open.Entry),
			zap.Stringer("quantity", open.Quantity))
		e.publish(ctx, ev)
	}
	return nil
}

// TakeProfit цель на расстоянии ratio рисков от входа
func TakeProfit(dir models.Direction, entryPrice, sl, ratio decimal.Decimal) decimal.Decimal {
	if !ratio.IsPositive() {
		ratio = decimal.NewFromInt(2)
	}
	target := entryPrice.Sub(sl).Abs().Mul(ratio)
	if dir == models.Short {
		return entryPrice.Sub(target)
	}
	return entryPrice.Add(target)
}

// stopOnSide уровень задан и лежит на защитной стороне от входа
func stopOnSide(dir models.Direction, entryPrice, level decimal.Decimal) bool {
	if !level.IsPositive() {
		return false
	}
	if dir == models.Long {
		return level.LessThan(entryPrice)
	}
	return level.GreaterThan(entryPrice)
}

// tighter сообщает, что candidate ближе к входу, чем current, оставаясь
// на защитной стороне
func tighter(dir models.Direction, entryPrice, candidate, current decimal.Decimal) bool {
	if !stopOnSide(dir, entryPrice, candidate) {
		return false
	}
	if dir == models.Long {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}
