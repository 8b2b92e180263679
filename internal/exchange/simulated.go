package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
)

// ErrNoPosition нет позиции для закрытия или сокращения
var ErrNoPosition = errors.New("нет открытой позиции")

// Trade реализованный результат симулятора
type Trade struct {
	Symbol    string
	Direction models.Direction
	Entry     decimal.Decimal
	Exit      decimal.Decimal
	Quantity  decimal.Decimal
	PnL       decimal.Decimal
	Fee       decimal.Decimal
	Reason    string
	Time      time.Time
}

// SimulatedExecutor бумажное исполнение: одна позиция на символ,
// проскальзывание на рыночных заявках, комиссии taker/maker
type SimulatedExecutor struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	slippage  decimal.Decimal
	takerFee  decimal.Decimal
	makerFee  decimal.Decimal
	leverage  decimal.Decimal
	positions map[string]*OpenPosition
	marks     map[string]decimal.Decimal
	trades    []Trade
	now       func() time.Time
}

// NewSimulatedExecutor создает симулятор исполнения
func NewSimulatedExecutor(cfg config.ExecutionConfig, leverage int) *SimulatedExecutor {
	if leverage <= 0 {
		leverage = 1
	}
	return &SimulatedExecutor{
		balance:   decimal.NewFromFloat(cfg.Balance),
		slippage:  decimal.NewFromFloat(cfg.SlippagePct),
		takerFee:  decimal.NewFromFloat(cfg.TakerFee),
		makerFee:  decimal.NewFromFloat(cfg.MakerFee),
		leverage:  decimal.NewFromInt(int64(leverage)),
		positions: make(map[string]*OpenPosition),
		marks:     make(map[string]decimal.Decimal),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder исполняет заявку. Рыночная заявка исполняется по опорной
// цене (Price заявки или последней марк-цене) с проскальзыванием.
func (s *SimulatedExecutor) PlaceOrder(_ context.Context, req OrderRequest) (Fill, error) {
	if !req.Quantity.IsPositive() {
		return Fill{}, fmt.Errorf("некорректное количество %s", req.Quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ref := req.Price
	if ref.IsZero() {
		ref = s.marks[req.Symbol]
	}
	if !ref.IsPositive() {
		return Fill{}, fmt.Errorf("%s: %w", req.Symbol, ErrNoPrice)
	}

	price, feeRate := ref, s.makerFee
	if req.Type != OrderLimit {
		feeRate = s.takerFee
		slip := ref.Mul(s.slippage)
		if req.Side == SideBuy {
			price = ref.Add(slip)
		} else {
			price = ref.Sub(slip)
		}
	}

	if _, ok := s.marks[req.Symbol]; !ok {
		s.marks[req.Symbol] = ref
	}

	if req.ReduceOnly {
		return s.reduce(req, price, feeRate)
	}

	fee := price.Mul(req.Quantity).Mul(feeRate)
	s.balance = s.balance.Sub(fee)

	if old, ok := s.positions[req.Symbol]; ok {
		logger.Warn("Позиция симулятора заменена новой заявкой",
			zap.String("symbol", req.Symbol),
			zap.String("direction", string(old.Direction)))
	}

	dir := models.Long
	if req.Side == SideSell {
		dir = models.Short
	}
	s.positions[req.Symbol] = &OpenPosition{
		Symbol:     req.Symbol,
		Direction:  dir,
		Entry:      price,
		Quantity:   req.Quantity,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		MarkPrice:  s.marks[req.Symbol],
	}

	return Fill{
		OrderID:  uuid.NewString(),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    price,
		Quantity: req.Quantity,
		Fee:      fee,
		Time:     s.now(),
	}, nil
}

// reduce частично или полностью закрывает позицию встречной заявкой
func (s *SimulatedExecutor) reduce(req OrderRequest, price, feeRate decimal.Decimal) (Fill, error) {
	pos, ok := s.positions[req.Symbol]
	if !ok || SideFor(pos.Direction) == req.Side {
		return Fill{}, fmt.Errorf("%s: %w", req.Symbol, ErrNoPosition)
	}

	qty := decimal.Min(req.Quantity, pos.Quantity)
	trade := s.realize(pos, price, qty, feeRate, "reduce")

	pos.Quantity = pos.Quantity.Sub(qty)
	if !pos.Quantity.IsPositive() {
		delete(s.positions, req.Symbol)
	}

	return Fill{
		OrderID:  uuid.NewString(),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    price,
		Quantity: qty,
		Fee:      trade.Fee,
		Time:     trade.Time,
	}, nil
}

// OnMarkPrice обновляет марк-цену и закрывает позицию по TP или SL
func (s *SimulatedExecutor) OnMarkPrice(symbol string, price decimal.Decimal) (Trade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marks[symbol] = price
	pos, ok := s.positions[symbol]
	if !ok {
		return Trade{}, false
	}
	pos.MarkPrice = price

	reason := ""
	switch pos.Direction {
	case models.Long:
		if !pos.TakeProfit.IsZero() && price.GreaterThanOrEqual(pos.TakeProfit) {
			reason = "take_profit"
		} else if !pos.StopLoss.IsZero() && price.LessThanOrEqual(pos.StopLoss) {
			reason = "stop_loss"
		}
	case models.Short:
		if !pos.TakeProfit.IsZero() && price.LessThanOrEqual(pos.TakeProfit) {
			reason = "take_profit"
		} else if !pos.StopLoss.IsZero() && price.GreaterThanOrEqual(pos.StopLoss) {
			reason = "stop_loss"
		}
	}
	if reason == "" {
		return Trade{}, false
	}

	trade := s.realize(pos, price, pos.Quantity, s.takerFee, reason)
	delete(s.positions, symbol)
	return trade, true
}

// realize начисляет PnL за qty по цене exit за вычетом комиссии.
// diff/entry * leverage * qty * entry сокращается до diff * leverage * qty.
func (s *SimulatedExecutor) realize(pos *OpenPosition, exit, qty, feeRate decimal.Decimal, reason string) Trade {
	diff := exit.Sub(pos.Entry)
	if pos.Direction == models.Short {
		diff = diff.Neg()
	}
	pnl := diff.Mul(s.leverage).Mul(qty)
	fee := exit.Mul(qty).Mul(feeRate)
	s.balance = s.balance.Add(pnl).Sub(fee)

	trade := Trade{
		Symbol:    pos.Symbol,
		Direction: pos.Direction,
		Entry:     pos.Entry,
		Exit:      exit,
		Quantity:  qty,
		PnL:       pnl,
		Fee:       fee,
		Reason:    reason,
		Time:      s.now(),
	}
	s.trades = append(s.trades, trade)
	return trade
}

// GetOpenPosition возвращает копию позиции или nil
func (s *SimulatedExecutor) GetOpenPosition(_ context.Context, symbol string) (*OpenPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

// UpdateStopLoss переставляет стоп позиции
func (s *SimulatedExecutor) UpdateStopLoss(_ context.Context, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}
	pos.StopLoss = price
	return nil
}

// ClosePosition закрывает позицию по последней марк-цене
func (s *SimulatedExecutor) ClosePosition(_ context.Context, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return false, nil
	}
	exit := s.marks[symbol]
	if !exit.IsPositive() {
		exit = pos.Entry
	}
	s.realize(pos, exit, pos.Quantity, s.takerFee, "close")
	delete(s.positions, symbol)
	return true, nil
}

// Balance текущий баланс
func (s *SimulatedExecutor) Balance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// Trades копия журнала реализованных сделок
func (s *SimulatedExecutor) Trades() []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Trade(nil), s.trades...)
}
