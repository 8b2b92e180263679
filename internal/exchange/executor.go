package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
)

// BinanceExecutor исполнение заявок на Binance Futures
type BinanceExecutor struct {
	futures  *futures.Client
	takerFee decimal.Decimal
	leverage int
}

// NewBinanceExecutor создает исполнитель для реальной торговли
func NewBinanceExecutor(bcfg config.BinanceConfig, ecfg config.ExecutionConfig, leverage int) *BinanceExecutor {
	return &BinanceExecutor{
		futures:  newFuturesClient(bcfg),
		takerFee: decimal.NewFromFloat(ecfg.TakerFee),
		leverage: leverage,
	}
}

// SetupLeverage выставляет плечо для символов
func (e *BinanceExecutor) SetupLeverage(ctx context.Context, symbols []string) error {
	if e.leverage <= 0 {
		return nil
	}
	for _, symbol := range symbols {
		if _, err := e.futures.NewChangeLeverageService().
			Symbol(symbol).
			Leverage(e.leverage).
			Do(ctx); err != nil {
			return fmt.Errorf("ошибка установки плеча %s: %w", symbol, err)
		}
	}
	return nil
}

// PlaceOrder выставляет заявку, а для открывающей - защитные стоп и тейк
func (e *BinanceExecutor) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	svc := e.futures.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Quantity(req.Quantity.String())

	if req.Type == OrderLimit {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(req.Price.String())
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return Fill{}, fmt.Errorf("ошибка размещения заявки %s: %w", req.Symbol, err)
	}

	fill := Fill{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Time:     time.UnixMilli(resp.UpdateTime).UTC(),
	}
	if p, err := decimal.NewFromString(resp.AvgPrice); err == nil {
		fill.Price = p
	}
	if q, err := decimal.NewFromString(resp.ExecutedQuantity); err == nil && q.IsPositive() {
		fill.Quantity = q
	}
	fill.Fee = fill.Price.Mul(fill.Quantity).Mul(e.takerFee)

	if req.ReduceOnly {
		return fill, nil
	}

	closeSide := SideSell
	if req.Side == SideSell {
		closeSide = SideBuy
	}
	if !req.StopLoss.IsZero() {
		if err := e.placeTrigger(ctx, req.Symbol, closeSide, futures.OrderTypeStopMarket, req.StopLoss); err != nil {
			return fill, err
		}
	}
	if !req.TakeProfit.IsZero() {
		if err := e.placeTrigger(ctx, req.Symbol, closeSide, futures.OrderTypeTakeProfitMarket, req.TakeProfit); err != nil {
			return fill, err
		}
	}
	return fill, nil
}

func (e *BinanceExecutor) placeTrigger(ctx context.Context, symbol string, side Side, t futures.OrderType, price decimal.Decimal) error {
	_, err := e.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(t).
		StopPrice(price.String()).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка размещения %s %s: %w", t, symbol, err)
	}
	return nil
}

// GetOpenPosition возвращает позицию с биржи или nil
func (e *BinanceExecutor) GetOpenPosition(ctx context.Context, symbol string) (*OpenPosition, error) {
	risks, err := e.futures.NewGetPositionRiskService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения позиции %s: %w", symbol, err)
	}

	for _, r := range risks {
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}

		pos := &OpenPosition{
			Symbol:    symbol,
			Direction: models.Long,
			Quantity:  amt.Abs(),
		}
		if amt.IsNegative() {
			pos.Direction = models.Short
		}
		pos.Entry, _ = decimal.NewFromString(r.EntryPrice)
		pos.MarkPrice, _ = decimal.NewFromString(r.MarkPrice)
		return pos, nil
	}
	return nil, nil
}

// UpdateStopLoss отменяет текущие стоп-заявки и ставит новую
func (e *BinanceExecutor) UpdateStopLoss(ctx context.Context, symbol string, price decimal.Decimal) error {
	pos, err := e.GetOpenPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}

	orders, err := e.futures.NewListOpenOrdersService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения заявок %s: %w", symbol, err)
	}
	for _, o := range orders {
		if o.Type != futures.OrderTypeStopMarket {
			continue
		}
		if _, err := e.futures.NewCancelOrderService().
			Symbol(symbol).
			OrderID(o.OrderID).
			Do(ctx); err != nil {
			logger.Warn("Не удалось отменить стоп-заявку",
				zap.String("symbol", symbol),
				zap.Int64("order_id", o.OrderID),
				zap.Error(err))
		}
	}

	closeSide := SideSell
	if pos.Direction == models.Short {
		closeSide = SideBuy
	}
	return e.placeTrigger(ctx, symbol, closeSide, futures.OrderTypeStopMarket, price)
}

// ClosePosition закрывает позицию рыночной заявкой и снимает заявки
func (e *BinanceExecutor) ClosePosition(ctx context.Context, symbol string) (bool, error) {
	pos, err := e.GetOpenPosition(ctx, symbol)
	if err != nil {
		return false, err
	}
	if pos == nil {
		return false, nil
	}

	side := SideSell
	if pos.Direction == models.Short {
		side = SideBuy
	}
	if _, err := e.PlaceOrder(ctx, OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       OrderMarket,
		Quantity:   pos.Quantity,
		ReduceOnly: true,
	}); err != nil {
		return false, err
	}

	if err := e.futures.NewCancelAllOpenOrdersService().
		Symbol(symbol).
		Do(ctx); err != nil {
		logger.Warn("Не удалось снять заявки после закрытия",
			zap.String("symbol", symbol),
			zap.Error(err))
	}
	return true, nil
}
