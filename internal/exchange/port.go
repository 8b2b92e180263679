package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/pkg/models"
)

// ErrNoPrice нет цены для исполнения рыночной заявки
var ErrNoPrice = errors.New("нет опорной цены")

// Side сторона заявки
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFor сторона открывающей заявки для направления
func SideFor(dir models.Direction) Side {
	if dir == models.Short {
		return SideSell
	}
	return SideBuy
}

// OrderType тип заявки
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderRequest заявка. Нулевые Price/StopLoss/TakeProfit означают отсутствие.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	ReduceOnly bool
}

// Fill результат исполнения
type Fill struct {
	OrderID  string
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Fee      decimal.Decimal
	Time     time.Time
}

// OpenPosition позиция на стороне биржи
type OpenPosition struct {
	Symbol     string
	Direction  models.Direction
	Entry      decimal.Decimal
	Quantity   decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	MarkPrice  decimal.Decimal
}

// ExecutionPort исполнение заявок (биржа или симуляция)
type ExecutionPort interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	// GetOpenPosition возвращает nil, если позиции нет
	GetOpenPosition(ctx context.Context, symbol string) (*OpenPosition, error)
	UpdateStopLoss(ctx context.Context, symbol string, price decimal.Decimal) error
	ClosePosition(ctx context.Context, symbol string) (bool, error)
}
