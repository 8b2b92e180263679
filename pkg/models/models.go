package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle представляет закрытую свечу одного таймфрейма
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Bullish сообщает, закрылась ли свеча выше открытия
func (c Candle) Bullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// Bearish сообщает, закрылась ли свеча ниже открытия
func (c Candle) Bearish() bool {
	return c.Close.LessThan(c.Open)
}

// BodyHigh верхняя граница тела свечи
func (c Candle) BodyHigh() decimal.Decimal {
	return decimal.Max(c.Open, c.Close)
}

// BodyLow нижняя граница тела свечи
func (c Candle) BodyLow() decimal.Decimal {
	return decimal.Min(c.Open, c.Close)
}

// BarEvent событие закрытия (или обновления) бара от поставщика данных
type BarEvent struct {
	Symbol    string
	Timeframe string
	Candle    Candle
	Closed    bool
}

// Direction направление сделки
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite возвращает противоположное направление
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// StructureLabel метка рыночной структуры для свечи
type StructureLabel string

const (
	StructureNone StructureLabel = "none"
	BOSUp         StructureLabel = "BOS_up"
	BOSDown       StructureLabel = "BOS_down"
	CHoCHUp       StructureLabel = "CHoCH_up"
	CHoCHDown     StructureLabel = "CHoCH_down"
)

// Direction возвращает направление, которое подразумевает метка.
// Для StructureNone второй результат false.
func (l StructureLabel) Direction() (Direction, bool) {
	switch l {
	case BOSUp, CHoCHUp:
		return Long, true
	case BOSDown, CHoCHDown:
		return Short, true
	}
	return "", false
}

// ZoneKind тип зоны
type ZoneKind string

const (
	OrderBlock   ZoneKind = "order_block"
	FairValueGap ZoneKind = "fair_value_gap"
	BreakerBlock ZoneKind = "breaker_block"
)

// ZoneType бычья или медвежья зона
type ZoneType string

const (
	Bullish ZoneType = "bullish"
	Bearish ZoneType = "bearish"
)

// ZoneTypeFor возвращает тип зоны, совпадающий с направлением сделки
func ZoneTypeFor(d Direction) ZoneType {
	if d == Long {
		return Bullish
	}
	return Bearish
}

// Zone ценовая зона (ордерблок, FVG, брейкер). High >= Low.
type Zone struct {
	Kind  ZoneKind        `json:"kind"`
	Type  ZoneType        `json:"type"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Time  time.Time       `json:"time"`
	Index int             `json:"index"`
}

// Contains проверяет, находится ли цена внутри зоны (границы включительно)
func (z Zone) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(z.Low) && price.LessThanOrEqual(z.High)
}

// LiquidityType сторона ликвидности
type LiquidityType string

const (
	BuySide  LiquidityType = "buy_side"
	SellSide LiquidityType = "sell_side"
)

// LiquidityLevel уровень скопления ликвидности (равные максимумы/минимумы)
type LiquidityLevel struct {
	Type     LiquidityType
	Price    decimal.Decimal
	Time     time.Time
	Strength int
}

// Position открытая позиция по символу
type Position struct {
	Symbol          string           `json:"symbol"`
	Direction       Direction        `json:"direction"`
	Entry           decimal.Decimal  `json:"entry"`
	SL              decimal.Decimal  `json:"sl"`
	TP              decimal.Decimal  `json:"tp"`
	HalfExit        bool             `json:"half_exit"`
	ProtectiveLevel *decimal.Decimal `json:"protective_level,omitempty"`
	MSSTriggered    bool             `json:"mss_triggered"`
	OpenedAt        time.Time        `json:"opened_at"`
}

// Clone возвращает независимую копию позиции
func (p Position) Clone() Position {
	if p.ProtectiveLevel != nil {
		level := *p.ProtectiveLevel
		p.ProtectiveLevel = &level
	}
	return p
}

// EventType тип события жизненного цикла позиции
type EventType string

const (
	EventEntry       EventType = "entry"
	EventMSS         EventType = "mss"
	EventPartialExit EventType = "partial_exit"
	EventClosed      EventType = "closed"
)

// ExitReason причина закрытия позиции
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "stop_loss"
	ExitEarlyStop  ExitReason = "early_stop"
	ExitProtective ExitReason = "protective_exit"
	ExitManual     ExitReason = "manual"
)

// Event намерение, сгенерированное машиной состояний позиции
type Event struct {
	ID       string          `json:"id"`
	Type     EventType       `json:"type"`
	Reason   ExitReason      `json:"reason,omitempty"`
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Position Position        `json:"position"`
	Time     time.Time       `json:"time"`
}

// Decision результат решения о входе
type Decision struct {
	Symbol    string          `json:"symbol"`
	Accepted  bool            `json:"accepted"`
	Direction Direction       `json:"direction,omitempty"`
	Trigger   *Zone           `json:"trigger,omitempty"`
	Step      string          `json:"step"`
	Reason    string          `json:"reason,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Time      time.Time       `json:"time"`
}
