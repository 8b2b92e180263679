package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/candles"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BarHandler получатель закрытых свечей и внутрибаровых цен
type BarHandler interface {
	OnCandle(ev models.BarEvent)
	OnPrice(symbol string, price decimal.Decimal)
}

// CandleSink необязательное долговременное хранилище свечей
type CandleSink interface {
	SaveCandles(ctx context.Context, symbol, interval string, candles []models.Candle) error
}

// BarStream живой поток баров одного символа
type BarStream interface {
	Run(ctx context.Context, handle func(models.BarEvent)) error
}

// StreamFactory создает поток для символа и набора таймфреймов
type StreamFactory func(symbol string, intervals []string) BarStream

// CollectorConfig параметры сборщика
type CollectorConfig struct {
	Symbols []string
	// Intervals все собираемые таймфреймы
	Intervals []string
	// PriceInterval таймфрейм, тики которого идут в OnPrice
	PriceInterval string
	Backfill      int
}

// CandleCollector загружает историю и ведет живые потоки по символам,
// по одной горутине на символ
type CandleCollector struct {
	cfg     CollectorConfig
	source  KlineSource
	streams StreamFactory
	store   *candles.Store
	handler BarHandler
	sink    CandleSink
}

// NewCandleCollector создает сборщик. sink может быть nil.
func NewCandleCollector(cfg CollectorConfig, source KlineSource, streams StreamFactory, store *candles.Store, handler BarHandler, sink CandleSink) *CandleCollector {
	return &CandleCollector{
		cfg:     cfg,
		source:  source,
		streams: streams,
		store:   store,
		handler: handler,
		sink:    sink,
	}
}

// Backfill загружает историю по всем символам и таймфреймам
func (c *CandleCollector) Backfill(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, symbol := range c.cfg.Symbols {
		g.Go(func() error {
			for _, interval := range c.cfg.Intervals {
				klines, err := c.source.GetKlines(gctx, symbol, interval, c.cfg.Backfill)
				if err != nil {
					return fmt.Errorf("загрузка истории %s %s: %w", symbol, interval, err)
				}

				n := c.store.PushMany(symbol, interval, klines)
				logger.Info("Загружена история",
					zap.String("symbol", symbol),
					zap.String("interval", interval),
					zap.Int("candles", n))

				if c.sink != nil {
					if err := c.sink.SaveCandles(gctx, symbol, interval, klines); err != nil {
						logger.Warn("Не удалось сохранить историю",
							zap.String("symbol", symbol),
							zap.Error(err))
					}
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// Run запускает живые потоки и блокируется до отмены контекста
func (c *CandleCollector) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, symbol := range c.cfg.Symbols {
		stream := c.streams(symbol, c.cfg.Intervals)
		g.Go(func() error {
			return stream.Run(gctx, func(ev models.BarEvent) {
				c.onBar(gctx, ev)
			})
		})
	}

	return g.Wait()
}

func (c *CandleCollector) onBar(ctx context.Context, ev models.BarEvent) {
	if ev.Timeframe == c.cfg.PriceInterval {
		c.handler.OnPrice(ev.Symbol, ev.Candle.Close)
	}
	if !ev.Closed {
		return
	}

	if !c.store.Push(ev.Symbol, ev.Timeframe, ev.Candle) {
		logger.Debug("Отброшена устаревшая свеча",
			zap.String("symbol", ev.Symbol),
			zap.String("interval", ev.Timeframe),
			zap.Time("time", ev.Candle.Time))
		return
	}
	c.handler.OnCandle(ev)

	if c.sink != nil {
		if err := c.sink.SaveCandles(ctx, ev.Symbol, ev.Timeframe, []models.Candle{ev.Candle}); err != nil {
			logger.Warn("Не удалось сохранить свечу",
				zap.String("symbol", ev.Symbol),
				zap.Error(err))
		}
	}
}
