package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
)

// KlineSource источник исторических свечей
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// BinanceClient клиент для взаимодействия с Binance Futures
type BinanceClient struct {
	futures *futures.Client
	now     func() time.Time
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) *BinanceClient {
	return &BinanceClient{
		futures: newFuturesClient(cfg),
		now:     time.Now,
	}
}

func newFuturesClient(cfg config.BinanceConfig) *futures.Client {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	return futures.NewClient(cfg.APIKey, cfg.APISecret)
}

// GetKlines получает исторические свечи. Незакрытая последняя свеча
// отбрасывается.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	now := c.now().UnixMilli()
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime > now {
			continue
		}
		candle, err := parseCandle(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, fmt.Errorf("свеча %s %s: %w", symbol, interval, err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// parseCandle собирает свечу из строковых полей биржи
func parseCandle(openTime int64, open, high, low, closePrice, volume string) (models.Candle, error) {
	fields := [5]decimal.Decimal{}
	for i, s := range [5]string{open, high, low, closePrice, volume} {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return models.Candle{}, fmt.Errorf("ошибка парсинга %q: %w", s, err)
		}
		fields[i] = v
	}

	return models.Candle{
		Time:   time.UnixMilli(openTime).UTC(),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

// FallbackSource берет историю из primary, а при ошибке или пустом
// ответе из secondary
type FallbackSource struct {
	Primary   KlineSource
	Secondary KlineSource
}

// GetKlines реализует KlineSource
func (f FallbackSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	candles, err := f.Primary.GetKlines(ctx, symbol, interval, limit)
	if err == nil && len(candles) > 0 {
		return candles, nil
	}
	if f.Secondary == nil {
		return candles, err
	}

	logger.Warn("Основной источник истории недоступен, используется запасной",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Error(err))

	backup, berr := f.Secondary.GetKlines(ctx, symbol, interval, limit)
	if berr != nil {
		if err != nil {
			return nil, fmt.Errorf("%w; запасной источник: %v", err, berr)
		}
		return nil, berr
	}
	return backup, nil
}
