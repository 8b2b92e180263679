package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
)

const (
	measurementCandles   = "candles"
	measurementDecisions = "decisions"
	measurementEvents    = "position_events"
)

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("Ошибка записи в InfluxDB", zap.Error(err))
		}
	}()

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close сбрасывает буфер и закрывает соединение
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveCandles сохраняет свечи таймфрейма
func (s *InfluxDBStorage) SaveCandles(_ context.Context, symbol, interval string, candles []models.Candle) error {
	for _, c := range candles {
		s.writeAPI.WritePoint(candlePoint(symbol, interval, c))
	}
	s.writeAPI.Flush()
	return nil
}

// GetCandles возвращает последние limit свечей в порядке возрастания времени
func (s *InfluxDBStorage) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.symbol == "%s")
			|> filter(fn: (r) => r.interval == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, measurementCandles, symbol, interval, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей: %w", err)
	}

	var candles []models.Candle
	for result.Next() {
		record := result.Record()
		candles = append(candles, models.Candle{
			Time:   record.Time().UTC(),
			Open:   floatField(record.ValueByKey("open")),
			High:   floatField(record.ValueByKey("high")),
			Low:    floatField(record.ValueByKey("low")),
			Close:  floatField(record.ValueByKey("close")),
			Volume: floatField(record.ValueByKey("volume")),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	// запрос отдает свежие первыми
	slices.Reverse(candles)
	return candles, nil
}

// GetKlines позволяет использовать хранилище как запасной источник истории
func (s *InfluxDBStorage) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return s.GetCandles(ctx, symbol, interval, limit)
}

// SaveDecision сохраняет решение о входе
func (s *InfluxDBStorage) SaveDecision(_ context.Context, d models.Decision) error {
	s.writeAPI.WritePoint(decisionPoint(d))
	s.writeAPI.Flush()
	return nil
}

// SaveEvent сохраняет событие позиции
func (s *InfluxDBStorage) SaveEvent(_ context.Context, ev models.Event) error {
	s.writeAPI.WritePoint(eventPoint(ev))
	s.writeAPI.Flush()
	return nil
}

func candlePoint(symbol, interval string, c models.Candle) *write.Point {
	return influxdb2.NewPoint(
		measurementCandles,
		map[string]string{
			"symbol":   symbol,
			"interval": interval,
		},
		map[string]interface{}{
			"open":   c.Open.InexactFloat64(),
			"high":   c.High.InexactFloat64(),
			"low":    c.Low.InexactFloat64(),
			"close":  c.Close.InexactFloat64(),
			"volume": c.Volume.InexactFloat64(),
		},
		c.Time,
	)
}

func decisionPoint(d models.Decision) *write.Point {
	tags := map[string]string{
		"symbol":   d.Symbol,
		"accepted": fmt.Sprintf("%t", d.Accepted),
		"step":     d.Step,
	}
	if d.Direction != "" {
		tags["direction"] = string(d.Direction)
	}

	fields := map[string]interface{}{
		"price":  d.Price.InexactFloat64(),
		"reason": d.Reason,
	}
	if d.Trigger != nil {
		fields["zone_kind"] = string(d.Trigger.Kind)
		fields["zone_high"] = d.Trigger.High.InexactFloat64()
		fields["zone_low"] = d.Trigger.Low.InexactFloat64()
	}

	return influxdb2.NewPoint(measurementDecisions, tags, fields, pointTime(d.Time))
}

func eventPoint(ev models.Event) *write.Point {
	tags := map[string]string{
		"symbol":    ev.Symbol,
		"type":      string(ev.Type),
		"direction": string(ev.Position.Direction),
	}
	if ev.Reason != models.ExitNone {
		tags["reason"] = string(ev.Reason)
	}

	fields := map[string]interface{}{
		"id":        ev.ID,
		"price":     ev.Price.InexactFloat64(),
		"entry":     ev.Position.Entry.InexactFloat64(),
		"sl":        ev.Position.SL.InexactFloat64(),
		"tp":        ev.Position.TP.InexactFloat64(),
		"half_exit": ev.Position.HalfExit,
	}
	if ev.Position.ProtectiveLevel != nil {
		fields["protective_level"] = ev.Position.ProtectiveLevel.InexactFloat64()
	}

	return influxdb2.NewPoint(measurementEvents, tags, fields, pointTime(ev.Time))
}

func pointTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func floatField(v interface{}) decimal.Decimal {
	f, _ := v.(float64)
	return decimal.NewFromFloat(f)
}
