package storage

import (
	"context"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointTags(p *write.Point) map[string]string {
	tags := make(map[string]string)
	for _, t := range p.TagList() {
		tags[t.Key] = t.Value
	}
	return tags
}

func pointFields(p *write.Point) map[string]interface{} {
	fields := make(map[string]interface{})
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	return fields
}

func TestCandlePoint(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := candlePoint("BTCUSDT", "15m", models.Candle{
		Time:   ts,
		Open:   decimal.RequireFromString("100.5"),
		High:   decimal.NewFromInt(102),
		Low:    decimal.NewFromInt(99),
		Close:  decimal.NewFromInt(101),
		Volume: decimal.NewFromInt(7),
	})

	assert.Equal(t, measurementCandles, p.Name())
	assert.Equal(t, ts, p.Time())
	assert.Equal(t, map[string]string{"symbol": "BTCUSDT", "interval": "15m"}, pointTags(p))

	fields := pointFields(p)
	assert.Equal(t, 100.5, fields["open"])
	assert.Equal(t, 102.0, fields["high"])
	assert.Equal(t, 7.0, fields["volume"])
}

func TestDecisionPoint(t *testing.T) {
	zone := &models.Zone{Kind: models.OrderBlock, High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99)}
	p := decisionPoint(models.Decision{
		Symbol:    "ETHUSDT",
		Accepted:  true,
		Direction: models.Long,
		Trigger:   zone,
		Step:      "order_block",
		Price:     decimal.NewFromInt(100),
	})

	tags := pointTags(p)
	assert.Equal(t, "true", tags["accepted"])
	assert.Equal(t, "long", tags["direction"])
	assert.Equal(t, "order_block", tags["step"])

	fields := pointFields(p)
	assert.Equal(t, "order_block", fields["zone_kind"])
	assert.Equal(t, 99.0, fields["zone_low"])
	assert.False(t, p.Time().IsZero())

	rejected := decisionPoint(models.Decision{Symbol: "ETHUSDT", Step: "structure", Reason: "нет структуры"})
	assert.NotContains(t, pointTags(rejected), "direction")
	assert.NotContains(t, pointFields(rejected), "zone_kind")
}

func TestEventPoint(t *testing.T) {
	level := decimal.NewFromInt(95)
	p := eventPoint(models.Event{
		ID:     "id-1",
		Type:   models.EventClosed,
		Reason: models.ExitProtective,
		Symbol: "BTCUSDT",
		Price:  decimal.NewFromInt(94),
		Position: models.Position{
			Direction:       models.Long,
			Entry:           decimal.NewFromInt(100),
			ProtectiveLevel: &level,
		},
	})

	tags := pointTags(p)
	assert.Equal(t, "closed", tags["type"])
	assert.Equal(t, "protective_exit", tags["reason"])

	fields := pointFields(p)
	assert.Equal(t, 94.0, fields["price"])
	assert.Equal(t, 95.0, fields["protective_level"])
	assert.Equal(t, "id-1", fields["id"])
}

func TestMirrorKeys(t *testing.T) {
	m := newMirror(nil, "")
	assert.Equal(t, "smcbot:position:BTCUSDT", m.positionKey("BTCUSDT"))
	assert.Equal(t, "smcbot:positions", m.positionsKey())
	assert.Equal(t, "smcbot:events", m.eventsChannel())

	m = newMirror(nil, "paper")
	assert.Equal(t, "paper:position:ETHUSDT", m.positionKey("ETHUSDT"))
}

func TestMirrorFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	m := NewRedisPositionMirror(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	defer m.Close()
	require.False(t, m.Available())

	pos := models.Position{Symbol: "BTCUSDT", Direction: models.Long, Entry: decimal.NewFromInt(100)}
	require.NoError(t, m.Apply(ctx, models.Event{Type: models.EventEntry, Symbol: "BTCUSDT", Position: pos}))
	require.NoError(t, m.Apply(ctx, models.Event{Type: models.EventEntry, Symbol: "AAVEUSDT", Position: models.Position{Symbol: "AAVEUSDT"}}))

	positions, err := m.Load(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAVEUSDT", positions[0].Symbol)

	require.NoError(t, m.Apply(ctx, models.Event{Type: models.EventClosed, Symbol: "BTCUSDT", Position: pos}))
	positions, err = m.Load(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAVEUSDT", positions[0].Symbol)
}

func TestNopStorage(t *testing.T) {
	var s Storage = NopStorage{}
	candles, err := s.GetCandles(context.Background(), "BTCUSDT", "1m", 10)
	assert.NoError(t, err)
	assert.Empty(t, candles)
	assert.NoError(t, s.SaveEvent(context.Background(), models.Event{}))
}
