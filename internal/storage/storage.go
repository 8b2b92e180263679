package storage

import (
	"context"

	"github.com/skalibog/smcbot/pkg/models"
)

// Storage интерфейс долговременного хранилища свечей, решений и событий
type Storage interface {
	SaveCandles(ctx context.Context, symbol, interval string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	SaveDecision(ctx context.Context, decision models.Decision) error
	SaveEvent(ctx context.Context, event models.Event) error
	Close()
}

// NopStorage хранилище-заглушка, когда InfluxDB отключена
type NopStorage struct{}

func (NopStorage) SaveCandles(context.Context, string, string, []models.Candle) error { return nil }

func (NopStorage) GetCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return nil, nil
}

func (NopStorage) SaveDecision(context.Context, models.Decision) error { return nil }
func (NopStorage) SaveEvent(context.Context, models.Event) error       { return nil }
func (NopStorage) Close()                                              {}
