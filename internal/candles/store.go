// Package candles хранит скользящие окна свечей по паре (символ, таймфрейм).
package candles

import (
	"sort"
	"sync"
	"time"

	"github.com/skalibog/smcbot/pkg/models"
)

// DefaultCapacity наибольшая глубина истории, нужная детекторам
const DefaultCapacity = 150

// Key идентификатор окна
type Key struct {
	Symbol    string
	Timeframe string
}

// Store набор окон свечей. Окна разных символов не делят блокировок.
type Store struct {
	capacity int
	windows  sync.Map // Key -> *window
}

// NewStore создает хранилище окон заданной ёмкости
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// Capacity ёмкость каждого окна
func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) window(symbol, timeframe string) *window {
	key := Key{Symbol: symbol, Timeframe: timeframe}
	if w, ok := s.windows.Load(key); ok {
		return w.(*window)
	}
	w, _ := s.windows.LoadOrStore(key, newWindow(s.capacity))
	return w.(*window)
}

// Push добавляет свечу, вытесняя самую старую при заполнении.
// Возвращает false, если свеча старше последней и была отброшена.
func (s *Store) Push(symbol, timeframe string, candle models.Candle) bool {
	return s.window(symbol, timeframe).push(candle)
}

// PushMany загружает историю (backfill), упорядочивая её по времени
func (s *Store) PushMany(symbol, timeframe string, candles []models.Candle) int {
	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	w := s.window(symbol, timeframe)
	accepted := 0
	for _, c := range sorted {
		if w.push(c) {
			accepted++
		}
	}
	return accepted
}

// Snapshot возвращает копию окна в порядке возрастания времени.
// Для отсутствующего окна возвращается пустой срез.
func (s *Store) Snapshot(symbol, timeframe string) []models.Candle {
	w, ok := s.windows.Load(Key{Symbol: symbol, Timeframe: timeframe})
	if !ok {
		return []models.Candle{}
	}
	return w.(*window).snapshot()
}

// Last возвращает последнюю свечу окна
func (s *Store) Last(symbol, timeframe string) (models.Candle, bool) {
	w, ok := s.windows.Load(Key{Symbol: symbol, Timeframe: timeframe})
	if !ok {
		return models.Candle{}, false
	}
	return w.(*window).last()
}

// Len количество свечей в окне
func (s *Store) Len(symbol, timeframe string) int {
	w, ok := s.windows.Load(Key{Symbol: symbol, Timeframe: timeframe})
	if !ok {
		return 0
	}
	return w.(*window).size()
}

// Keys возвращает все известные окна
func (s *Store) Keys() []Key {
	var keys []Key
	s.windows.Range(func(k, _ any) bool {
		keys = append(keys, k.(Key))
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Timeframe < keys[j].Timeframe
	})
	return keys
}

// IntervalDuration конвертирует строковый интервал в duration
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "3d":
		return 72 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}
