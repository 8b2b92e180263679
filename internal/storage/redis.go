package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
)

// PositionTTL срок жизни ключа позиции в Redis
const PositionTTL = 7 * 24 * time.Hour

// RedisPositionMirror зеркалирует открытые позиции в Redis и публикует
// события. При недоступности Redis держит копию в памяти.
type RedisPositionMirror struct {
	client    *redis.Client
	prefix    string
	cache     map[string]models.Position
	cacheMu   sync.RWMutex
	available atomic.Bool
}

// NewRedisPositionMirror подключается к Redis. Ошибка подключения не
// фатальна: зеркало продолжает работать в памяти.
func NewRedisPositionMirror(ctx context.Context, cfg config.RedisConfig) *RedisPositionMirror {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		MaxRetries:  1,
	})
	m := newMirror(client, cfg.Prefix)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis недоступен, позиции хранятся в памяти",
			zap.String("addr", cfg.Addr),
			zap.Error(err))
		return m
	}

	m.available.Store(true)
	logger.Info("Подключен Redis", zap.String("addr", cfg.Addr))
	return m
}

func newMirror(client *redis.Client, prefix string) *RedisPositionMirror {
	if prefix == "" {
		prefix = "smcbot"
	}
	return &RedisPositionMirror{
		client: client,
		prefix: prefix,
		cache:  make(map[string]models.Position),
	}
}

// Available сообщает, пишет ли зеркало в Redis
func (m *RedisPositionMirror) Available() bool {
	return m.available.Load()
}

func (m *RedisPositionMirror) positionKey(symbol string) string {
	return fmt.Sprintf("%s:position:%s", m.prefix, symbol)
}

func (m *RedisPositionMirror) positionsKey() string {
	return m.prefix + ":positions"
}

func (m *RedisPositionMirror) eventsChannel() string {
	return m.prefix + ":events"
}

// Apply отражает событие: закрытие удаляет позицию, остальные события
// перезаписывают ее состояние
func (m *RedisPositionMirror) Apply(ctx context.Context, ev models.Event) error {
	closed := ev.Type == models.EventClosed

	m.cacheMu.Lock()
	if closed {
		delete(m.cache, ev.Symbol)
	} else {
		m.cache[ev.Symbol] = ev.Position.Clone()
	}
	m.cacheMu.Unlock()

	if !m.available.Load() {
		return nil
	}

	state, err := json.Marshal(ev.Position)
	if err != nil {
		return fmt.Errorf("ошибка сериализации позиции: %w", err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	pipe := m.client.TxPipeline()
	if closed {
		pipe.Del(ctx, m.positionKey(ev.Symbol))
		pipe.SRem(ctx, m.positionsKey(), ev.Symbol)
	} else {
		pipe.Set(ctx, m.positionKey(ev.Symbol), state, PositionTTL)
		pipe.SAdd(ctx, m.positionsKey(), ev.Symbol)
		pipe.Expire(ctx, m.positionsKey(), PositionTTL)
	}
	pipe.Publish(ctx, m.eventsChannel(), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка записи позиции %s в Redis: %w", ev.Symbol, err)
	}
	return nil
}

// Load возвращает зеркалированные позиции, отсортированные по символу
func (m *RedisPositionMirror) Load(ctx context.Context) ([]models.Position, error) {
	if !m.available.Load() {
		return m.cached(), nil
	}

	symbols, err := m.client.SMembers(ctx, m.positionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка позиций: %w", err)
	}

	positions := make([]models.Position, 0, len(symbols))
	for _, symbol := range symbols {
		data, err := m.client.Get(ctx, m.positionKey(symbol)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения позиции %s: %w", symbol, err)
		}

		var pos models.Position
		if err := json.Unmarshal(data, &pos); err != nil {
			logger.Warn("Поврежденная запись позиции в Redis",
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		positions = append(positions, pos)
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (m *RedisPositionMirror) cached() []models.Position {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	positions := make([]models.Position, 0, len(m.cache))
	for _, pos := range m.cache {
		positions = append(positions, pos.Clone())
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions
}

// Close закрывает клиент Redis
func (m *RedisPositionMirror) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}
