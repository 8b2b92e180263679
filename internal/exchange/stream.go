package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
)

const (
	// DefaultStreamURL комбинированный поток Binance Futures
	DefaultStreamURL = "wss://fstream.binance.com/stream"

	streamReadTimeout  = 60 * time.Second
	streamPingInterval = 20 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// KlineStream поток свечей одного символа по нескольким таймфреймам
// с переподключением
type KlineStream struct {
	baseURL   string
	symbol    string
	intervals []string
	dialer    *websocket.Dialer
	backoff   *backoff.Backoff
}

// NewKlineStream создает поток свечей
func NewKlineStream(baseURL, symbol string, intervals []string) *KlineStream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return &KlineStream{
		baseURL:   baseURL,
		symbol:    symbol,
		intervals: intervals,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		backoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		},
	}
}

// URL адрес комбинированного потока
func (s *KlineStream) URL() string {
	streams := make([]string, len(s.intervals))
	for i, interval := range s.intervals {
		streams[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(s.symbol), interval)
	}
	return s.baseURL + "?streams=" + strings.Join(streams, "/")
}

// Run читает поток до отмены контекста, переподключаясь с нарастающей паузой
func (s *KlineStream) Run(ctx context.Context, handle func(models.BarEvent)) error {
	for {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}

		wait := s.backoff.Duration()
		logger.Warn("Поток свечей прерван, переподключение",
			zap.String("symbol", s.symbol),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session одно подключение: читает сообщения до ошибки
func (s *KlineStream) session(ctx context.Context, handle func(models.BarEvent)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("ошибка подключения к потоку: %w", err)
	}
	defer conn.Close()

	s.backoff.Reset()
	logger.Info("Подключен поток свечей",
		zap.String("symbol", s.symbol),
		zap.Strings("intervals", s.intervals))

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(ctx, conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ошибка чтения потока: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		ev, err := ParseKlineMessage(data)
		if err != nil {
			logger.Debug("Пропущено сообщение потока", zap.Error(err))
			continue
		}
		handle(ev)
	}
}

// keepAlive шлет ping и закрывает соединение при отмене контекста
func (s *KlineStream) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteTimeout))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				logger.Debug("Ping потока не отправлен", zap.Error(err))
			}
		}
	}
}

// ParseKlineMessage разбирает событие kline (комбинированный или
// одиночный поток)
func ParseKlineMessage(data []byte) (models.BarEvent, error) {
	root, err := simplejson.NewJson(data)
	if err != nil {
		return models.BarEvent{}, fmt.Errorf("ошибка разбора сообщения: %w", err)
	}

	payload := root
	if d, ok := root.CheckGet("data"); ok {
		payload = d
	}
	if payload.Get("e").MustString() != "kline" {
		return models.BarEvent{}, errors.New("не событие kline")
	}

	k := payload.Get("k")
	candle, err := parseCandle(
		k.Get("t").MustInt64(),
		k.Get("o").MustString(),
		k.Get("h").MustString(),
		k.Get("l").MustString(),
		k.Get("c").MustString(),
		k.Get("v").MustString(),
	)
	if err != nil {
		return models.BarEvent{}, err
	}

	return models.BarEvent{
		Symbol:    k.Get("s").MustString(),
		Timeframe: k.Get("i").MustString(),
		Candle:    candle,
		Closed:    k.Get("x").MustBool(),
	}, nil
}
