// Package notify доставляет текстовые уведомления о событиях позиций.
// Доставка асинхронная: ошибки только логируются.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// Message уведомление
type Message struct {
	Title  string
	Text   string
	Symbol string
	Event  models.EventType
	Time   time.Time
}

// Notifier канал доставки уведомлений
type Notifier interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, msg Message) error
}

// Manager рассылает уведомления по всем включенным каналам
type Manager struct {
	mu        sync.RWMutex
	notifiers []Notifier
	wg        sync.WaitGroup
}

// NewManager создает менеджер уведомлений
func NewManager(notifiers ...Notifier) *Manager {
	m := &Manager{}
	for _, n := range notifiers {
		m.Add(n)
	}
	return m
}

// Add добавляет канал
func (m *Manager) Add(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Notify отправляет сообщение во все включенные каналы без ожидания
func (m *Manager) Notify(msg Message) {
	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()

	for _, n := range notifiers {
		if !n.Enabled() {
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			if err := n.Send(ctx, msg); err != nil {
				logger.Warn("Не удалось отправить уведомление",
					zap.String("notifier", n.Name()),
					zap.String("symbol", msg.Symbol),
					zap.String("event", string(msg.Event)),
					zap.Error(err))
			}
		}()
	}
}

// NotifyEvent форматирует и отправляет событие позиции
func (m *Manager) NotifyEvent(ev models.Event) {
	m.Notify(FormatEvent(ev))
}

// Wait ждет завершения отправок
func (m *Manager) Wait() {
	m.wg.Wait()
}

// FormatEvent строит текст уведомления по событию
func FormatEvent(ev models.Event) Message {
	p := ev.Position
	msg := Message{
		Symbol: ev.Symbol,
		Event:  ev.Type,
		Time:   ev.Time,
	}

	var b strings.Builder
	switch ev.Type {
	case models.EventEntry:
		msg.Title = fmt.Sprintf("Вход %s %s", strings.ToUpper(string(p.Direction)), ev.Symbol)
		fmt.Fprintf(&b, "Цена: %s\nSL: %s\nTP: %s", p.Entry, p.SL, p.TP)
	case models.EventMSS:
		msg.Title = fmt.Sprintf("MSS найден %s", ev.Symbol)
		if p.ProtectiveLevel != nil {
			fmt.Fprintf(&b, "Защитный уровень: %s\n", p.ProtectiveLevel)
		}
		fmt.Fprintf(&b, "Цена: %s", ev.Price)
	case models.EventPartialExit:
		msg.Title = fmt.Sprintf("Частичная фиксация %s", ev.Symbol)
		fmt.Fprintf(&b, "TP: %s\nЦена: %s", p.TP, ev.Price)
	case models.EventClosed:
		msg.Title = fmt.Sprintf("%s %s", exitTitle(ev.Reason), ev.Symbol)
		fmt.Fprintf(&b, "Вход: %s\nВыход: %s", p.Entry, ev.Price)
	default:
		msg.Title = fmt.Sprintf("%s %s", ev.Type, ev.Symbol)
		fmt.Fprintf(&b, "Цена: %s", ev.Price)
	}
	msg.Text = b.String()
	return msg
}

func exitTitle(reason models.ExitReason) string {
	switch reason {
	case models.ExitStopLoss:
		return "Стоп-лосс"
	case models.ExitEarlyStop:
		return "Ранний стоп"
	case models.ExitProtective:
		return "Финальный выход"
	default:
		return "Позиция закрыта"
	}
}
