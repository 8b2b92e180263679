// Package position ведет машину состояний открытых позиций.
// Каждый символ защищен собственным мьютексом, глобальной блокировки нет.
package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/analysis/structure"
	"github.com/skalibog/smcbot/pkg/models"
)

var (
	// ErrInvalidLevels нарушен порядок SL/Entry/TP для направления
	ErrInvalidLevels = errors.New("некорректные уровни позиции")
	// ErrPositionExists по символу уже есть открытая позиция
	ErrPositionExists = errors.New("позиция уже открыта")
)

const defaultMSSLookback = 10

type slot struct {
	mu  sync.Mutex
	pos *models.Position
}

// Manager хранит позиции по символам
type Manager struct {
	slots       sync.Map // symbol -> *slot
	mssLookback int
	now         func() time.Time
}

// NewManager создает менеджер позиций. mssLookback - сколько свечей до
// слома структуры учитывается при расчете защитного уровня.
func NewManager(mssLookback int) *Manager {
	if mssLookback <= 0 {
		mssLookback = defaultMSSLookback
	}
	return &Manager{
		mssLookback: mssLookback,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) slot(symbol string) *slot {
	s, _ := m.slots.LoadOrStore(symbol, &slot{})
	return s.(*slot)
}

// Enter открывает позицию
func (m *Manager) Enter(symbol string, dir models.Direction, entry, sl, tp decimal.Decimal) (models.Event, error) {
	if err := validateLevels(dir, entry, sl, tp); err != nil {
		return models.Event{}, fmt.Errorf("%s: %w", symbol, err)
	}

	s := m.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos != nil {
		return models.Event{}, fmt.Errorf("%s: %w", symbol, ErrPositionExists)
	}

	now := m.now()
	s.pos = &models.Position{
		Symbol:    symbol,
		Direction: dir,
		Entry:     entry,
		SL:        sl,
		TP:        tp,
		OpenedAt:  now,
	}
	return m.event(models.EventEntry, models.ExitNone, entry, s.pos, now), nil
}

// UpdatePrice применяет новую цену. Проверки идут в фиксированном порядке:
// MSS, стоп-лосс, частичная фиксация, защитный выход; первая сработавшая
// завершает обработку тика. Для отсутствующей позиции ничего не делает.
func (m *Manager) UpdatePrice(symbol string, price decimal.Decimal, ltf []models.Candle) []models.Event {
	v, ok := m.slots.Load(symbol)
	if !ok {
		return nil
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.pos
	if pos == nil {
		return nil
	}
	now := m.now()

	// a. MSS
	if !pos.MSSTriggered && len(ltf) > 0 {
		if level, ok := m.mssLevel(ltf, pos.Direction); ok {
			pos.MSSTriggered = true
			pos.ProtectiveLevel = &level
			events := []models.Event{m.event(models.EventMSS, models.ExitNone, price, pos, now)}

			if adverse(pos.Direction, price, level) {
				events = append(events, m.event(models.EventClosed, models.ExitEarlyStop, price, pos, now))
				s.pos = nil
			}
			return events
		}
	}

	// b. Стоп-лосс
	if adverse(pos.Direction, price, pos.SL) {
		ev := m.event(models.EventClosed, models.ExitStopLoss, price, pos, now)
		s.pos = nil
		return []models.Event{ev}
	}

	// c. Частичная фиксация
	if !pos.HalfExit && favorable(pos.Direction, price, pos.TP) {
		pos.HalfExit = true
		return []models.Event{m.event(models.EventPartialExit, models.ExitNone, price, pos, now)}
	}

	// d. Защитный выход
	if pos.HalfExit && pos.ProtectiveLevel != nil && adverse(pos.Direction, price, *pos.ProtectiveLevel) {
		ev := m.event(models.EventClosed, models.ExitProtective, price, pos, now)
		s.pos = nil
		return []models.Event{ev}
	}

	return nil
}

// Close закрывает позицию. Повторный вызов ничего не делает и
// возвращает false.
func (m *Manager) Close(symbol string, price decimal.Decimal) (models.Event, bool) {
	v, ok := m.slots.Load(symbol)
	if !ok {
		return models.Event{}, false
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos == nil {
		return models.Event{}, false
	}
	ev := m.event(models.EventClosed, models.ExitManual, price, s.pos, m.now())
	s.pos = nil
	return ev, true
}

// SetStopLoss подтягивает стоп. Ослабление стопа и уровень по другую
// сторону входа отклоняются.
func (m *Manager) SetStopLoss(symbol string, sl decimal.Decimal) bool {
	v, ok := m.slots.Load(symbol)
	if !ok {
		return false
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.pos
	if pos == nil {
		return false
	}

	switch pos.Direction {
	case models.Long:
		if !sl.GreaterThan(pos.SL) || !sl.LessThan(pos.Entry) {
			return false
		}
	case models.Short:
		if !sl.LessThan(pos.SL) || !sl.GreaterThan(pos.Entry) {
			return false
		}
	}
	pos.SL = sl
	return true
}

// Get возвращает копию позиции
func (m *Manager) Get(symbol string) (models.Position, bool) {
	v, ok := m.slots.Load(symbol)
	if !ok {
		return models.Position{}, false
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos == nil {
		return models.Position{}, false
	}
	return s.pos.Clone(), true
}

// Positions возвращает копии всех открытых позиций, отсортированные по символу
func (m *Manager) Positions() []models.Position {
	var out []models.Position
	m.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if s.pos != nil {
			out = append(out, s.pos.Clone())
		}
		s.mu.Unlock()
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// mssLevel ищет последний слом структуры по направлению позиции и
// возвращает экстремум mssLookback свечей перед ним
func (m *Manager) mssLevel(ltf []models.Candle, dir models.Direction) (decimal.Decimal, bool) {
	_, idx, ok := structure.LatestMatching(ltf, dir)
	if !ok || idx == 0 {
		return decimal.Zero, false
	}

	prior := ltf[max(0, idx-m.mssLookback):idx]
	level := prior[0].Low
	if dir == models.Short {
		level = prior[0].High
	}
	for _, c := range prior[1:] {
		if dir == models.Short {
			level = decimal.Max(level, c.High)
		} else {
			level = decimal.Min(level, c.Low)
		}
	}
	return level, true
}

func (m *Manager) event(t models.EventType, reason models.ExitReason, price decimal.Decimal, pos *models.Position, now time.Time) models.Event {
	return models.Event{
		ID:       uuid.NewString(),
		Type:     t,
		Reason:   reason,
		Symbol:   pos.Symbol,
		Price:    price,
		Position: pos.Clone(),
		Time:     now,
	}
}

func validateLevels(dir models.Direction, entry, sl, tp decimal.Decimal) error {
	switch dir {
	case models.Long:
		if sl.LessThan(entry) && entry.LessThan(tp) {
			return nil
		}
	case models.Short:
		if sl.GreaterThan(entry) && entry.GreaterThan(tp) {
			return nil
		}
	default:
		return fmt.Errorf("%w: неизвестное направление %q", ErrInvalidLevels, dir)
	}
	return fmt.Errorf("%w: %s sl=%s entry=%s tp=%s", ErrInvalidLevels, dir, sl, entry, tp)
}

// adverse цена дошла до уровня против позиции
func adverse(dir models.Direction, price, level decimal.Decimal) bool {
	if dir == models.Short {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

// favorable цена дошла до уровня в пользу позиции
func favorable(dir models.Direction, price, level decimal.Decimal) bool {
	if dir == models.Short {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}
