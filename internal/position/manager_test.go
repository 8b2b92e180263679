package position

import (
	"fmt"
	"sync"
	"testing"

	"github.com/skalibog/smcbot/internal/candletest"
	"github.com/skalibog/smcbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d = candletest.D

// BOS_up на последней свече, минимум двух предыдущих свечей 95
func bullishBreak() []models.Candle {
	return candletest.Series(
		[2]float64{97, 95},
		[2]float64{98, 96},
		[2]float64{99, 97},
	)
}

func openLong(t *testing.T, m *Manager) {
	t.Helper()
	ev, err := m.Enter("BTCUSDT", models.Long, d(100), d(90), d(105))
	require.NoError(t, err)
	require.Equal(t, models.EventEntry, ev.Type)
}

func TestEnter(t *testing.T) {
	m := NewManager(10)

	ev, err := m.Enter("BTCUSDT", models.Long, d(100), d(90), d(110))
	require.NoError(t, err)
	assert.Equal(t, models.EventEntry, ev.Type)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "BTCUSDT", ev.Symbol)

	pos, ok := m.Get("BTCUSDT")
	require.True(t, ok)
	assert.False(t, pos.HalfExit)
	assert.False(t, pos.MSSTriggered)
	assert.Nil(t, pos.ProtectiveLevel)
	assert.True(t, pos.Entry.Equal(d(100)))

	_, err = m.Enter("BTCUSDT", models.Long, d(100), d(90), d(110))
	assert.ErrorIs(t, err, ErrPositionExists)
}

func TestEnterRejectsInvalidLevels(t *testing.T) {
	tests := []struct {
		name          string
		dir           models.Direction
		entry, sl, tp float64
	}{
		{"long sl above entry", models.Long, 100, 101, 110},
		{"long tp below entry", models.Long, 100, 90, 99},
		{"long sl equals entry", models.Long, 100, 100, 110},
		{"short sl below entry", models.Short, 100, 99, 90},
		{"short tp above entry", models.Short, 100, 110, 101},
		{"unknown direction", "flat", 100, 90, 110},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(10)
			_, err := m.Enter("BTCUSDT", tt.dir, d(tt.entry), d(tt.sl), d(tt.tp))
			assert.ErrorIs(t, err, ErrInvalidLevels)
			_, ok := m.Get("BTCUSDT")
			assert.False(t, ok)
		})
	}
}

func TestUpdatePriceAbsentSymbolIsNoop(t *testing.T) {
	m := NewManager(10)
	assert.Nil(t, m.UpdatePrice("BTCUSDT", d(100), bullishBreak()))
	assert.Empty(t, m.Positions())

	openLong(t, m)
	_, ok := m.Close("BTCUSDT", d(100))
	require.True(t, ok)
	assert.Nil(t, m.UpdatePrice("BTCUSDT", d(50), bullishBreak()))
}

func TestStopLoss(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)

	assert.Empty(t, m.UpdatePrice("BTCUSDT", d(95), nil))

	events := m.UpdatePrice("BTCUSDT", d(89.5), nil)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventClosed, events[0].Type)
	assert.Equal(t, models.ExitStopLoss, events[0].Reason)

	_, ok := m.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestMSSSetsProtectiveLevel(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)

	events := m.UpdatePrice("BTCUSDT", d(101), bullishBreak())
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMSS, events[0].Type)

	pos, ok := m.Get("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.MSSTriggered)
	require.NotNil(t, pos.ProtectiveLevel)
	assert.True(t, pos.ProtectiveLevel.Equal(d(95)))

	// повторно MSS не ищется
	events = m.UpdatePrice("BTCUSDT", d(101), bullishBreak())
	assert.Empty(t, events)
}

func TestMSSEarlyStop(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)

	events := m.UpdatePrice("BTCUSDT", d(94.5), bullishBreak())
	require.Len(t, events, 2)
	assert.Equal(t, models.EventMSS, events[0].Type)
	assert.Equal(t, models.EventClosed, events[1].Type)
	assert.Equal(t, models.ExitEarlyStop, events[1].Reason)

	_, ok := m.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestMSSShortCircuitsTick(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)

	// цена выше TP, но на этом тике срабатывает только MSS
	events := m.UpdatePrice("BTCUSDT", d(106), bullishBreak())
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMSS, events[0].Type)

	pos, _ := m.Get("BTCUSDT")
	assert.False(t, pos.HalfExit)
}

func TestPartialThenProtectiveExit(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)

	require.Len(t, m.UpdatePrice("BTCUSDT", d(101), bullishBreak()), 1)

	events := m.UpdatePrice("BTCUSDT", d(106), nil)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventPartialExit, events[0].Type)
	assert.True(t, events[0].Position.HalfExit)

	// повторное достижение TP не дает второго события
	assert.Empty(t, m.UpdatePrice("BTCUSDT", d(107), nil))

	events = m.UpdatePrice("BTCUSDT", d(94), nil)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventClosed, events[0].Type)
	assert.Equal(t, models.ExitProtective, events[0].Reason)

	_, ok := m.Get("BTCUSDT")
	assert.False(t, ok)
	assert.Empty(t, m.UpdatePrice("BTCUSDT", d(94), nil))
}

func TestPartialWithoutProtectiveLevelHolds(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)

	require.Len(t, m.UpdatePrice("BTCUSDT", d(105), nil), 1)
	assert.Empty(t, m.UpdatePrice("BTCUSDT", d(94), nil))

	pos, ok := m.Get("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.HalfExit)
}

func TestShortPosition(t *testing.T) {
	m := NewManager(10)
	_, err := m.Enter("ETHUSDT", models.Short, d(100), d(110), d(95))
	require.NoError(t, err)

	bearishBreak := candletest.Series(
		[2]float64{103, 101},
		[2]float64{102, 100},
		[2]float64{101, 99},
	)
	events := m.UpdatePrice("ETHUSDT", d(99), bearishBreak)
	require.Len(t, events, 1)
	pos, _ := m.Get("ETHUSDT")
	require.NotNil(t, pos.ProtectiveLevel)
	assert.True(t, pos.ProtectiveLevel.Equal(d(103)))

	require.Len(t, m.UpdatePrice("ETHUSDT", d(95), nil), 1)

	events = m.UpdatePrice("ETHUSDT", d(103.5), nil)
	require.Len(t, events, 1)
	assert.Equal(t, models.ExitProtective, events[0].Reason)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)

	ev, ok := m.Close("BTCUSDT", d(101))
	require.True(t, ok)
	assert.Equal(t, models.EventClosed, ev.Type)
	assert.Equal(t, models.ExitManual, ev.Reason)

	_, ok = m.Close("BTCUSDT", d(101))
	assert.False(t, ok)
	_, ok = m.Close("UNKNOWN", d(1))
	assert.False(t, ok)
}

func TestSetStopLossOnlyTightens(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)

	assert.False(t, m.SetStopLoss("BTCUSDT", d(85)))
	assert.False(t, m.SetStopLoss("BTCUSDT", d(100)))
	assert.True(t, m.SetStopLoss("BTCUSDT", d(95)))

	pos, _ := m.Get("BTCUSDT")
	assert.True(t, pos.SL.Equal(d(95)))
	assert.False(t, m.SetStopLoss("UNKNOWN", d(1)))
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewManager(10)
	openLong(t, m)
	m.UpdatePrice("BTCUSDT", d(101), bullishBreak())

	pos, _ := m.Get("BTCUSDT")
	*pos.ProtectiveLevel = d(1)
	pos.SL = d(1)

	again, _ := m.Get("BTCUSDT")
	assert.True(t, again.ProtectiveLevel.Equal(d(95)))
	assert.True(t, again.SL.Equal(d(90)))
}

func TestConcurrentSymbols(t *testing.T) {
	m := NewManager(10)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		symbol := fmt.Sprintf("SYM%02dUSDT", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Enter(symbol, models.Long, d(100), d(90), d(105))
			assert.NoError(t, err)
			for p := 91; p < 105; p++ {
				m.UpdatePrice(symbol, d(float64(p)), nil)
				m.Positions()
			}
		}()
	}
	wg.Wait()

	positions := m.Positions()
	require.Len(t, positions, 16)
	for i := 1; i < len(positions); i++ {
		assert.Less(t, positions[i-1].Symbol, positions[i].Symbol)
	}
}
