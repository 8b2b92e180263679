package candles

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/smcbot/internal/candletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePushEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		require.True(t, s.Push("BTCUSDT", "1m", candletest.HL(i, float64(10+i), float64(i))))
	}

	snap := s.Snapshot("BTCUSDT", "1m")
	require.Len(t, snap, 3)
	assert.Equal(t, candletest.Start.Add(2*time.Minute), snap[0].Time)
	assert.True(t, snap[2].High.Equal(candletest.D(14)))
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore(5)
	s.Push("BTCUSDT", "1m", candletest.HL(0, 10, 5))

	snap := s.Snapshot("BTCUSDT", "1m")
	snap[0].High = candletest.D(999)

	again := s.Snapshot("BTCUSDT", "1m")
	assert.True(t, again[0].High.Equal(candletest.D(10)))
}

func TestStoreReplacesSameTimeAndDropsOlder(t *testing.T) {
	s := NewStore(5)
	s.Push("BTCUSDT", "1m", candletest.HL(1, 10, 5))

	assert.True(t, s.Push("BTCUSDT", "1m", candletest.HL(1, 12, 5)))
	assert.False(t, s.Push("BTCUSDT", "1m", candletest.HL(0, 8, 1)))

	snap := s.Snapshot("BTCUSDT", "1m")
	require.Len(t, snap, 1)
	assert.True(t, snap[0].High.Equal(candletest.D(12)))
}

func TestStorePushManySorts(t *testing.T) {
	s := NewStore(10)
	n := s.PushMany("ETHUSDT", "15m", nil)
	assert.Zero(t, n)

	bars := candletest.Trend(4, 100, 1)
	bars[0], bars[3] = bars[3], bars[0]
	n = s.PushMany("ETHUSDT", "15m", bars)
	assert.Equal(t, 4, n)

	snap := s.Snapshot("ETHUSDT", "15m")
	for i := 1; i < len(snap); i++ {
		assert.True(t, snap[i-1].Time.Before(snap[i].Time))
	}
}

func TestStoreMissingWindow(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, DefaultCapacity, s.Capacity())
	assert.Empty(t, s.Snapshot("NOPE", "1m"))
	_, ok := s.Last("NOPE", "1m")
	assert.False(t, ok)
	assert.Zero(t, s.Len("NOPE", "1m"))
}

func TestStoreConcurrentWritersAndReaders(t *testing.T) {
	s := NewStore(50)
	var wg sync.WaitGroup

	for sym := 0; sym < 4; sym++ {
		symbol := fmt.Sprintf("SYM%d", sym)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Push(symbol, "1m", candletest.HL(i, float64(i+1), float64(i)))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := s.Snapshot(symbol, "1m")
				for j := 1; j < len(snap); j++ {
					if !snap[j-1].Time.Before(snap[j].Time) {
						t.Errorf("torn snapshot for %s", symbol)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Keys(), 4)
	for _, k := range s.Keys() {
		assert.Equal(t, 50, s.Len(k.Symbol, k.Timeframe))
	}
}
