package candles

import (
	"sync"

	"github.com/skalibog/smcbot/pkg/models"
)

// window кольцевой буфер свечей фиксированной ёмкости.
// Все методы потокобезопасны; наружу отдаются только копии.
type window struct {
	mu     sync.RWMutex
	buf    []models.Candle
	start  int
	length int
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = 1
	}
	return &window{buf: make([]models.Candle, capacity)}
}

// push добавляет свечу. Свеча с тем же временем, что и последняя,
// заменяет её; более старая отбрасывается.
func (w *window) push(c models.Candle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.length > 0 {
		lastIdx := (w.start + w.length - 1) % len(w.buf)
		last := w.buf[lastIdx].Time
		switch {
		case c.Time.Equal(last):
			w.buf[lastIdx] = c
			return true
		case c.Time.Before(last):
			return false
		}
	}

	if w.length < len(w.buf) {
		w.buf[(w.start+w.length)%len(w.buf)] = c
		w.length++
		return true
	}
	// перезаписываем самую старую
	w.buf[w.start] = c
	w.start = (w.start + 1) % len(w.buf)
	return true
}

func (w *window) snapshot() []models.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.Candle, w.length)
	for i := 0; i < w.length; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *window) last() (models.Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.length == 0 {
		return models.Candle{}, false
	}
	return w.buf[(w.start+w.length-1)%len(w.buf)], true
}

func (w *window) size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.length
}
