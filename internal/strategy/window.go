package strategy

import (
	"math"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// WindowCapacity is the number of mid prices retained per symbol.
const WindowCapacity = 100

// priceWindows keeps a bounded FIFO of mid prices for each symbol. It is not
// safe for concurrent use; strategies guard it with their own mutex.
type priceWindows struct {
	capacity int
	history  map[domain.Symbol][]float64
}

func newPriceWindows(capacity int) *priceWindows {
	return &priceWindows{
		capacity: capacity,
		history:  make(map[domain.Symbol][]float64),
	}
}

// push appends price and evicts the oldest point once capacity is reached.
// The returned slice is only valid until the next push.
func (w *priceWindows) push(sym domain.Symbol, price float64) []float64 {
	h := w.history[sym]
	if len(h) == w.capacity {
		copy(h, h[1:])
		h[len(h)-1] = price
	} else {
		h = append(h, price)
	}
	w.history[sym] = h
	return h
}

func (w *priceWindows) len(sym domain.Symbol) int {
	return len(w.history[sym])
}

func (w *priceWindows) reset() {
	clear(w.history)
}

// tail returns the last n points of h.
func tail(h []float64, n int) []float64 {
	if n > len(h) {
		n = len(h)
	}
	return h[len(h)-n:]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// populationStdDev returns the population standard deviation of xs around m.
func populationStdDev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var variance float64
	for _, x := range xs {
		d := x - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
