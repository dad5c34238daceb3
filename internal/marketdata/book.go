package marketdata

import (
	"math"
	"sync"
	"time"
)

// Tick is one normalized market-data point from any source (exchange
// websocket, chainlink round, redis replay).
type Tick struct {
	Asset  string    `json:"asset"`
	Source string    `json:"source"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	At     time.Time `json:"at"`
}

// Book keeps the latest tick per (asset, source) plus a bounded price
// history per asset for volatility checks.
type Book struct {
	mu      sync.RWMutex
	latest  map[string]map[string]Tick
	history map[string][]float64
	window  int
}

func NewBook(window int) *Book {
	if window <= 0 {
		window = 10
	}
	return &Book{
		latest:  make(map[string]map[string]Tick),
		history: make(map[string][]float64),
		window:  window,
	}
}

func (b *Book) Update(t Tick) {
	if t.Asset == "" || t.Source == "" || t.Price <= 0 {
		return
	}
	b.mu.Lock()
	bySource := b.latest[t.Asset]
	if bySource == nil {
		bySource = make(map[string]Tick, 4)
		b.latest[t.Asset] = bySource
	}
	bySource[t.Source] = t

	hist := append(b.history[t.Asset], t.Price)
	if len(hist) > b.window {
		hist = hist[len(hist)-b.window:]
	}
	b.history[t.Asset] = hist
	b.mu.Unlock()
}

// Latest returns a copy of the per-source ticks for an asset.
func (b *Book) Latest(asset string) map[string]Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.latest[asset]
	out := make(map[string]Tick, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// SMA is the simple moving average over the retained history window.
func (b *Book) SMA(asset string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hist := b.history[asset]
	if len(hist) == 0 {
		return 0
	}
	var sum float64
	for _, p := range hist {
		sum += p
	}
	return sum / float64(len(hist))
}

// Volatility is the sample standard deviation of the retained history.
func (b *Book) Volatility(asset string) float64 {
	b.mu.RLock()
	hist := append([]float64(nil), b.history[asset]...)
	b.mu.RUnlock()
	if len(hist) < 2 {
		return 0
	}
	var sum float64
	for _, p := range hist {
		sum += p
	}
	mean := sum / float64(len(hist))
	var ss float64
	for _, p := range hist {
		d := p - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(hist)-1))
}
