package marketdata

import (
	"context"
	"time"

	"go.uber.org/zap"

	imetrics "github.com/amirlehmam/flashloan/internal/metrics"
)

// Run fans incoming ticks into the book. Ticks older than maxLatency are
// still recorded but flagged; the detector applies the hard gate.
func Run(ctx context.Context, in <-chan Tick, book *Book, maxLatency time.Duration, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			if t.Price <= 0 {
				log.Debug("dropping tick with no price",
					zap.String("asset", t.Asset),
					zap.String("source", t.Source),
				)
				continue
			}
			if lat := time.Since(t.At); maxLatency > 0 && lat > maxLatency {
				log.Warn("high feed latency",
					zap.String("asset", t.Asset),
					zap.String("source", t.Source),
					zap.Duration("latency", lat),
				)
			}
			book.Update(t)
			imetrics.TicksIngested.WithLabelValues(t.Source).Inc()
		}
	}
}
