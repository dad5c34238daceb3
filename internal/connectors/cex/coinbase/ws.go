// Package coinbase streams ticker frames from the Coinbase exchange websocket
// feed and normalizes them into market ticks.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/marketdata"
)

// WS holds one ticker subscription to the Coinbase feed. assets maps a
// Coinbase product id ("ETH-USD") to the book's asset label ("ETHUSDT").
type WS struct {
	URL    string
	Dialer *websocket.Dialer
	log    *zap.Logger
	assets map[string]string

	readWait time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWS(url string, assets map[string]string, log *zap.Logger) *WS {
	return &WS{
		URL: strings.TrimRight(url, "/"),
		Dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
		},
		log:      log,
		assets:   assets,
		readWait: 90 * time.Second,
	}
}

// tickerFrame is the "ticker" channel message. Price is the last trade,
// Volume24h the rolling product volume.
type tickerFrame struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Volume24h string `json:"volume_24h"`
}

type subChannel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

func (w *WS) connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}
	c, _, err := w.Dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return err
	}
	w.conn = c

	_ = c.SetReadDeadline(time.Now().Add(w.readWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(w.readWait))
	})
	c.SetPingHandler(func(data string) error {
		_ = c.SetReadDeadline(time.Now().Add(w.readWait))
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	products := make([]string, 0, len(w.assets))
	for p := range w.assets {
		products = append(products, p)
	}
	sub := struct {
		Type     string       `json:"type"`
		Channels []subChannel `json:"channels"`
	}{Type: "subscribe", Channels: []subChannel{{Name: "ticker", ProductIDs: products}}}
	if err := w.conn.WriteJSON(sub); err != nil {
		w.closeLocked()
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (w *WS) closeLocked() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

func (w *WS) Close() {
	w.mu.Lock()
	w.closeLocked()
	w.mu.Unlock()
}

// Stream keeps the subscription alive until the context ends, reconnecting
// with backoff after read failures.
func (w *WS) Stream(ctx context.Context, out chan<- marketdata.Tick) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.connect(ctx); err != nil {
			w.log.Warn("coinbase ws connect failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		w.readLoop(ctx, out)
		w.Close()
	}
}

func (w *WS) readLoop(ctx context.Context, out chan<- marketdata.Tick) {
	for {
		if ctx.Err() != nil {
			return
		}
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.log.Warn("coinbase ws read failed", zap.Error(err))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(w.readWait))
		var f tickerFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.Type != "ticker" {
			continue // subscription acks, heartbeats and unknown frames
		}
		tick, ok := w.normalize(f)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		default:
			w.log.Warn("tick channel full; dropping coinbase frame")
		}
	}
}

func (w *WS) normalize(f tickerFrame) (marketdata.Tick, bool) {
	asset, ok := w.assets[f.ProductID]
	if !ok {
		return marketdata.Tick{}, false
	}
	price, err := strconv.ParseFloat(f.Price, 64)
	if err != nil || price <= 0 {
		return marketdata.Tick{}, false
	}
	volume, _ := strconv.ParseFloat(f.Volume24h, 64)
	return marketdata.Tick{
		Asset:  asset,
		Source: "coinbase",
		Price:  price,
		Volume: volume,
		At:     time.Now(),
	}, true
}
