// Package kraken streams ticker frames from the Kraken public websocket and
// normalizes them into market ticks.
package kraken

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

// WS holds one ticker subscription to the Kraken feed. assets maps a Kraken
// pair name ("ETH/USD") to the book's asset label ("ETHUSDT").
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

	pairs := make([]string, 0, len(w.assets))
	for p := range w.assets {
		pairs = append(pairs, p)
	}
	sub := struct {
		Event        string   `json:"event"`
		Pair         []string `json:"pair"`
		Subscription struct {
			Name string `json:"name"`
		} `json:"subscription"`
	}{Event: "subscribe", Pair: pairs}
	sub.Subscription.Name = "ticker"
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
			w.log.Warn("kraken ws connect failed", zap.Error(err))
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
			w.log.Warn("kraken ws read failed", zap.Error(err))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(w.readWait))
		tick, ok := w.normalize(msg)
		if !ok {
			continue // heartbeats, subscription status and unknown frames
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		default:
			w.log.Warn("tick channel full; dropping kraken frame")
		}
	}
}

// normalize parses a channel update. Kraken sends data as arrays
// [channelID, ticker, "ticker", pair]; objects are events and heartbeats.
// The ticker's c holds [last price, lot volume], v the [today, 24h] volume.
func (w *WS) normalize(msg []byte) (marketdata.Tick, bool) {
	var parts []json.RawMessage
	if err := json.Unmarshal(msg, &parts); err != nil || len(parts) < 4 {
		return marketdata.Tick{}, false
	}
	var pair string
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return marketdata.Tick{}, false
	}
	asset, ok := w.assets[pair]
	if !ok {
		return marketdata.Tick{}, false
	}
	var ticker struct {
		C []string `json:"c"`
		V []string `json:"v"`
	}
	if err := json.Unmarshal(parts[1], &ticker); err != nil || len(ticker.C) == 0 {
		return marketdata.Tick{}, false
	}
	price, err := strconv.ParseFloat(ticker.C[0], 64)
	if err != nil || price <= 0 {
		return marketdata.Tick{}, false
	}
	var volume float64
	if len(ticker.V) > 0 {
		volume, _ = strconv.ParseFloat(ticker.V[0], 64)
	}
	return marketdata.Tick{
		Asset:  asset,
		Source: "kraken",
		Price:  price,
		Volume: volume,
		At:     time.Now(),
	}, true
}
