package binance

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

// WS streams book-ticker frames for a set of symbols and normalizes them
// into marketdata ticks (price = mid, volume = top-of-book depth).
type WS struct {
	URL    string
	Dialer *websocket.Dialer
	log    *zap.Logger

	readWait time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWS(url string, log *zap.Logger) *WS {
	return &WS{
		URL: strings.TrimRight(url, "/"),
		Dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
		},
		log:      log,
		readWait: 90 * time.Second,
	}
}

type bookTickerFrame struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	BidQty string `json:"B"`
	Ask    string `json:"a"`
	AskQty string `json:"A"`
}

func (w *WS) connect(ctx context.Context, symbols []string) error {
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
	// Binance pings the client; answer and keep the deadline moving.
	c.SetPingHandler(func(data string) error {
		_ = c.SetReadDeadline(time.Now().Add(w.readWait))
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, strings.ToLower(s)+"@bookTicker")
	}
	sub := struct {
		ID     int      `json:"id"`
		Method string   `json:"method"`
		Params []string `json:"params"`
	}{ID: 1, Method: "SUBSCRIBE", Params: params}
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

// Stream keeps a subscription alive until the context ends, reconnecting
// with backoff after read failures.
func (w *WS) Stream(ctx context.Context, symbols []string, out chan<- marketdata.Tick) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.connect(ctx, symbols); err != nil {
			w.log.Warn("binance ws connect failed", zap.Error(err))
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
			w.log.Warn("binance ws read failed", zap.Error(err))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(w.readWait))
		var f bookTickerFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.Symbol == "" {
			continue // subscription acks and unknown frames
		}
		tick, ok := normalize(f)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		default:
			w.log.Warn("tick channel full; dropping binance frame")
		}
	}
}

func normalize(f bookTickerFrame) (marketdata.Tick, bool) {
	bid, err1 := strconv.ParseFloat(f.Bid, 64)
	ask, err2 := strconv.ParseFloat(f.Ask, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		return marketdata.Tick{}, false
	}
	bidQty, _ := strconv.ParseFloat(f.BidQty, 64)
	askQty, _ := strconv.ParseFloat(f.AskQty, 64)
	vol := bidQty
	if askQty < vol {
		vol = askQty
	}
	return marketdata.Tick{
		Asset:  strings.ToUpper(f.Symbol),
		Source: "binance",
		Price:  0.5 * (bid + ask),
		Volume: vol,
		At:     time.Now(),
	}, true
}
