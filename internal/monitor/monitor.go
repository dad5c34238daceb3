// Package monitor is the read-only execution dashboard: it tails audit
// events (redis stream or on-chain logs) and serves the collected rows over
// HTTP. It holds no core logic and can lag or die without affecting trades.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/chain"
	"github.com/amirlehmam/flashloan/internal/connectors/redisfeed"
)

// Row is one recorded audit entry.
type Row struct {
	Event  string            `json:"event"`
	Fields map[string]string `json:"fields"`
	SeenAt time.Time         `json:"seenAt"`
}

type Store struct {
	mu   sync.RWMutex
	rows []Row
	max  int
}

func NewStore(max int) *Store {
	if max <= 0 {
		max = 1000
	}
	return &Store{max: max}
}

func (s *Store) Add(r Row) {
	s.mu.Lock()
	s.rows = append(s.rows, r)
	if len(s.rows) > s.max {
		s.rows = s.rows[len(s.rows)-s.max:]
	}
	s.mu.Unlock()
}

func (s *Store) List() []Row {
	s.mu.RLock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SeenAt.After(out[j].SeenAt) })
	return out
}

// RunAudit feeds the store from the redis audit stream.
func RunAudit(ctx context.Context, in <-chan redisfeed.AuditRecord, store *Store, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			store.Add(Row{Event: rec.Event, Fields: rec.Fields, SeenAt: time.Now()})
			log.Info("audit event", zap.String("event", rec.Event))
		}
	}
}

// RunChain feeds the store from decoded on-chain executions.
func RunChain(ctx context.Context, in <-chan chain.ExecutionLog, store *Store, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-in:
			if !ok {
				return
			}
			store.Add(Row{
				Event: "ArbitrageExecuted",
				Fields: map[string]string{
					"initiator": l.Initiator.Hex(),
					"profit":    l.Profit.String(),
					"tx":        l.TxHash.Hex(),
					"block":     fmt.Sprintf("%d", l.Block),
				},
				SeenAt: l.At,
			})
			log.Info("on-chain execution",
				zap.String("tx", l.TxHash.Hex()),
				zap.String("profit", l.Profit.String()),
			)
		}
	}
}

// StartHTTP serves the dashboard until ctx ends.
func StartHTTP(ctx context.Context, store *Store, addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/executions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(store.List())
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { <-ctx.Done(); _ = srv.Close() }()

	log.Info("monitor dashboard listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !strings.Contains(err.Error(), "Server closed") {
		log.Error("monitor http server error", zap.Error(err))
	}
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <title>Flash Loan Audit</title>
  <style>
    body{margin:0;background:#f8fafc;font:14px/1.4 ui-sans-serif,system-ui;color:#111827;}
    .wrap{max-width:960px;margin:24px auto;padding:0 16px;}
    table{width:100%;border-collapse:collapse;background:#fff;border-radius:12px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);}
    thead{background:#f3f4f6;} th,td{padding:10px 12px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    .chip{display:inline-block;font-size:12px;padding:2px 8px;background:#e5e7eb;border-radius:999px;}
  </style>
</head>
<body>
<div class="wrap">
  <h1 style="font-size:20px">Flash Loan Audit Trail</h1>
  <table>
    <thead><tr><th>Event</th><th>Details</th><th style="text-align:right">Seen</th></tr></thead>
    <tbody id="rows"></tbody>
  </table>
</div>
<script>
  function rowHTML(r){
    var det = Object.entries(r.fields||{}).map(function(kv){return kv[0]+'='+kv[1];}).join(' ');
    return '<tr><td><span class="chip">'+r.event+'</span></td><td>'+det+'</td>'
      + '<td style="text-align:right;color:#6B7280;font-size:12px">'+new Date(r.seenAt).toLocaleTimeString()+'</td></tr>';
  }
  async function tick(){
    try{
      var res = await fetch('/api/executions', {cache:'no-store'});
      var data = await res.json();
      document.getElementById('rows').innerHTML = data.map(rowHTML).join('');
    }catch(e){}
  }
  tick(); setInterval(tick, 2000);
</script>
</body>
</html>`
