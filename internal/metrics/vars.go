package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	LoansInitiated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_loans_initiated_total",
		Help: "Flash loan requests forwarded to the lending pool",
	})

	TradesExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_trades_executed_total",
		Help: "Arbitrage cycles that repaid the loan with profit",
	})

	TradeAborts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_trade_aborts_total",
		Help: "Aborted loan attempts by reason",
	}, []string{"reason"})

	LastProfitWei = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_last_profit_wei",
		Help: "Profit of the most recent executed cycle (wei)",
	})

	TicksIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_ticks_ingested_total",
		Help: "Normalized market-data ticks by source",
	}, []string{"source"})

	SignalsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_signals_total",
		Help: "Trade signals emitted by the detector",
	})

	QuoteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_quote_errors_total",
		Help: "Round-trip quote failures",
	})

	QuoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_quote_latency_seconds",
		Help:    "Time to obtain a round-trip DEX quote",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		LoansInitiated,
		TradesExecuted,
		TradeAborts,
		LastProfitWei,
		TicksIngested,
		SignalsEmitted,
		QuoteErrors,
		QuoteLatency,
	)
}
