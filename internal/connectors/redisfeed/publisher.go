// Package redisfeed carries normalized ticks and audit events over redis
// streams so the monitor and any backtester can consume them out of process.
package redisfeed

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/amirlehmam/flashloan/internal/config"
	"github.com/amirlehmam/flashloan/internal/flashloan"
	"github.com/amirlehmam/flashloan/internal/marketdata"
)

type Publisher struct {
	rdb         *redis.Client
	tickStream  string
	auditStream string
}

func NewPublisher(cfg *config.Config) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Publisher{
		rdb:         rdb,
		tickStream:  cfg.Redis.TickStream,
		auditStream: cfg.Redis.AuditStream,
	}
}

func (p *Publisher) PublishTick(ctx context.Context, t marketdata.Tick) error {
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.tickStream,
		Values: map[string]interface{}{
			"asset":  t.Asset,
			"source": t.Source,
			"price":  strconv.FormatFloat(t.Price, 'f', -1, 64),
			"volume": strconv.FormatFloat(t.Volume, 'f', -1, 64),
			"ts_ms":  t.At.UnixMilli(),
		},
	}).Err()
}

// Emit implements flashloan.Sink, appending audit events to the audit
// stream. Errors are swallowed on purpose: a slow or absent redis must not
// fail the trade path.
func (p *Publisher) Emit(ctx context.Context, ev flashloan.Event) {
	_ = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.auditStream,
		Values: eventFields(ev),
	}).Err()
}

func eventFields(ev flashloan.Event) map[string]interface{} {
	fields := map[string]interface{}{
		"event": ev.EventName(),
		"ts_ms": time.Now().UnixMilli(),
	}
	switch e := ev.(type) {
	case flashloan.LoanInitiated:
		fields["assets"] = joinAddrs(e.Assets)
		fields["amounts"] = joinBig(e.Amounts)
	case flashloan.ArbitrageExecuted:
		fields["initiator"] = e.Initiator.Hex()
		fields["premiums"] = joinBig(e.Premiums)
		fields["profit"] = e.Profit.String()
	case flashloan.Withdrawal:
		fields["asset"] = e.Asset.Hex()
		fields["amount"] = e.Amount.String()
	case flashloan.HaltedSet:
		fields["halted"] = strconv.FormatBool(e.Halted)
	case flashloan.MinProfitSet:
		fields["min_profit"] = e.MinProfit.String()
	}
	return fields
}

func joinBig(vals []*big.Int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

func joinAddrs(addrs []common.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.Hex()
	}
	return strings.Join(parts, ",")
}
