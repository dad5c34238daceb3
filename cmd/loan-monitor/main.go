package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/chain"
	"github.com/amirlehmam/flashloan/internal/config"
	"github.com/amirlehmam/flashloan/internal/connectors/redisfeed"
	"github.com/amirlehmam/flashloan/internal/monitor"
)

// loan-monitor tails the agent's audit trail from two sides: redis audit
// stream records emitted by the process and ArbitrageExecuted logs scraped
// from the chain. Both land in one store behind a small dashboard.
func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	group := flag.String("group", "loan-monitor", "redis consumer group")
	name := flag.String("consumer", "monitor-1", "redis consumer name")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Warn("signal received, shutting down...")
		cancel()
	}()

	store := monitor.NewStore(500)

	if cfg.Redis.Addr != "" {
		consumer := redisfeed.NewConsumer(cfg)
		if err := consumer.EnsureGroup(ctx, *group); err != nil {
			logger.Fatal("consumer group setup failed", zap.Error(err))
		}
		records := make(chan redisfeed.AuditRecord, 256)
		go func() {
			if err := consumer.ConsumeAudit(ctx, *group, *name, records); err != nil && ctx.Err() == nil {
				logger.Error("audit consumer stopped", zap.Error(err))
			}
		}()
		go monitor.RunAudit(ctx, records, store, logger)
	} else {
		logger.Warn("redis disabled: audit stream not consumed")
	}

	if cfg.Chain.RPCHTTP != "" && cfg.Chain.AgentAddress != "" {
		ec, err := ethclient.Dial(cfg.Chain.RPCHTTP)
		if err != nil {
			logger.Fatal("rpc dial failed", zap.Error(err))
		}
		watcher, err := chain.NewWatcher(ec, common.HexToAddress(cfg.Chain.AgentAddress), logger)
		if err != nil {
			logger.Fatal("watcher init failed", zap.Error(err))
		}
		execs := make(chan chain.ExecutionLog, 64)
		go watcher.Run(ctx, time.Duration(cfg.Monitor.PollSec)*time.Second, execs)
		go monitor.RunChain(ctx, execs, store, logger)
	} else {
		logger.Warn("chain watcher disabled: rpc or agent address missing")
	}

	monitor.StartHTTP(ctx, store, cfg.Monitor.ListenAddr, logger)
}
