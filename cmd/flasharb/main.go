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
	"go.uber.org/zap/zapcore"

	"github.com/amirlehmam/flashloan/internal/chain"
	"github.com/amirlehmam/flashloan/internal/config"
	"github.com/amirlehmam/flashloan/internal/connectors/cex/binance"
	"github.com/amirlehmam/flashloan/internal/connectors/cex/coinbase"
	"github.com/amirlehmam/flashloan/internal/connectors/cex/kraken"
	"github.com/amirlehmam/flashloan/internal/connectors/redisfeed"
	"github.com/amirlehmam/flashloan/internal/detector"
	"github.com/amirlehmam/flashloan/internal/marketdata"
	"github.com/amirlehmam/flashloan/internal/metrics"
	"github.com/amirlehmam/flashloan/internal/trigger"
)

func newLogger() (*zap.Logger, error) {
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zap.InfoLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.RFC3339TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build()
}

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
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

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, logger)

	ec, err := ethclient.Dial(cfg.Chain.RPCHTTP)
	if err != nil {
		logger.Fatal("rpc dial failed", zap.Error(err))
	}
	quoter, err := chain.NewRouterQuoter(ec)
	if err != nil {
		logger.Fatal("quoter init failed", zap.Error(err))
	}

	ticks := make(chan marketdata.Tick, 1024)
	book := marketdata.NewBook(cfg.Risk.HistoryWindow)

	ws := binance.NewWS(cfg.Feeds.BinanceWsURL, logger)
	go ws.Stream(ctx, []string{cfg.Pair}, ticks)

	if product := cfg.Feeds.Coinbase.Product; product != "" {
		cb := coinbase.NewWS(cfg.Feeds.Coinbase.WsURL, map[string]string{product: cfg.Pair}, logger)
		go cb.Stream(ctx, ticks)
	}
	if pair := cfg.Feeds.Kraken.Pair; pair != "" {
		kr := kraken.NewWS(cfg.Feeds.Kraken.WsURL, map[string]string{pair: cfg.Pair}, logger)
		go kr.Stream(ctx, ticks)
	}

	if cfg.Feeds.Chainlink.Feed != "" {
		feed, err := chain.NewChainlinkFeed(ctx, ec, common.HexToAddress(cfg.Feeds.Chainlink.Feed), cfg.Pair, logger)
		if err != nil {
			logger.Fatal("chainlink feed init failed", zap.Error(err))
		}
		go feed.Run(ctx, time.Duration(cfg.Feeds.Chainlink.PollSec)*time.Second, ticks)
	}

	if cfg.Redis.Addr != "" {
		pub := redisfeed.NewPublisher(cfg)
		fanout := make(chan marketdata.Tick, 1024)
		src := ticks
		ticks = fanout
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-src:
					if err := pub.PublishTick(ctx, t); err != nil {
						logger.Debug("tick publish failed", zap.Error(err))
					}
					fanout <- t
				}
			}
		}()
	}

	maxLatency := time.Duration(cfg.Risk.MaxLatencySec * float64(time.Second))
	go marketdata.Run(ctx, ticks, book, maxLatency, logger)

	signals := make(chan detector.Signal, 64)
	go detector.Run(ctx, cfg, book, quoter, signals, logger)

	minProfit, err := cfg.MinProfit()
	if err != nil {
		logger.Fatal("bad risk config", zap.Error(err))
	}
	gate := trigger.NewGate(minProfit, int64(cfg.Risk.MinROIBps))

	var sender trigger.Sender
	if !cfg.DryRun {
		sender, err = chain.NewExecutor(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("executor init failed", zap.Error(err))
		}
	} else {
		logger.Warn("DRY-RUN: no transactions will be sent")
	}

	trigger.Run(ctx, gate, sender, signals, cfg.DryRun, logger)
}
