package main

import (
	"context"
	"flag"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/chain"
	"github.com/amirlehmam/flashloan/internal/config"
	"github.com/amirlehmam/flashloan/internal/flashloan"
)

// flash-trigger fires a single flash loan with operator-supplied route
// parameters, bypassing the detector. Useful for smoke-testing a freshly
// deployed agent and for manual replays.
func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	borrowStr := flag.String("borrow", "", "loan size in wei (default: trade.borrow_wei)")
	minOutStr := flag.String("min-out", "0", "minimum final output in wei, borrow+premium+profit floor")
	pathA := flag.String("path-a", "", "comma-separated leg A path (default: assets.borrow,assets.intermediate)")
	pathB := flag.String("path-b", "", "comma-separated leg B path (default: reverse of leg A)")
	deadlineSec := flag.Int64("deadline-sec", 0, "seconds until the unit times out (default: trade.deadline_sec)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	borrow, err := cfg.BorrowAmount()
	if err != nil {
		logger.Fatal("bad trade config", zap.Error(err))
	}
	if *borrowStr != "" {
		var ok bool
		borrow, ok = new(big.Int).SetString(*borrowStr, 10)
		if !ok || borrow.Sign() <= 0 {
			logger.Fatal("invalid -borrow", zap.String("value", *borrowStr))
		}
	}
	minOut, ok := new(big.Int).SetString(*minOutStr, 10)
	if !ok || minOut.Sign() < 0 {
		logger.Fatal("invalid -min-out", zap.String("value", *minOutStr))
	}
	ttl := int64(cfg.Trade.DeadlineSec)
	if *deadlineSec > 0 {
		ttl = *deadlineSec
	}

	legA := parsePath(*pathA)
	if legA == nil {
		legA = []common.Address{
			common.HexToAddress(cfg.Assets.Borrow),
			common.HexToAddress(cfg.Assets.Intermediate),
		}
	}
	legB := parsePath(*pathB)
	if legB == nil {
		legB = reversed(legA)
	}

	params := flashloan.ArbitrageParams{
		VenueA:         common.HexToAddress(cfg.Venues.RouterA),
		VenueB:         common.HexToAddress(cfg.Venues.RouterB),
		MinFinalOutput: minOut,
		Deadline:       big.NewInt(time.Now().Unix() + ttl),
		PathA:          legA,
		PathB:          legB,
	}
	payload, err := params.Encode()
	if err != nil {
		logger.Fatal("encode params", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	exec, err := chain.NewExecutor(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("executor init failed", zap.Error(err))
	}
	ref, err := exec.TriggerLoan(ctx, []common.Address{legA[0]}, []*big.Int{borrow}, payload)
	if err != nil {
		logger.Fatal("flash loan trigger failed", zap.Error(err))
	}
	logger.Info("flash loan tx submitted",
		zap.String("tx", ref),
		zap.String("borrow", borrow.String()),
		zap.String("min_final_output", minOut.String()),
	)
}

func parsePath(s string) []common.Address {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]common.Address, 0, len(parts))
	for _, p := range parts {
		out = append(out, common.HexToAddress(strings.TrimSpace(p)))
	}
	return out
}

func reversed(path []common.Address) []common.Address {
	out := make([]common.Address, len(path))
	for i, a := range path {
		out[len(path)-1-i] = a
	}
	return out
}
