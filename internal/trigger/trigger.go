package trigger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/detector"
)

// Sender fires the borrow request: on-chain (signed executeFlashLoan tx) or
// in-process against a local agent.
type Sender interface {
	TriggerLoan(ctx context.Context, assets []common.Address, amounts []*big.Int, payload []byte) (ref string, err error)
}

// Run consumes detector signals, applies the off-chain risk gate and fires
// the loan. A failed attempt costs only the attempt itself; retrying with
// fresher parameters is the next signal's job.
func Run(ctx context.Context, gate *Gate, sender Sender, in <-chan detector.Signal, dryRun bool, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-in:
			if !gate.Allow(sig.ExpectedProfit, sig.Borrow) {
				log.Debug("signal rejected by risk gate",
					zap.String("expected_profit", sig.ExpectedProfit.String()),
				)
				continue
			}
			payload, err := sig.Params.Encode()
			if err != nil {
				log.Error("encode params", zap.Error(err))
				continue
			}
			if dryRun {
				log.Info("DRY-RUN: would trigger flash loan",
					zap.String("asset", sig.Asset.Hex()),
					zap.String("borrow", sig.Borrow.String()),
					zap.String("expected_profit", sig.ExpectedProfit.String()),
				)
				continue
			}
			ref, err := sender.TriggerLoan(ctx, []common.Address{sig.Asset}, []*big.Int{sig.Borrow}, payload)
			if err != nil {
				log.Error("flash loan trigger failed", zap.Error(err))
				continue
			}
			log.Info("flash loan triggered",
				zap.String("ref", ref),
				zap.String("borrow", sig.Borrow.String()),
				zap.String("expected_profit", sig.ExpectedProfit.String()),
			)
		}
	}
}
