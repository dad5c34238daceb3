package detector

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/config"
	"github.com/amirlehmam/flashloan/internal/flashloan"
	"github.com/amirlehmam/flashloan/internal/marketdata"
	imetrics "github.com/amirlehmam/flashloan/internal/metrics"
)

// Quoter quotes an exact-input path on a venue without executing it.
type Quoter interface {
	AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// Signal is a fully parameterized trade the trigger can fire as-is.
type Signal struct {
	Asset          common.Address
	Borrow         *big.Int
	ExpectedProfit *big.Int
	Spread         float64
	Params         flashloan.ArbitrageParams
	Ts             time.Time
}

// Run scans the book on a fixed tick. A cross-source spread wide enough to
// clear the volatility gate is only a hint; the decision to signal comes
// from a concrete round-trip quote through both venues.
func Run(ctx context.Context, cfg *config.Config, book *marketdata.Book, quoter Quoter, out chan<- Signal, log *zap.Logger) {
	borrow, err := cfg.BorrowAmount()
	if err != nil {
		log.Error("detector disabled", zap.Error(err))
		return
	}
	minProfit, err := cfg.MinProfit()
	if err != nil {
		log.Error("detector disabled", zap.Error(err))
		return
	}

	asset := common.HexToAddress(cfg.Assets.Borrow)
	inter := common.HexToAddress(cfg.Assets.Intermediate)
	routerA := common.HexToAddress(cfg.Venues.RouterA)
	routerB := common.HexToAddress(cfg.Venues.RouterB)
	pathA := []common.Address{asset, inter}
	pathB := []common.Address{inter, asset}

	t := time.NewTicker(cfg.DetectorTick())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			spread, ok := widestSpread(cfg, book)
			if !ok {
				continue
			}
			if spread < cfg.Risk.SpreadThreshold {
				continue
			}
			if vol := book.Volatility(cfg.Pair); vol > 0 {
				sma := book.SMA(cfg.Pair)
				if sma > 0 && spread < cfg.Risk.VolatilityFactor*(vol/sma)*100 {
					log.Debug("spread within volatility noise",
						zap.Float64("spread_pct", spread),
						zap.Float64("volatility", vol),
					)
					continue
				}
			}

			sig, err := quoteRoundTrip(ctx, quoter, cfg, routerA, routerB, pathA, pathB, asset, borrow, minProfit)
			if err != nil {
				imetrics.QuoteErrors.Inc()
				log.Warn("round-trip quote failed", zap.Error(err))
				continue
			}
			if sig == nil {
				continue
			}
			sig.Spread = spread
			imetrics.SignalsEmitted.Inc()
			log.Info("arbitrage signal",
				zap.Float64("spread_pct", spread),
				zap.String("expected_profit", sig.ExpectedProfit.String()),
			)
			select {
			case out <- *sig:
			default:
				log.Warn("signal channel full; dropping")
			}
		}
	}
}

// widestSpread finds the widest percentage spread between any two fresh,
// sufficiently traded sources for the configured pair.
func widestSpread(cfg *config.Config, book *marketdata.Book) (float64, bool) {
	ticks := book.Latest(cfg.Pair)
	if len(ticks) < 2 {
		return 0, false
	}
	maxLatency := time.Duration(cfg.Risk.MaxLatencySec * float64(time.Second))

	var lo, hi float64
	valid := 0
	for _, t := range ticks {
		if t.Volume < cfg.Risk.MinVolume && t.Volume != 0 {
			continue
		}
		if maxLatency > 0 && time.Since(t.At) > maxLatency {
			continue
		}
		if valid == 0 || t.Price < lo {
			lo = t.Price
		}
		if valid == 0 || t.Price > hi {
			hi = t.Price
		}
		valid++
	}
	if valid < 2 || lo == 0 {
		return 0, false
	}
	return (hi - lo) / lo * 100, true
}

func quoteRoundTrip(ctx context.Context, quoter Quoter, cfg *config.Config, routerA, routerB common.Address, pathA, pathB []common.Address, asset common.Address, borrow, minProfit *big.Int) (*Signal, error) {
	start := time.Now()
	defer func() { imetrics.QuoteLatency.Observe(time.Since(start).Seconds()) }()

	outA, err := quoter.AmountsOut(ctx, routerA, borrow, pathA)
	if err != nil {
		return nil, err
	}
	received := outA[len(outA)-1]

	outB, err := quoter.AmountsOut(ctx, routerB, received, pathB)
	if err != nil {
		return nil, err
	}
	returned := outB[len(outB)-1]

	premium := new(big.Int).Mul(borrow, big.NewInt(cfg.Lending.PremiumBps))
	premium.Div(premium, big.NewInt(10_000))
	owed := new(big.Int).Add(borrow, premium)

	profit := new(big.Int).Sub(returned, owed)
	if profit.Cmp(minProfit) < 0 {
		return nil, nil
	}

	// The agent enforces the floor again on-path; MinFinalOutput makes the
	// second leg revert early under slippage instead of wasting gas.
	minOut := new(big.Int).Add(owed, minProfit)
	deadline := big.NewInt(time.Now().Add(time.Duration(cfg.Trade.DeadlineSec) * time.Second).Unix())

	return &Signal{
		Asset:          asset,
		Borrow:         new(big.Int).Set(borrow),
		ExpectedProfit: profit,
		Params: flashloan.ArbitrageParams{
			VenueA:         routerA,
			VenueB:         routerB,
			MinFinalOutput: minOut,
			Deadline:       deadline,
			PathA:          pathA,
			PathB:          pathB,
		},
		Ts: time.Now(),
	}, nil
}
