package detector

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/config"
	"github.com/amirlehmam/flashloan/internal/marketdata"
)

var (
	testRouterA = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	testRouterB = common.HexToAddress("0x00000000000000000000000000000000000000A2")
)

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pair = "ETHUSDT"
	cfg.Assets.Borrow = "0x00000000000000000000000000000000000000B1"
	cfg.Assets.Intermediate = "0x00000000000000000000000000000000000000B2"
	cfg.Venues.RouterA = testRouterA.Hex()
	cfg.Venues.RouterB = testRouterB.Hex()
	cfg.Lending.PremiumBps = 50
	cfg.Trade.BorrowWei = "1000"
	cfg.Trade.DeadlineSec = 300
	cfg.Timings.DetectorTickMs = 5
	cfg.Risk.SpreadThreshold = 0.5
	cfg.Risk.MinVolume = 1.0
	cfg.Risk.VolatilityFactor = 0.5
	cfg.Risk.MaxLatencySec = 60
	cfg.Risk.HistoryWindow = 10
	return cfg
}

// fakeQuoter serves canned per-venue quotes keyed by router address.
type fakeQuoter struct {
	out map[common.Address]int64
}

func (q *fakeQuoter) AmountsOut(_ context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	v, ok := q.out[router]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", router.Hex())
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	amounts[len(amounts)-1] = big.NewInt(v)
	return amounts, nil
}

func seedBook(cfg *config.Config) *marketdata.Book {
	book := marketdata.NewBook(cfg.Risk.HistoryWindow)
	now := time.Now()
	book.Update(marketdata.Tick{Asset: cfg.Pair, Source: "binance", Price: 100.0, Volume: 10, At: now})
	book.Update(marketdata.Tick{Asset: cfg.Pair, Source: "chainlink", Price: 103.0, At: now})
	return book
}

func TestRun_EmitsSignalOnProfitableRoundTrip(t *testing.T) {
	cfg := newTestConfig()
	book := seedBook(cfg)
	// Borrow 1000, owed 1005: venue A yields 2000 intermediate, venue B
	// turns that into 1010, a profit of 5.
	quoter := &fakeQuoter{out: map[common.Address]int64{testRouterA: 2000, testRouterB: 1010}}
	out := make(chan Signal, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go Run(ctx, cfg, book, quoter, out, zap.NewNop())

	select {
	case sig := <-out:
		assert.Equal(t, common.HexToAddress(cfg.Assets.Borrow), sig.Asset)
		assert.Equal(t, int64(1000), sig.Borrow.Int64())
		assert.Equal(t, int64(5), sig.ExpectedProfit.Int64())
		assert.Greater(t, sig.Spread, cfg.Risk.SpreadThreshold)
		// owed + floor: the second leg reverts early below this.
		assert.Equal(t, int64(1005), sig.Params.MinFinalOutput.Int64())
		require.Len(t, sig.Params.PathA, 2)
		assert.Equal(t, sig.Asset, sig.Params.PathA[0])
	case <-ctx.Done():
		t.Fatal("expected a signal, but got none")
	}
}

func TestRun_NoSignalWhenRoundTripLoses(t *testing.T) {
	cfg := newTestConfig()
	book := seedBook(cfg)
	quoter := &fakeQuoter{out: map[common.Address]int64{testRouterA: 2000, testRouterB: 1004}}
	out := make(chan Signal, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go Run(ctx, cfg, book, quoter, out, zap.NewNop())

	select {
	case <-out:
		t.Fatal("expected no signal, but got one")
	case <-ctx.Done():
	}
}

func TestRun_NoSignalBelowSpreadThreshold(t *testing.T) {
	cfg := newTestConfig()
	cfg.Risk.SpreadThreshold = 5.0 // book spread is ~3%
	book := seedBook(cfg)
	quoter := &fakeQuoter{out: map[common.Address]int64{testRouterA: 2000, testRouterB: 1010}}
	out := make(chan Signal, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go Run(ctx, cfg, book, quoter, out, zap.NewNop())

	select {
	case <-out:
		t.Fatal("expected no signal, but got one")
	case <-ctx.Done():
	}
}

func TestWidestSpread(t *testing.T) {
	cfg := newTestConfig()
	book := marketdata.NewBook(10)

	_, ok := widestSpread(cfg, book)
	assert.False(t, ok, "empty book has no spread")

	now := time.Now()
	book.Update(marketdata.Tick{Asset: cfg.Pair, Source: "binance", Price: 100, Volume: 10, At: now})
	_, ok = widestSpread(cfg, book)
	assert.False(t, ok, "one source is not a spread")

	book.Update(marketdata.Tick{Asset: cfg.Pair, Source: "chainlink", Price: 102, At: now})
	spread, ok := widestSpread(cfg, book)
	require.True(t, ok)
	assert.InDelta(t, 2.0, spread, 1e-9)

	// A stale source drops out of the comparison.
	book.Update(marketdata.Tick{Asset: cfg.Pair, Source: "chainlink", Price: 200, At: now.Add(-time.Hour)})
	_, ok = widestSpread(cfg, book)
	assert.False(t, ok)
}

func TestWidestSpread_IgnoresThinVolume(t *testing.T) {
	cfg := newTestConfig()
	book := marketdata.NewBook(10)
	now := time.Now()
	book.Update(marketdata.Tick{Asset: cfg.Pair, Source: "binance", Price: 100, Volume: 0.1, At: now})
	book.Update(marketdata.Tick{Asset: cfg.Pair, Source: "kraken", Price: 110, Volume: 10, At: now})

	_, ok := widestSpread(cfg, book)
	assert.False(t, ok, "thin source must not form a spread")
}
