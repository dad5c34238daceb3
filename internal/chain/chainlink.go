package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/marketdata"
)

const aggregatorABI = `[
 {"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// ChainlinkFeed polls a price aggregator and normalizes rounds into ticks.
type ChainlinkFeed struct {
	ec       *ethclient.Client
	fabi     abi.ABI
	feed     common.Address
	asset    string
	decimals int
	log      *zap.Logger
}

func NewChainlinkFeed(ctx context.Context, ec *ethclient.Client, feed common.Address, asset string, log *zap.Logger) (*ChainlinkFeed, error) {
	fabi, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	f := &ChainlinkFeed{ec: ec, fabi: fabi, feed: feed, asset: asset, log: log, decimals: 8}
	if d, err := f.fetchDecimals(ctx); err == nil {
		f.decimals = d
	} else {
		log.Warn("chainlink decimals unavailable, assuming 8", zap.Error(err))
	}
	return f, nil
}

// Run polls latestRoundData until the context ends.
func (f *ChainlinkFeed) Run(ctx context.Context, every time.Duration, out chan<- marketdata.Tick) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick, err := f.latest(ctx)
			if err != nil {
				f.log.Warn("chainlink round fetch failed", zap.Error(err))
				continue
			}
			select {
			case out <- tick:
			default:
				f.log.Warn("tick channel full; dropping chainlink round")
			}
		}
	}
}

func (f *ChainlinkFeed) latest(ctx context.Context) (marketdata.Tick, error) {
	data, err := f.fabi.Pack("latestRoundData")
	if err != nil {
		return marketdata.Tick{}, fmt.Errorf("pack latestRoundData: %w", err)
	}
	raw, err := f.ec.CallContract(ctx, ethereum.CallMsg{To: &f.feed, Data: data}, nil)
	if err != nil {
		return marketdata.Tick{}, fmt.Errorf("call latestRoundData: %w", err)
	}
	outs, err := f.fabi.Methods["latestRoundData"].Outputs.Unpack(raw)
	if err != nil || len(outs) < 5 {
		return marketdata.Tick{}, errors.New("decode latestRoundData")
	}
	answer, ok := outs[1].(*big.Int)
	if !ok {
		return marketdata.Tick{}, errors.New("unexpected answer type")
	}
	updatedAt, ok := outs[3].(*big.Int)
	if !ok {
		return marketdata.Tick{}, errors.New("unexpected updatedAt type")
	}

	price := new(big.Float).SetInt(answer)
	price.Quo(price, big.NewFloat(math.Pow10(f.decimals)))
	p, _ := price.Float64()

	return marketdata.Tick{
		Asset:  f.asset,
		Source: "chainlink",
		Price:  p,
		Volume: 0, // aggregators publish no volume
		At:     time.Unix(updatedAt.Int64(), 0),
	}, nil
}

func (f *ChainlinkFeed) fetchDecimals(ctx context.Context) (int, error) {
	data, err := f.fabi.Pack("decimals")
	if err != nil {
		return 0, err
	}
	raw, err := f.ec.CallContract(ctx, ethereum.CallMsg{To: &f.feed, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	outs, err := f.fabi.Methods["decimals"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return 0, errors.New("decode decimals")
	}
	switch x := outs[0].(type) {
	case uint8:
		return int(x), nil
	case *big.Int:
		return int(x.Int64()), nil
	default:
		return 0, errors.New("unexpected decimals type")
	}
}
