package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ExecutionLog is one decoded ArbitrageExecuted event.
type ExecutionLog struct {
	Initiator common.Address
	Premiums  []*big.Int
	Profit    *big.Int
	TxHash    common.Hash
	Block     uint64
	At        time.Time
}

// Watcher tails the agent contract's ArbitrageExecuted logs.
type Watcher struct {
	ec        *ethclient.Client
	aabi      abi.ABI
	agent     common.Address
	lastBlock uint64
	log       *zap.Logger
}

func NewWatcher(ec *ethclient.Client, agent common.Address, log *zap.Logger) (*Watcher, error) {
	aabi, err := abi.JSON(strings.NewReader(agentABI))
	if err != nil {
		return nil, fmt.Errorf("parse agent abi: %w", err)
	}
	return &Watcher{ec: ec, aabi: aabi, agent: agent, log: log}, nil
}

// Run polls for new logs on an interval and forwards decoded executions.
func (w *Watcher) Run(ctx context.Context, every time.Duration, out chan<- ExecutionLog) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logs, err := w.poll(ctx)
			if err != nil {
				w.log.Warn("log poll failed", zap.Error(err))
				continue
			}
			for _, l := range logs {
				select {
				case out <- l:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context) ([]ExecutionLog, error) {
	head, err := w.ec.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	if w.lastBlock == 0 {
		w.lastBlock = head
		return nil, nil
	}
	if head <= w.lastBlock {
		return nil, nil
	}

	ev := w.aabi.Events["ArbitrageExecuted"]
	logs, err := w.ec.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{w.agent},
		Topics:    [][]common.Hash{{ev.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	w.lastBlock = head

	out := make([]ExecutionLog, 0, len(logs))
	for _, l := range logs {
		dec, err := w.decode(ev, l)
		if err != nil {
			w.log.Warn("undecodable execution log", zap.Error(err), zap.String("tx", l.TxHash.Hex()))
			continue
		}
		out = append(out, dec)
	}
	return out, nil
}

func (w *Watcher) decode(ev abi.Event, l gethtypes.Log) (ExecutionLog, error) {
	if len(l.Topics) < 2 {
		return ExecutionLog{}, fmt.Errorf("missing initiator topic")
	}
	vals, err := ev.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil || len(vals) != 2 {
		return ExecutionLog{}, fmt.Errorf("unpack event data: %w", err)
	}
	premiums, ok := vals[0].([]*big.Int)
	if !ok {
		return ExecutionLog{}, fmt.Errorf("unexpected premiums type")
	}
	profit, ok := vals[1].(*big.Int)
	if !ok {
		return ExecutionLog{}, fmt.Errorf("unexpected profit type")
	}
	return ExecutionLog{
		Initiator: common.BytesToAddress(l.Topics[1].Bytes()),
		Premiums:  premiums,
		Profit:    profit,
		TxHash:    l.TxHash,
		Block:     l.BlockNumber,
		At:        time.Now(),
	}, nil
}
