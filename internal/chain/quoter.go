package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const routerABI = `[
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

// RouterQuoter reads V2 router quotes via eth_call, one instance shared
// across venues since the target address is a parameter.
type RouterQuoter struct {
	ec   *ethclient.Client
	rabi abi.ABI
}

func NewRouterQuoter(ec *ethclient.Client) (*RouterQuoter, error) {
	rabi, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	return &RouterQuoter{ec: ec, rabi: rabi}, nil
}

func (q *RouterQuoter) AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := q.rabi.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	raw, err := q.ec.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAmountsOut: %w", err)
	}
	outs, err := q.rabi.Methods["getAmountsOut"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return nil, errors.New("decode getAmountsOut")
	}
	amounts, ok := outs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, errors.New("bad amounts shape")
	}
	return amounts, nil
}
