package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Router is a V2-style exact-input venue with configured per-hop rates and
// unbounded liquidity. Input is pulled from the caller through an allowance,
// like the real router's transferFrom.
type Router struct {
	addr   common.Address
	ledger *Ledger
	now    func() time.Time

	mu    sync.RWMutex
	rates map[pairKey]rate
}

type pairKey struct {
	in  common.Address
	out common.Address
}

type rate struct {
	num *big.Int
	den *big.Int
}

func NewRouter(ledger *Ledger, addr common.Address) *Router {
	return &Router{
		addr:   addr,
		ledger: ledger,
		now:    time.Now,
		rates:  make(map[pairKey]rate),
	}
}

func (r *Router) Address() common.Address { return r.addr }

// SetClock overrides the deadline clock, for tests.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// SetRate fixes the hop price: out = in * num / den.
func (r *Router) SetRate(tokenIn, tokenOut common.Address, num, den int64) {
	r.mu.Lock()
	r.rates[pairKey{tokenIn, tokenOut}] = rate{num: big.NewInt(num), den: big.NewInt(den)}
	r.mu.Unlock()
}

func (r *Router) SwapExactInput(_ context.Context, caller common.Address, amountIn, amountOutMin *big.Int, path []common.Address, recipient common.Address, deadline *big.Int) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("sim router: path too short")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("sim router: non-positive input")
	}
	if deadline != nil && big.NewInt(r.now().Unix()).Cmp(deadline) > 0 {
		return nil, fmt.Errorf("sim router: deadline expired")
	}

	// Quote the whole path first so a minOut miss leaves no effects.
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	r.mu.RLock()
	for i := 0; i < len(path)-1; i++ {
		rt, ok := r.rates[pairKey{path[i], path[i+1]}]
		if !ok {
			r.mu.RUnlock()
			return nil, fmt.Errorf("sim router: no market %s -> %s", path[i].Hex(), path[i+1].Hex())
		}
		next := new(big.Int).Mul(amounts[i], rt.num)
		amounts[i+1] = next.Div(next, rt.den)
	}
	r.mu.RUnlock()

	out := amounts[len(amounts)-1]
	if amountOutMin != nil && out.Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("sim router: output %s below minimum %s", out, amountOutMin)
	}

	if err := r.ledger.TransferFrom(path[0], caller, r.addr, r.addr, amountIn); err != nil {
		return nil, fmt.Errorf("sim router: pull input: %w", err)
	}
	r.ledger.Mint(path[len(path)-1], recipient, out)
	return amounts, nil
}

// AmountsOut quotes the path without moving funds, mirroring getAmountsOut.
func (r *Router) AmountsOut(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("sim router: path too short")
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 0; i < len(path)-1; i++ {
		rt, ok := r.rates[pairKey{path[i], path[i+1]}]
		if !ok {
			return nil, fmt.Errorf("sim router: no market %s -> %s", path[i].Hex(), path[i+1].Hex())
		}
		next := new(big.Int).Mul(amounts[i], rt.num)
		amounts[i+1] = next.Div(next, rt.den)
	}
	return amounts, nil
}
