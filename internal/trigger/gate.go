package trigger

import "math/big"

// Gate is the trigger-side risk check: absolute profit floor plus a minimum
// return on the borrowed principal. The agent re-checks its own floor inside
// the atomic unit; this gate just avoids paying gas for marginal signals.
type Gate struct {
	minProfit *big.Int
	minROIBps int64
}

func NewGate(minProfit *big.Int, minROIBps int64) *Gate {
	if minProfit == nil {
		minProfit = new(big.Int)
	}
	return &Gate{minProfit: new(big.Int).Set(minProfit), minROIBps: minROIBps}
}

func (g *Gate) Allow(profit, borrow *big.Int) bool {
	if profit == nil || borrow == nil || borrow.Sign() <= 0 {
		return false
	}
	if profit.Cmp(g.minProfit) < 0 {
		return false
	}
	if g.minROIBps > 0 {
		// profit * 10000 / borrow >= minROIBps
		roi := new(big.Int).Mul(profit, big.NewInt(10_000))
		roi.Div(roi, borrow)
		if roi.Cmp(big.NewInt(g.minROIBps)) < 0 {
			return false
		}
	}
	return true
}
