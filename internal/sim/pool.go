package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/amirlehmam/flashloan/internal/capability"
)

// Pool grants same-call uncollateralized loans against the sim ledger.
// The whole disburse-callback-settle chain runs inside one ledger snapshot:
// if anything fails, state is restored and the loan never happened.
type Pool struct {
	addr       common.Address
	ledger     *Ledger
	premiumBps int64

	mu        sync.RWMutex
	receivers map[common.Address]capability.LoanReceiver
}

func NewPool(ledger *Ledger, addr common.Address, premiumBps int64) *Pool {
	return &Pool{
		addr:       addr,
		ledger:     ledger,
		premiumBps: premiumBps,
		receivers:  make(map[common.Address]capability.LoanReceiver),
	}
}

func (p *Pool) Address() common.Address { return p.addr }

// RegisterReceiver binds a receiver address to its callback implementation.
func (p *Pool) RegisterReceiver(addr common.Address, r capability.LoanReceiver) {
	p.mu.Lock()
	p.receivers[addr] = r
	p.mu.Unlock()
}

// Premium returns the fee owed for borrowing amount.
func (p *Pool) Premium(amount *big.Int) *big.Int {
	prem := new(big.Int).Mul(amount, big.NewInt(p.premiumBps))
	return prem.Div(prem, big.NewInt(10_000))
}

func (p *Pool) RequestLoan(ctx context.Context, caller, receiver common.Address, assets []common.Address, amounts []*big.Int, modes []uint8, onBehalfOf common.Address, payload []byte, referral uint16) error {
	_ = onBehalfOf
	_ = referral
	if len(assets) == 0 || len(assets) != len(amounts) || len(assets) != len(modes) {
		return fmt.Errorf("sim pool: asset/amount/mode vectors disagree")
	}
	for _, m := range modes {
		if m != 0 {
			return fmt.Errorf("sim pool: only mode 0 (no open debt) is supported")
		}
	}
	p.mu.RLock()
	rec, ok := p.receivers[receiver]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("sim pool: receiver %s not registered", receiver.Hex())
	}

	premiums := make([]*big.Int, len(amounts))
	for i, amt := range amounts {
		if amt == nil || amt.Sign() <= 0 {
			return fmt.Errorf("sim pool: non-positive amount at index %d", i)
		}
		premiums[i] = p.Premium(amt)
	}

	snap := p.ledger.Take()

	for i := range assets {
		p.ledger.Mint(assets[i], receiver, amounts[i])
	}

	ok, err := rec.OnLoanReceived(ctx, p.addr, assets, amounts, premiums, caller, payload)
	if err != nil {
		p.ledger.Restore(snap)
		return fmt.Errorf("sim pool: callback: %w", err)
	}
	if !ok {
		p.ledger.Restore(snap)
		return fmt.Errorf("sim pool: callback declined the loan")
	}

	for i := range assets {
		owed := new(big.Int).Add(amounts[i], premiums[i])
		if err := p.ledger.TransferFrom(assets[i], receiver, p.addr, p.addr, owed); err != nil {
			p.ledger.Restore(snap)
			return fmt.Errorf("sim pool: repayment pull: %w", err)
		}
	}
	return nil
}
