package sim

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token adapts one ledger asset to the capability.Token interface.
type Token struct {
	addr   common.Address
	ledger *Ledger
}

func NewToken(ledger *Ledger, addr common.Address) *Token {
	return &Token{addr: addr, ledger: ledger}
}

func (t *Token) Address() common.Address { return t.addr }

func (t *Token) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	t.ledger.Approve(t.addr, owner, spender, amount)
	return nil
}

func (t *Token) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	return t.ledger.Transfer(t.addr, from, to, amount)
}

func (t *Token) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	return t.ledger.BalanceOf(t.addr, holder), nil
}

func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.ledger.Allowance(t.addr, owner, spender), nil
}
