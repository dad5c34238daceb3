// Package sim is a deterministic in-memory stand-in for the chain: an
// asset ledger plus token, router and lending-pool capabilities built on it.
// The pool realizes the all-or-nothing guarantee by snapshotting the ledger
// around each loan, which makes the agent's atomicity properties testable
// without a node.
package sim

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger tracks balances and allowances per token address.
type Ledger struct {
	mu        sync.Mutex
	balances  map[common.Address]map[common.Address]*big.Int
	allowance map[common.Address]map[allowanceKey]*big.Int
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Snapshot is a full deep copy of the ledger state.
type Snapshot struct {
	balances  map[common.Address]map[common.Address]*big.Int
	allowance map[common.Address]map[allowanceKey]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[common.Address]map[common.Address]*big.Int),
		allowance: make(map[common.Address]map[allowanceKey]*big.Int),
	}
}

// Mint credits freshly created units to a holder.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, to, amount)
}

func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, holder))
}

func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byToken := l.allowance[token]
	if byToken == nil {
		byToken = make(map[allowanceKey]*big.Int)
		l.allowance[token] = byToken
	}
	byToken[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
}

func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowance[token][allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// TransferFrom moves owner's funds via spender's allowance, decrementing it.
func (l *Ledger) TransferFrom(token, owner, spender, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{owner, spender}
	granted, ok := l.allowance[token][key]
	if !ok || granted.Cmp(amount) < 0 {
		return fmt.Errorf("sim: allowance %s -> %s too small for %s", owner.Hex(), spender.Hex(), amount)
	}
	if err := l.move(token, owner, to, amount); err != nil {
		return err
	}
	granted.Sub(granted, amount)
	return nil
}

// Take returns a deep copy of the current state.
func (l *Ledger) Take() *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := &Snapshot{
		balances:  make(map[common.Address]map[common.Address]*big.Int, len(l.balances)),
		allowance: make(map[common.Address]map[allowanceKey]*big.Int, len(l.allowance)),
	}
	for tok, holders := range l.balances {
		cp := make(map[common.Address]*big.Int, len(holders))
		for h, v := range holders {
			cp[h] = new(big.Int).Set(v)
		}
		snap.balances[tok] = cp
	}
	for tok, grants := range l.allowance {
		cp := make(map[allowanceKey]*big.Int, len(grants))
		for k, v := range grants {
			cp[k] = new(big.Int).Set(v)
		}
		snap.allowance[tok] = cp
	}
	return snap
}

// Restore rolls the ledger back to a snapshot taken earlier.
func (l *Ledger) Restore(snap *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[common.Address]map[common.Address]*big.Int, len(snap.balances))
	for tok, holders := range snap.balances {
		cp := make(map[common.Address]*big.Int, len(holders))
		for h, v := range holders {
			cp[h] = new(big.Int).Set(v)
		}
		l.balances[tok] = cp
	}
	l.allowance = make(map[common.Address]map[allowanceKey]*big.Int, len(snap.allowance))
	for tok, grants := range snap.allowance {
		cp := make(map[allowanceKey]*big.Int, len(grants))
		for k, v := range grants {
			cp[k] = new(big.Int).Set(v)
		}
		l.allowance[tok] = cp
	}
}

// callers must hold l.mu
func (l *Ledger) balance(token, holder common.Address) *big.Int {
	if b, ok := l.balances[token][holder]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) credit(token, to common.Address, amount *big.Int) {
	holders := l.balances[token]
	if holders == nil {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	cur, ok := holders[to]
	if !ok {
		cur = new(big.Int)
		holders[to] = cur
	}
	cur.Add(cur, amount)
}

func (l *Ledger) move(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("sim: invalid transfer amount")
	}
	bal := l.balance(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("sim: %s has %s of %s, needs %s", from.Hex(), bal, token.Hex(), amount)
	}
	bal.Sub(bal, amount)
	l.credit(token, to, amount)
	return nil
}
