package capability

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the allowance/transfer surface of a fungible asset. Callers name
// the principal they act for explicitly; implementations decide whether that
// principal is allowed to move the funds.
type Token interface {
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// Router is an exact-input swap venue. The returned slice holds the amount
// at every hop of the path; the last element is what the recipient received.
// Input is pulled from the caller through a prior allowance.
type Router interface {
	SwapExactInput(ctx context.Context, caller common.Address, amountIn, amountOutMin *big.Int, path []common.Address, recipient common.Address, deadline *big.Int) ([]*big.Int, error)
}

// LendingPool grants same-call uncollateralized loans. It disburses the
// requested amounts to the receiver, synchronously invokes the receiver's
// OnLoanReceived, and pulls principal plus premium back before returning.
// Any failure along that chain undoes the whole call.
type LendingPool interface {
	RequestLoan(ctx context.Context, caller, receiver common.Address, assets []common.Address, amounts []*big.Int, modes []uint8, onBehalfOf common.Address, payload []byte, referral uint16) error
}

// LoanReceiver is implemented by borrowers. caller is the pool invoking the
// callback; initiator is whoever asked the pool for the loan.
type LoanReceiver interface {
	OnLoanReceived(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, payload []byte) (bool, error)
}
