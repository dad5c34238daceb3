package flashloan

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/capability"
	"github.com/amirlehmam/flashloan/internal/sim"
)

var (
	addrAgent    = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	addrOwner    = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	addrPool     = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	addrTokenX   = common.HexToAddress("0x00000000000000000000000000000000000000D1")
	addrTokenY   = common.HexToAddress("0x00000000000000000000000000000000000000D2")
	addrTokenZ   = common.HexToAddress("0x00000000000000000000000000000000000000D3")
	addrVenueA   = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	addrVenueB   = common.HexToAddress("0x00000000000000000000000000000000000000E2")
	addrStranger = common.HexToAddress("0x00000000000000000000000000000000000000F1")
)

type fixture struct {
	ledger   *sim.Ledger
	pool     *sim.Pool
	routerA  *sim.Router
	routerB  *sim.Router
	registry *capability.Registry
	sink     *MemorySink
	agent    *Agent
}

// newFixture wires an agent against the sim chain. premiumBps of 50 on a
// 1000 wei borrow yields a 5 wei premium, the numbers most tests lean on.
func newFixture(t *testing.T, premiumBps int64, minProfit *big.Int) *fixture {
	t.Helper()

	ledger := sim.NewLedger()
	pool := sim.NewPool(ledger, addrPool, premiumBps)
	routerA := sim.NewRouter(ledger, addrVenueA)
	routerB := sim.NewRouter(ledger, addrVenueB)

	registry := capability.NewRegistry()
	registry.RegisterToken(addrTokenX, sim.NewToken(ledger, addrTokenX))
	registry.RegisterToken(addrTokenY, sim.NewToken(ledger, addrTokenY))
	registry.RegisterToken(addrTokenZ, sim.NewToken(ledger, addrTokenZ))
	registry.RegisterRouter(addrVenueA, routerA)
	registry.RegisterRouter(addrVenueB, routerB)

	sink := NewMemorySink()
	agent, err := New(Options{
		Self:      addrAgent,
		Owner:     addrOwner,
		Pool:      pool,
		PoolAddr:  addrPool,
		Registry:  registry,
		MinProfit: minProfit,
		Sink:      sink,
		Log:       zap.NewNop(),
	})
	require.NoError(t, err)
	pool.RegisterReceiver(addrAgent, agent)

	return &fixture{
		ledger:   ledger,
		pool:     pool,
		routerA:  routerA,
		routerB:  routerB,
		registry: registry,
		sink:     sink,
		agent:    agent,
	}
}

func defaultParams() ArbitrageParams {
	return ArbitrageParams{
		VenueA:         addrVenueA,
		VenueB:         addrVenueB,
		MinFinalOutput: big.NewInt(0),
		Deadline:       big.NewInt(time.Now().Unix() + 300),
		PathA:          []common.Address{addrTokenX, addrTokenY},
		PathB:          []common.Address{addrTokenY, addrTokenX},
	}
}

func encode(t *testing.T, p ArbitrageParams) []byte {
	t.Helper()
	payload, err := p.Encode()
	require.NoError(t, err)
	return payload
}

func TestExecuteFlashLoan_ProfitableRoundTrip(t *testing.T) {
	fx := newFixture(t, 50, nil) // premium on 1000 is 5
	fx.routerA.SetRate(addrTokenX, addrTokenY, 2, 1)     // 1000 X -> 2000 Y
	fx.routerB.SetRate(addrTokenY, addrTokenX, 101, 200) // 2000 Y -> 1010 X
	ctx := context.Background()

	err := fx.agent.ExecuteFlashLoan(ctx, addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, encode(t, defaultParams()))
	require.NoError(t, err)

	// Borrowed 1000, owed 1005, round trip returned 1010: the agent keeps 5.
	assert.Equal(t, int64(5), fx.ledger.BalanceOf(addrTokenX, addrAgent).Int64())
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenY, addrAgent).Int64())
	assert.Equal(t, int64(1005), fx.ledger.BalanceOf(addrTokenX, addrPool).Int64())

	// Events commit in staging order once the whole unit settles.
	events := fx.sink.Events()
	require.Len(t, events, 2)
	assert.IsType(t, LoanInitiated{}, events[0])
	ev, ok := events[1].(ArbitrageExecuted)
	require.True(t, ok)
	assert.Equal(t, addrAgent, ev.Initiator)
	assert.Equal(t, int64(5), ev.Profit.Int64())
}

func TestExecuteFlashLoan_UnprofitableRollsBack(t *testing.T) {
	fx := newFixture(t, 50, nil)
	fx.routerA.SetRate(addrTokenX, addrTokenY, 2, 1)     // 1000 X -> 2000 Y
	fx.routerB.SetRate(addrTokenY, addrTokenX, 251, 500) // 2000 Y -> 1004 X, owed 1005

	err := fx.agent.ExecuteFlashLoan(context.Background(), addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, encode(t, defaultParams()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnprofitable)

	// Nothing moved: the loan never happened.
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenX, addrAgent).Int64())
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenY, addrAgent).Int64())
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenX, addrPool).Int64())
	assert.Empty(t, fx.sink.Named("ArbitrageExecuted"))
}

// An aborted attempt must leave no audit records at all, LoanInitiated
// included: events are staged and only reach the sink when the unit commits.
func TestExecuteFlashLoan_AbortLeavesNoAuditTrail(t *testing.T) {
	fx := newFixture(t, 50, nil)
	fx.routerA.SetRate(addrTokenX, addrTokenY, 2, 1)
	fx.routerB.SetRate(addrTokenY, addrTokenX, 251, 500) // round trip loses

	err := fx.agent.ExecuteFlashLoan(context.Background(), addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, encode(t, defaultParams()))
	require.ErrorIs(t, err, ErrUnprofitable)
	assert.Empty(t, fx.sink.Events())

	// A later successful attempt carries no leftovers from the aborted one.
	fx.routerB.SetRate(addrTokenY, addrTokenX, 101, 200)
	err = fx.agent.ExecuteFlashLoan(context.Background(), addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, encode(t, defaultParams()))
	require.NoError(t, err)
	assert.Len(t, fx.sink.Events(), 2)
	assert.Len(t, fx.sink.Named("LoanInitiated"), 1)
}

func TestExecuteFlashLoan_BelowProfitFloor(t *testing.T) {
	fx := newFixture(t, 50, big.NewInt(10))
	fx.routerA.SetRate(addrTokenX, addrTokenY, 2, 1)
	fx.routerB.SetRate(addrTokenY, addrTokenX, 101, 200) // profit would be 5

	err := fx.agent.ExecuteFlashLoan(context.Background(), addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, encode(t, defaultParams()))
	assert.ErrorIs(t, err, ErrBelowMinProfit)
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenX, addrAgent).Int64())
}

func TestExecuteFlashLoan_SlippageGuardOnSecondLeg(t *testing.T) {
	fx := newFixture(t, 50, nil)
	fx.routerA.SetRate(addrTokenX, addrTokenY, 2, 1)
	fx.routerB.SetRate(addrTokenY, addrTokenX, 101, 200) // returns 1010

	p := defaultParams()
	p.MinFinalOutput = big.NewInt(1100) // demands more than the route yields

	err := fx.agent.ExecuteFlashLoan(context.Background(), addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, encode(t, p))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swap leg B")
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenX, addrAgent).Int64())
}

func TestExecuteFlashLoan_ExtraAssetFailsSettlement(t *testing.T) {
	fx := newFixture(t, 50, nil)
	fx.routerA.SetRate(addrTokenX, addrTokenY, 2, 1)
	fx.routerB.SetRate(addrTokenY, addrTokenX, 101, 200)

	// Only index 0 is traded and approved; the pull for token Z must fail
	// and unwind the whole attempt.
	err := fx.agent.ExecuteFlashLoan(context.Background(), addrOwner,
		[]common.Address{addrTokenX, addrTokenZ},
		[]*big.Int{big.NewInt(1000), big.NewInt(50)},
		encode(t, defaultParams()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repayment pull")
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenX, addrAgent).Int64())
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenZ, addrAgent).Int64())
}

func TestExecuteFlashLoan_InputValidation(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ctx := context.Background()
	payload := encode(t, defaultParams())

	err := fx.agent.ExecuteFlashLoan(ctx, addrOwner, nil, nil, payload)
	assert.ErrorIs(t, err, ErrValidation)

	err = fx.agent.ExecuteFlashLoan(ctx, addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1), big.NewInt(2)}, payload)
	assert.ErrorIs(t, err, ErrValidation)

	err = fx.agent.ExecuteFlashLoan(ctx, addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(0)}, payload)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHalted_RejectsBothEntryPoints(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ctx := context.Background()
	require.NoError(t, fx.agent.SetHalted(ctx, addrOwner, true))
	assert.True(t, fx.agent.Halted())

	err := fx.agent.ExecuteFlashLoan(ctx, addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, encode(t, defaultParams()))
	assert.ErrorIs(t, err, ErrHalted)

	ok, err := fx.agent.OnLoanReceived(ctx, addrPool,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, []*big.Int{big.NewInt(5)},
		addrAgent, encode(t, defaultParams()))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrHalted)

	require.Len(t, fx.sink.Named("HaltedSet"), 1)

	// Resuming puts the checks back on the happy path.
	require.NoError(t, fx.agent.SetHalted(ctx, addrOwner, false))
	assert.False(t, fx.agent.Halted())
}

func TestOnLoanReceived_RejectsUnknownCaller(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ok, err := fx.agent.OnLoanReceived(context.Background(), addrStranger,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, []*big.Int{big.NewInt(5)},
		addrAgent, encode(t, defaultParams()))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOnLoanReceived_RejectsForeignInitiator(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ok, err := fx.agent.OnLoanReceived(context.Background(), addrPool,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, []*big.Int{big.NewInt(5)},
		addrStranger, encode(t, defaultParams()))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOnLoanReceived_ExpiredDeadline(t *testing.T) {
	fx := newFixture(t, 50, nil)
	p := defaultParams()
	p.Deadline = big.NewInt(time.Now().Unix() - 60)

	ok, err := fx.agent.OnLoanReceived(context.Background(), addrPool,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, []*big.Int{big.NewInt(5)},
		addrAgent, encode(t, p))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestOnLoanReceived_BadPayload(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ok, err := fx.agent.OnLoanReceived(context.Background(), addrPool,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, []*big.Int{big.NewInt(5)},
		addrAgent, []byte{0xde, 0xad, 0xbe, 0xef})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestOnLoanReceived_PathMustMatchBorrowedAsset(t *testing.T) {
	fx := newFixture(t, 50, nil)
	p := defaultParams()
	p.PathA = []common.Address{addrTokenY, addrTokenX} // starts at the wrong token

	ok, err := fx.agent.OnLoanReceived(context.Background(), addrPool,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, []*big.Int{big.NewInt(5)},
		addrAgent, encode(t, p))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrValidation)
}

// reentrantRouter re-invokes the agent mid-swap, the classic malicious-venue
// shape. The inner error is recorded for the test to inspect.
type reentrantRouter struct {
	agent    *Agent
	payload  []byte
	innerErr error
}

func (r *reentrantRouter) SwapExactInput(ctx context.Context, _ common.Address, _, _ *big.Int, _ []common.Address, _ common.Address, _ *big.Int) ([]*big.Int, error) {
	r.innerErr = r.agent.ExecuteFlashLoan(ctx, addrStranger,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1)}, r.payload)
	return nil, r.innerErr
}

func TestReentrancy_MaliciousVenueIsRejected(t *testing.T) {
	fx := newFixture(t, 50, nil)
	payload := encode(t, defaultParams())

	evil := &reentrantRouter{agent: fx.agent, payload: payload}
	fx.registry.RegisterRouter(addrVenueA, evil)

	err := fx.agent.ExecuteFlashLoan(context.Background(), addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, payload)
	require.Error(t, err)
	assert.ErrorIs(t, evil.innerErr, ErrReentrancy)

	// The poisoned trade unwound completely.
	assert.Equal(t, int64(0), fx.ledger.BalanceOf(addrTokenX, addrAgent).Int64())
	assert.Empty(t, fx.sink.Named("ArbitrageExecuted"))
}

// callbackReplayRouter replays the pool callback from inside the swap. The
// armed slot was already consumed by the legitimate callback, so the replay
// must be rejected.
type callbackReplayRouter struct {
	agent    *Agent
	payload  []byte
	innerErr error
}

func (r *callbackReplayRouter) SwapExactInput(ctx context.Context, _ common.Address, _, _ *big.Int, _ []common.Address, _ common.Address, _ *big.Int) ([]*big.Int, error) {
	_, r.innerErr = r.agent.OnLoanReceived(ctx, addrPool,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, []*big.Int{big.NewInt(5)},
		addrAgent, r.payload)
	return nil, r.innerErr
}

func TestReentrancy_CallbackReplayIsRejected(t *testing.T) {
	fx := newFixture(t, 50, nil)
	payload := encode(t, defaultParams())

	evil := &callbackReplayRouter{agent: fx.agent, payload: payload}
	fx.registry.RegisterRouter(addrVenueA, evil)

	err := fx.agent.ExecuteFlashLoan(context.Background(), addrOwner,
		[]common.Address{addrTokenX}, []*big.Int{big.NewInt(1000)}, payload)
	require.Error(t, err)
	assert.ErrorIs(t, evil.innerErr, ErrReentrancy)
}

func TestAdmin_OwnerGating(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ctx := context.Background()

	assert.ErrorIs(t, fx.agent.SetHalted(ctx, addrStranger, true), ErrUnauthorized)
	assert.ErrorIs(t, fx.agent.SetMinProfit(ctx, addrStranger, big.NewInt(1)), ErrUnauthorized)
	assert.ErrorIs(t, fx.agent.SetLendingPool(ctx, addrStranger, addrPool, fx.pool), ErrUnauthorized)
	assert.ErrorIs(t, fx.agent.Withdraw(ctx, addrStranger, addrTokenX, big.NewInt(1)), ErrUnauthorized)

	require.NoError(t, fx.agent.SetMinProfit(ctx, addrOwner, big.NewInt(42)))
	assert.Equal(t, int64(42), fx.agent.MinProfit().Int64())
	require.Len(t, fx.sink.Named("MinProfitSet"), 1)
}

func TestSetMinProfit_RejectsBadValues(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ctx := context.Background()
	assert.ErrorIs(t, fx.agent.SetMinProfit(ctx, addrOwner, nil), ErrValidation)
	assert.ErrorIs(t, fx.agent.SetMinProfit(ctx, addrOwner, big.NewInt(-1)), ErrValidation)
}

func TestWithdraw_SweepsToOwner(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ctx := context.Background()
	fx.ledger.Mint(addrTokenX, addrAgent, big.NewInt(77))

	require.NoError(t, fx.agent.Withdraw(ctx, addrOwner, addrTokenX, big.NewInt(50)))
	assert.Equal(t, int64(27), fx.ledger.BalanceOf(addrTokenX, addrAgent).Int64())
	assert.Equal(t, int64(50), fx.ledger.BalanceOf(addrTokenX, addrOwner).Int64())
	require.Len(t, fx.sink.Named("Withdrawal"), 1)

	// Insufficient balance surfaces the transfer failure.
	assert.Error(t, fx.agent.Withdraw(ctx, addrOwner, addrTokenX, big.NewInt(1000)))
}

func TestSetLendingPool_Reassigns(t *testing.T) {
	fx := newFixture(t, 50, nil)
	ctx := context.Background()

	other := common.HexToAddress("0x00000000000000000000000000000000000000C2")
	pool2 := sim.NewPool(fx.ledger, other, 50)
	require.NoError(t, fx.agent.SetLendingPool(ctx, addrOwner, other, pool2))
	assert.Equal(t, other, fx.agent.LendingPool())

	assert.ErrorIs(t, fx.agent.SetLendingPool(ctx, addrOwner, common.Address{}, pool2), ErrValidation)
	assert.ErrorIs(t, fx.agent.SetLendingPool(ctx, addrOwner, other, nil), ErrValidation)
}

func TestAbortReason(t *testing.T) {
	assert.Equal(t, "reentrancy", AbortReason(ErrReentrancy))
	assert.Equal(t, "unauthorized", AbortReason(ErrUnauthorized))
	assert.Equal(t, "halted", AbortReason(ErrHalted))
	assert.Equal(t, "bad_payload", AbortReason(ErrBadPayload))
	assert.Equal(t, "deadline", AbortReason(ErrDeadlineExceeded))
	assert.Equal(t, "unprofitable", AbortReason(ErrUnprofitable))
	assert.Equal(t, "below_floor", AbortReason(ErrBelowMinProfit))
	assert.Equal(t, "validation", AbortReason(ErrValidation))
	assert.Equal(t, "other", AbortReason(context.Canceled))
}

func TestNew_RequiresWiring(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = New(Options{Self: addrAgent, Owner: addrOwner})
	assert.ErrorIs(t, err, ErrValidation)
}
