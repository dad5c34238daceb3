package flashloan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/amirlehmam/flashloan/internal/capability"
	"github.com/amirlehmam/flashloan/internal/metrics"
)

// Agent is the borrow-trade-repay state machine. It asks the lending pool
// for an uncollateralized loan, runs the two-leg swap when the pool calls
// back, verifies the round trip covers principal, premium and the configured
// profit floor, and approves repayment. Every failure aborts the whole
// attempt with no partial effects of its own; balance atomicity is the
// pool's settlement contract.
//
// Owner is fixed at construction. There is no transfer path: losing the
// owner key permanently locks the admin surface.
type Agent struct {
	self  common.Address
	owner common.Address

	registry *capability.Registry
	log      *zap.Logger
	sink     Sink
	now      func() time.Time

	mu        sync.RWMutex // guards pool, poolAddr, halted, minProfit
	pool      capability.LendingPool
	poolAddr  common.Address
	halted    bool
	minProfit *big.Int

	guard entryGuard

	evMu    sync.Mutex // guards pending
	pending []Event
}

// Options carries the construction-time wiring of an Agent. Self, Owner,
// Pool and PoolAddr are mandatory.
type Options struct {
	Self      common.Address
	Owner     common.Address
	Pool      capability.LendingPool
	PoolAddr  common.Address
	Registry  *capability.Registry
	MinProfit *big.Int    // nil means zero floor
	Sink      Sink        // nil means events are only logged
	Log       *zap.Logger // nil means zap.NewNop()
	Now       func() time.Time
}

func New(opts Options) (*Agent, error) {
	if opts.Self == (common.Address{}) || opts.Owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: agent and owner addresses are required", ErrValidation)
	}
	if opts.Pool == nil || opts.PoolAddr == (common.Address{}) {
		return nil, fmt.Errorf("%w: lending pool reference is required", ErrValidation)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: capability registry is required", ErrValidation)
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	minProfit := big.NewInt(0)
	if opts.MinProfit != nil {
		minProfit = new(big.Int).Set(opts.MinProfit)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Agent{
		self:      opts.Self,
		owner:     opts.Owner,
		registry:  opts.Registry,
		log:       log,
		sink:      opts.Sink,
		now:       now,
		pool:      opts.Pool,
		poolAddr:  opts.PoolAddr,
		minProfit: minProfit,
	}, nil
}

func (a *Agent) Self() common.Address  { return a.self }
func (a *Agent) Owner() common.Address { return a.owner }

func (a *Agent) Halted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.halted
}

func (a *Agent) MinProfit() *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return new(big.Int).Set(a.minProfit)
}

func (a *Agent) LendingPool() common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.poolAddr
}

// ExecuteFlashLoan validates a borrow request and forwards it to the lending
// pool, which disburses the funds and synchronously invokes OnLoanReceived
// before this call returns. No token moves here.
func (a *Agent) ExecuteFlashLoan(ctx context.Context, caller common.Address, assets []common.Address, amounts []*big.Int, payload []byte) error {
	release, err := a.guard.enter()
	if err != nil {
		metrics.TradeAborts.WithLabelValues("reentrancy").Inc()
		return err
	}
	defer release()

	if a.Halted() {
		metrics.TradeAborts.WithLabelValues("halted").Inc()
		return ErrHalted
	}
	if len(assets) == 0 {
		return fmt.Errorf("%w: empty asset list", ErrValidation)
	}
	if len(assets) != len(amounts) {
		return fmt.Errorf("%w: %d assets vs %d amounts", ErrValidation, len(assets), len(amounts))
	}
	for i, amt := range amounts {
		if amt == nil || amt.Sign() <= 0 {
			return fmt.Errorf("%w: non-positive amount at index %d", ErrValidation, i)
		}
	}

	a.mu.RLock()
	pool := a.pool
	a.mu.RUnlock()

	// Zero mode per asset: the debt must not outlive the call.
	modes := make([]uint8, len(assets))

	a.log.Info("flash loan requested",
		zap.String("caller", caller.Hex()),
		zap.Int("assets", len(assets)),
		zap.String("amount0", amounts[0].String()),
	)
	// Staged, not emitted: an aborted attempt must leave no audit trace.
	a.stage(LoanInitiated{Assets: assets, Amounts: amounts})

	a.guard.arm()
	if err := pool.RequestLoan(ctx, a.self, a.self, assets, amounts, modes, a.self, payload, 0); err != nil {
		a.discard()
		return fmt.Errorf("lending pool: %w", err)
	}
	a.flush(ctx)
	return nil
}

// OnLoanReceived is the pool's callback: the borrowed funds are already on
// our balance, the pool pulls principal plus premium from us after we
// return. Only index 0 of the asset/amount/premium vectors is traded; a
// loan that disburses more assets fails at the settlement pull.
func (a *Agent) OnLoanReceived(ctx context.Context, caller common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, payload []byte) (bool, error) {
	release, nested, err := a.guard.enterCallback()
	if err != nil {
		metrics.TradeAborts.WithLabelValues("reentrancy").Inc()
		return false, err
	}
	defer release()

	a.mu.RLock()
	poolAddr := a.poolAddr
	a.mu.RUnlock()

	if caller != poolAddr {
		metrics.TradeAborts.WithLabelValues("unauthorized").Inc()
		return false, fmt.Errorf("%w: callback from %s, want lending pool %s", ErrUnauthorized, caller.Hex(), poolAddr.Hex())
	}
	if initiator != a.self {
		metrics.TradeAborts.WithLabelValues("unauthorized").Inc()
		return false, fmt.Errorf("%w: loan initiated by %s, not this agent", ErrUnauthorized, initiator.Hex())
	}
	if a.Halted() {
		metrics.TradeAborts.WithLabelValues("halted").Inc()
		return false, ErrHalted
	}
	if len(assets) == 0 || len(assets) != len(amounts) || len(assets) != len(premiums) {
		return false, fmt.Errorf("%w: asset/amount/premium vectors disagree", ErrValidation)
	}

	params, err := DecodeParams(payload)
	if err != nil {
		metrics.TradeAborts.WithLabelValues("bad_payload").Inc()
		return false, err
	}
	if nowUnix := a.now().Unix(); params.Deadline.Cmp(big.NewInt(nowUnix)) < 0 {
		metrics.TradeAborts.WithLabelValues("deadline").Inc()
		return false, fmt.Errorf("%w: deadline %s, now %d", ErrDeadlineExceeded, params.Deadline, nowUnix)
	}

	asset, borrowed, premium := assets[0], amounts[0], premiums[0]
	if params.PathA[0] != asset {
		return false, fmt.Errorf("%w: path A starts at %s, borrowed %s", ErrValidation, params.PathA[0].Hex(), asset.Hex())
	}
	intermediate := params.PathA[len(params.PathA)-1]
	if params.PathB[0] != intermediate {
		return false, fmt.Errorf("%w: path B starts at %s, intermediate %s", ErrValidation, params.PathB[0].Hex(), intermediate.Hex())
	}

	token, ok := a.registry.Token(asset)
	if !ok {
		return false, fmt.Errorf("%w: unknown asset %s", ErrValidation, asset.Hex())
	}
	interToken, ok := a.registry.Token(intermediate)
	if !ok {
		return false, fmt.Errorf("%w: unknown intermediate asset %s", ErrValidation, intermediate.Hex())
	}
	venueA, ok := a.registry.Router(params.VenueA)
	if !ok {
		return false, fmt.Errorf("%w: unknown venue %s", ErrValidation, params.VenueA.Hex())
	}
	venueB, ok := a.registry.Router(params.VenueB)
	if !ok {
		return false, fmt.Errorf("%w: unknown venue %s", ErrValidation, params.VenueB.Hex())
	}

	// Leg 1: borrowed asset -> intermediate on venue A. The output floor is
	// deliberately left at zero, matching the deployed contract; slippage
	// protection lives entirely on the second leg's MinFinalOutput.
	if err := token.Approve(ctx, a.self, params.VenueA, borrowed); err != nil {
		return false, fmt.Errorf("approve venue A: %w", err)
	}
	outA, err := venueA.SwapExactInput(ctx, a.self, borrowed, big.NewInt(0), params.PathA, a.self, params.Deadline)
	if err != nil {
		metrics.TradeAborts.WithLabelValues("swap").Inc()
		return false, fmt.Errorf("swap leg A: %w", err)
	}
	if len(outA) == 0 {
		return false, fmt.Errorf("%w: venue A returned no amounts", ErrValidation)
	}
	received := outA[len(outA)-1]

	// Leg 2: intermediate -> borrowed asset on venue B.
	if err := interToken.Approve(ctx, a.self, params.VenueB, received); err != nil {
		return false, fmt.Errorf("approve venue B: %w", err)
	}
	outB, err := venueB.SwapExactInput(ctx, a.self, received, params.MinFinalOutput, params.PathB, a.self, params.Deadline)
	if err != nil {
		metrics.TradeAborts.WithLabelValues("swap").Inc()
		return false, fmt.Errorf("swap leg B: %w", err)
	}
	if len(outB) == 0 {
		return false, fmt.Errorf("%w: venue B returned no amounts", ErrValidation)
	}
	returned := outB[len(outB)-1]

	owed := new(big.Int).Add(borrowed, premium)
	if returned.Cmp(owed) < 0 {
		metrics.TradeAborts.WithLabelValues("unprofitable").Inc()
		return false, fmt.Errorf("%w: returned %s, owed %s", ErrUnprofitable, returned, owed)
	}
	profit := new(big.Int).Sub(returned, owed)
	if floor := a.MinProfit(); profit.Cmp(floor) < 0 {
		metrics.TradeAborts.WithLabelValues("below_floor").Inc()
		return false, fmt.Errorf("%w: profit %s, floor %s", ErrBelowMinProfit, profit, floor)
	}

	// The pool pulls repayment itself after we return; this allowance is the
	// settlement contract, not a transfer.
	if err := token.Approve(ctx, a.self, poolAddr, owed); err != nil {
		return false, fmt.Errorf("approve repayment: %w", err)
	}

	a.log.Info("arbitrage executed",
		zap.String("asset", asset.Hex()),
		zap.String("borrowed", borrowed.String()),
		zap.String("returned", returned.String()),
		zap.String("profit", profit.String()),
	)
	a.stage(ArbitrageExecuted{Initiator: initiator, Premiums: premiums, Profit: profit})
	if !nested {
		// Pool-initiated loans have no orchestrator frame to commit for us.
		a.flush(ctx)
	}
	return true, nil
}

// --- risk governor & administration (owner-gated) ---

func (a *Agent) SetHalted(ctx context.Context, caller common.Address, halted bool) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	a.mu.Lock()
	a.halted = halted
	a.mu.Unlock()
	a.log.Info("halted flag set", zap.Bool("halted", halted))
	a.emit(ctx, HaltedSet{Halted: halted})
	return nil
}

func (a *Agent) SetMinProfit(ctx context.Context, caller common.Address, v *big.Int) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if v == nil || v.Sign() < 0 {
		return fmt.Errorf("%w: min profit must be non-negative", ErrValidation)
	}
	a.mu.Lock()
	a.minProfit = new(big.Int).Set(v)
	a.mu.Unlock()
	a.log.Info("min profit updated", zap.String("min_profit", v.String()))
	a.emit(ctx, MinProfitSet{MinProfit: new(big.Int).Set(v)})
	return nil
}

func (a *Agent) SetLendingPool(_ context.Context, caller, addr common.Address, pool capability.LendingPool) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if pool == nil || addr == (common.Address{}) {
		return fmt.Errorf("%w: lending pool must be non-null", ErrValidation)
	}
	a.mu.Lock()
	a.pool = pool
	a.poolAddr = addr
	a.mu.Unlock()
	a.log.Info("lending pool reassigned", zap.String("pool", addr.Hex()))
	return nil
}

// Withdraw sweeps a stray token balance to the owner.
func (a *Agent) Withdraw(ctx context.Context, caller, asset common.Address, amount *big.Int) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive withdrawal amount", ErrValidation)
	}
	token, ok := a.registry.Token(asset)
	if !ok {
		return fmt.Errorf("%w: unknown asset %s", ErrValidation, asset.Hex())
	}
	if err := token.Transfer(ctx, a.self, a.owner, amount); err != nil {
		return fmt.Errorf("withdraw %s: %w", asset.Hex(), err)
	}
	a.log.Info("withdrawal", zap.String("asset", asset.Hex()), zap.String("amount", amount.String()))
	a.emit(ctx, Withdrawal{Asset: asset, Amount: amount})
	return nil
}

func (a *Agent) requireOwner(caller common.Address) error {
	if caller != a.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (a *Agent) emit(ctx context.Context, ev Event) {
	if a.sink != nil {
		a.sink.Emit(ctx, ev)
	}
}

// stage buffers an event for the atomic unit in flight. flush commits the
// buffer to the sink in staging order once the unit has settled; discard
// drops it when the unit aborts, so the audit trail never records an attempt
// whose balance effects were rolled back.
func (a *Agent) stage(ev Event) {
	a.evMu.Lock()
	a.pending = append(a.pending, ev)
	a.evMu.Unlock()
}

func (a *Agent) flush(ctx context.Context) {
	a.evMu.Lock()
	evs := a.pending
	a.pending = nil
	a.evMu.Unlock()
	for _, ev := range evs {
		switch e := ev.(type) {
		case LoanInitiated:
			metrics.LoansInitiated.Inc()
		case ArbitrageExecuted:
			metrics.TradesExecuted.Inc()
			f, _ := new(big.Float).SetInt(e.Profit).Float64()
			metrics.LastProfitWei.Set(f)
		}
		a.emit(ctx, ev)
	}
}

func (a *Agent) discard() {
	a.evMu.Lock()
	a.pending = nil
	a.evMu.Unlock()
}

// AbortReason maps an agent error to its metrics/audit label.
func AbortReason(err error) string {
	switch {
	case errors.Is(err, ErrReentrancy):
		return "reentrancy"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrHalted):
		return "halted"
	case errors.Is(err, ErrBadPayload):
		return "bad_payload"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline"
	case errors.Is(err, ErrUnprofitable):
		return "unprofitable"
	case errors.Is(err, ErrBelowMinProfit):
		return "below_floor"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "other"
	}
}
