package flashloan

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Audit events are append-only records of everything the agent does that an
// external monitor cares about. Sinks must not block the trade path for long;
// slow transports belong behind a buffered adapter.
type Event interface {
	EventName() string
}

type LoanInitiated struct {
	Assets  []common.Address
	Amounts []*big.Int
}

func (LoanInitiated) EventName() string { return "LoanInitiated" }

type ArbitrageExecuted struct {
	Initiator common.Address
	Premiums  []*big.Int
	Profit    *big.Int
}

func (ArbitrageExecuted) EventName() string { return "ArbitrageExecuted" }

type Withdrawal struct {
	Asset  common.Address
	Amount *big.Int
}

func (Withdrawal) EventName() string { return "Withdrawal" }

type HaltedSet struct {
	Halted bool
}

func (HaltedSet) EventName() string { return "HaltedSet" }

type MinProfitSet struct {
	MinProfit *big.Int
}

func (MinProfitSet) EventName() string { return "MinProfitSet" }

type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// MemorySink collects events in order. Used by tests and the monitor's
// in-process mode.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	s.mu.Unlock()
	return out
}

// Named returns the collected events with the given name.
func (s *MemorySink) Named(name string) []Event {
	var out []Event
	for _, ev := range s.Events() {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}
