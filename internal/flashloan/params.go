package flashloan

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ArbitrageParams travels through the lending pool as an opaque payload.
// The wire form is the ABI tuple
// (address,address,uint256,uint256,address[],address[]) so the off-chain
// trigger and the agent agree byte-for-byte on the schema.
type ArbitrageParams struct {
	VenueA         common.Address
	VenueB         common.Address
	MinFinalOutput *big.Int
	Deadline       *big.Int
	PathA          []common.Address
	PathB          []common.Address
}

var (
	typeAddress, _   = abi.NewType("address", "", nil)
	typeUint256, _   = abi.NewType("uint256", "", nil)
	typeAddresses, _ = abi.NewType("address[]", "", nil)

	paramsArguments = abi.Arguments{
		{Name: "venueA", Type: typeAddress},
		{Name: "venueB", Type: typeAddress},
		{Name: "minFinalOutput", Type: typeUint256},
		{Name: "deadline", Type: typeUint256},
		{Name: "pathA", Type: typeAddresses},
		{Name: "pathB", Type: typeAddresses},
	}
)

// Encode packs the params into their ABI wire form.
func (p ArbitrageParams) Encode() ([]byte, error) {
	if p.MinFinalOutput == nil || p.Deadline == nil {
		return nil, fmt.Errorf("%w: nil amount field", ErrValidation)
	}
	out, err := paramsArguments.Pack(p.VenueA, p.VenueB, p.MinFinalOutput, p.Deadline, p.PathA, p.PathB)
	if err != nil {
		return nil, fmt.Errorf("pack arbitrage params: %w", err)
	}
	return out, nil
}

// DecodeParams unpacks the opaque payload. Any shape mismatch is
// ErrBadPayload, distinct from business-logic failures downstream.
func DecodeParams(payload []byte) (ArbitrageParams, error) {
	vals, err := paramsArguments.Unpack(payload)
	if err != nil {
		return ArbitrageParams{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(vals) != 6 {
		return ArbitrageParams{}, fmt.Errorf("%w: %d fields", ErrBadPayload, len(vals))
	}
	var (
		p  ArbitrageParams
		ok bool
	)
	if p.VenueA, ok = vals[0].(common.Address); !ok {
		return ArbitrageParams{}, fmt.Errorf("%w: venueA", ErrBadPayload)
	}
	if p.VenueB, ok = vals[1].(common.Address); !ok {
		return ArbitrageParams{}, fmt.Errorf("%w: venueB", ErrBadPayload)
	}
	if p.MinFinalOutput, ok = vals[2].(*big.Int); !ok {
		return ArbitrageParams{}, fmt.Errorf("%w: minFinalOutput", ErrBadPayload)
	}
	if p.Deadline, ok = vals[3].(*big.Int); !ok {
		return ArbitrageParams{}, fmt.Errorf("%w: deadline", ErrBadPayload)
	}
	if p.PathA, ok = vals[4].([]common.Address); !ok {
		return ArbitrageParams{}, fmt.Errorf("%w: pathA", ErrBadPayload)
	}
	if p.PathB, ok = vals[5].([]common.Address); !ok {
		return ArbitrageParams{}, fmt.Errorf("%w: pathB", ErrBadPayload)
	}
	if len(p.PathA) < 2 || len(p.PathB) < 2 {
		return ArbitrageParams{}, fmt.Errorf("%w: swap path too short", ErrBadPayload)
	}
	return p, nil
}
