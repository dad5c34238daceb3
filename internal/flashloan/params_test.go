package flashloan

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams_EncodeDecode(t *testing.T) {
	in := ArbitrageParams{
		VenueA:         addrVenueA,
		VenueB:         addrVenueB,
		MinFinalOutput: big.NewInt(1_000_005),
		Deadline:       big.NewInt(time.Now().Unix() + 120),
		PathA:          []common.Address{addrTokenX, addrTokenY},
		PathB:          []common.Address{addrTokenY, addrTokenZ, addrTokenX},
	}
	payload, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeParams(payload)
	require.NoError(t, err)
	assert.Equal(t, in.VenueA, out.VenueA)
	assert.Equal(t, in.VenueB, out.VenueB)
	assert.Equal(t, 0, in.MinFinalOutput.Cmp(out.MinFinalOutput))
	assert.Equal(t, 0, in.Deadline.Cmp(out.Deadline))
	assert.Equal(t, in.PathA, out.PathA)
	assert.Equal(t, in.PathB, out.PathB)
}

func TestDecodeParams_GarbageIsBadPayload(t *testing.T) {
	for _, payload := range [][]byte{
		nil,
		{},
		{0x01},
		make([]byte, 31),
		make([]byte, 64),
	} {
		_, err := DecodeParams(payload)
		assert.ErrorIs(t, err, ErrBadPayload)
	}
}

func TestDecodeParams_ShortPathIsBadPayload(t *testing.T) {
	in := ArbitrageParams{
		VenueA:         addrVenueA,
		VenueB:         addrVenueB,
		MinFinalOutput: big.NewInt(0),
		Deadline:       big.NewInt(1),
		PathA:          []common.Address{addrTokenX},
		PathB:          []common.Address{addrTokenY, addrTokenX},
	}
	payload, err := in.Encode()
	require.NoError(t, err)

	_, err = DecodeParams(payload)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestParams_EncodeRejectsNilAmounts(t *testing.T) {
	p := ArbitrageParams{VenueA: addrVenueA, VenueB: addrVenueB}
	_, err := p.Encode()
	assert.ErrorIs(t, err, ErrValidation)
}
