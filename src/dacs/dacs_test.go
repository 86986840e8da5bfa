package dacs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	lock, err := Encode(42, []uint32{7001}, CombinatorOR)
	require.NoError(t, err)

	serviceID, codes, combinator, err := Decode(lock)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), serviceID)
	assert.Equal(t, []uint32{7001}, codes)
	assert.Equal(t, CombinatorOR, combinator)
}

func TestEncodeSortsCodes(t *testing.T) {
	lock, err := Encode(1, []uint32{30, 10, 20}, CombinatorAND)
	require.NoError(t, err)

	_, codes, _, err := Decode(lock)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 20, 30}, codes)
}

func TestEncodeRequiresAtLeastOneCode(t *testing.T) {
	_, err := Encode(1, nil, CombinatorOR)
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedLock(t *testing.T) {
	_, _, _, err := Decode(Lock{0x00, 0x01})
	assert.Error(t, err)
}
