package vlq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"
)

func TestAppendDecodeRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 127, 128, 129, 255, 256,
		1 << 14, (1 << 14) - 1, (1 << 21) - 1,
		1 << 28, 1 << 35, 1 << 49, 1 << 62,
		^uint64(0),
	}
	for _, v := range values {
		buf := AppendUint(nil, v)
		assert.Equal(t, SizeUint(v), len(buf), "SizeUint mismatch for %d", v)

		got, n, err := DecodeUint(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, v, got)
	}
}

func TestEncodingIsMostSignificantGroupFirst(t *testing.T) {
	// 128 = 0b1_0000000 needs two 7-bit groups: high group 1, low group 0.
	// Most-significant-first means the continuation byte (high bit set)
	// carries the "1" group, followed by the terminal "0" group.
	buf := AppendUint(nil, 128)
	require.Len(t, buf, 2)
	assert.Equal(t, byte(0x81), buf[0]) // continuation bit + group value 1
	assert.Equal(t, byte(0x00), buf[1]) // terminal byte, group value 0
}

func TestDecodeConsumesOnlyItsOwnBytes(t *testing.T) {
	buf := AppendUint(nil, 300)
	trailing := append(append([]byte{}, buf...), 0xFF, 0xFF)
	v, n, err := DecodeUint(trailing)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), v)
	assert.Equal(t, len(buf), n)
}

func TestDecodeUnterminatedIsCorruption(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF}
	_, _, err := DecodeUint(buf)
	require.Error(t, err)
	assert.True(t, dberr.Is(err, dberr.KindCorruption))
}

func TestDecodeEmptyIsCorruption(t *testing.T) {
	_, _, err := DecodeUint(nil)
	require.Error(t, err)
	assert.True(t, dberr.Is(err, dberr.KindCorruption))
}
