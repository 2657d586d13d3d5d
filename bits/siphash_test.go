package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Reference SipHash-2-4 test vectors (key 00..0f, message = 0x00, 0x01, ...,
// n-1 bytes), as published alongside the original SipHash reference
// implementation.
func TestSipHashReferenceVectors(t *testing.T) {
	var key Key
	for i := range key {
		key[i] = byte(i)
	}

	vectors := []uint64{
		0x726fdb47dd0e0e31,
		0x74f839c593dc67fd,
		0x0d6c8009d9a94f5a,
		0x85676696d7fb7e2d,
	}

	for n, want := range vectors {
		msg := make([]byte, n)
		for i := range msg {
			msg[i] = byte(i)
		}
		got := Compute(key, msg).AsUint64()
		assert.Equalf(t, want, got, "message length %d", n)
	}
}

func TestComputePseudorandomBytesLength(t *testing.T) {
	out := ComputePseudorandomBytes(FixedZeroKey, []byte{0x01, 0x02}, 4)
	assert.Len(t, out, 4)

	assert.Panics(t, func() {
		ComputePseudorandomBytes(FixedZeroKey, []byte{1, 2, 3, 4, 5}, 4)
	})
}

func TestCheckValueAsUint64LittleEndian(t *testing.T) {
	cv := CheckValue{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	assert.Equal(t, uint64(1), cv.AsUint64())
}
