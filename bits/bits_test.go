package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitstreamPushPull(t *testing.T) {
	buf := make([]byte, 4)
	s := NewBitstream(buf, 32, 0)

	s.PushUint8(0x3, 2)  // 11
	s.PushUint8(0x0, 2)  // 00
	s.PushUint8(0xAB, 8) // 10101011

	assert.Equal(t, 12, s.LengthBits())

	s.SetPosition(0)
	assert.Equal(t, uint8(0x3), s.PullUint8(2))
	assert.Equal(t, uint8(0x0), s.PullUint8(2))
	assert.Equal(t, uint8(0xAB), s.PullUint8(8))
}

func TestBitstreamPullUint16BE(t *testing.T) {
	buf := []byte{0xAB, 0xC0}
	s := NewBitstream(buf, 16, 16)
	assert.Equal(t, uint16(0xABC), s.PullUint16BE(12))
}

func TestBitstreamOverflowPanics(t *testing.T) {
	buf := make([]byte, 1)
	s := NewBitstream(buf, 4, 0)
	assert.Panics(t, func() {
		for i := 0; i < 5; i++ {
			s.PushBit(true)
		}
	})
}

func TestDigitsPullAndUnderrun(t *testing.T) {
	d := NewDigits([]byte("12345"))
	assert.Equal(t, uint32(12), d.PullUint32(2))
	assert.Equal(t, uint32(345), d.PullUint32(3))
	assert.Equal(t, 5, d.Position())

	d2 := NewDigits([]byte("12"))
	var underrun bool
	val := d2.TryPullUint32(5, &underrun)
	assert.True(t, underrun)
	assert.Equal(t, uint32(0xFFFFFFFF), val)
}

func TestBitsetAddContainsRemoveClear(t *testing.T) {
	buf := make([]byte, 3)
	bs := NewBitset(buf)

	assert.False(t, bs.Contains(5))
	bs.Add(5)
	assert.True(t, bs.Contains(5))
	bs.Remove(5)
	assert.False(t, bs.Contains(5))

	bs.Add(0)
	bs.Add(23)
	bs.Clear()
	assert.False(t, bs.Contains(0))
	assert.False(t, bs.Contains(23))
}

func TestCRCCCITT(t *testing.T) {
	// CRC must be stable and sensitive to any byte change.
	a := CRCCCITT([]byte{0x01, 0x02, 0x03})
	b := CRCCCITT([]byte{0x01, 0x02, 0x04})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, CRCCCITT([]byte{0x01, 0x02, 0x03}))
}
