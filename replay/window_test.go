package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowDefaultCenterAndWithin(t *testing.T) {
	w := New(8)
	assert.Equal(t, DefaultCenter, w.Center())
	assert.True(t, w.Within(0))
	assert.True(t, w.Within(23))
	assert.True(t, w.Within(23+8))
	assert.False(t, w.Within(23+9))
}

func TestWindowSetAndIsSet(t *testing.T) {
	w := New(8)
	assert.False(t, w.IsSet(10))
	assert.True(t, w.Set(10))
	assert.True(t, w.IsSet(10))

	// setting again is a no-op
	assert.False(t, w.Set(10))
}

func TestWindowSetBeyondCenterShiftsRight(t *testing.T) {
	w := New(8)
	w.Set(5)

	assert.True(t, w.Set(30))
	assert.Equal(t, uint32(30), w.Center())
	assert.True(t, w.IsSet(30))
	// 5 is now far enough below center that it should have fallen
	// out of the window.
	assert.False(t, w.Within(5))
}

func TestWindowRejectsIDTooFarBelow(t *testing.T) {
	w := New(8)
	w.ShiftRight(1000)
	assert.False(t, w.Set(0))
	assert.False(t, w.IsSet(0))
}

func TestWindowMaskBelow(t *testing.T) {
	w := New(8)
	assert.True(t, w.MaskBelow(10))
	for i := uint32(0); i < 10; i++ {
		assert.True(t, w.IsSet(i), "id %d should be masked", i)
	}
	assert.False(t, w.IsSet(10))

	// masking again below the same threshold changes nothing
	assert.False(t, w.MaskBelow(10))
}

func TestWindowMaskBelowShiftsCenterUp(t *testing.T) {
	w := New(8)
	assert.True(t, w.MaskBelow(100))
	assert.Equal(t, uint32(99), w.Center())
	assert.True(t, w.IsSet(99))
}

func TestWindowWipeResetsState(t *testing.T) {
	w := New(8)
	w.Set(10)
	w.ShiftRight(5)

	assert.True(t, w.Wipe())
	assert.Equal(t, DefaultCenter, w.Center())
	assert.False(t, w.IsSet(DefaultCenter))

	// wiping an already-default window changes nothing
	assert.False(t, w.Wipe())
}

func TestWindowMarshalRoundTrip(t *testing.T) {
	w := New(8)
	w.Set(10)
	w.Set(20)

	buf := w.Marshal()
	assert.Len(t, buf, MarshaledLen)

	restored := New(8)
	restored.Unmarshal(buf)

	assert.Equal(t, w.Center(), restored.Center())
	assert.True(t, restored.IsSet(10))
	assert.True(t, restored.IsSet(20))
	assert.False(t, restored.IsSet(15))
}

func TestWindowShiftRightLargerThanBelowCountClearsAll(t *testing.T) {
	w := New(8)
	w.Set(10)
	w.Set(20)

	w.ShiftRight(uint32(BelowCount) + 1)
	assert.False(t, w.IsSet(10))
	assert.False(t, w.IsSet(20))
}
