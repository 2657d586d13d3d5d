package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRange(t *testing.T) {
	assert.Equal(t, Range(0b1101_1000, I1, I2), byte(0b0000_0011))
	assert.Equal(t, Range(0b1101_1000, I2, I4), byte(0b0000_0101))
	assert.Equal(t, Range(0b1101_1000, I4, I5), byte(0b0000_0011))
	assert.Equal(t, Range(0b1101_1000, I5, I8), byte(0b0000_1000))
}

func TestRangePanicsOnInvertedRange(t *testing.T) {
	assert.Panics(t, func() { Range(0, I5, I1) })
}

func BenchmarkRange(b *testing.B) {
	Range(0b1101_1000, I5, I8)
}
