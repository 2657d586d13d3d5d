package bits

import "math"

// Digits is a reader over ASCII decimal digit characters, grounded on
// nexus_digits in nexus_util.c. Pull methods consume a fixed count of
// characters and interpret them as an unsigned decimal value.
type Digits struct {
	chars    []byte
	position int
}

// NewDigits wraps chars (which must be ASCII '0'-'9') for digit-stream
// access.
func NewDigits(chars []byte) *Digits {
	return &Digits{chars: chars}
}

// Remaining reports how many digit characters are left unread.
func (d *Digits) Remaining() int {
	return len(d.chars) - d.position
}

// Position returns the number of digits already consumed.
func (d *Digits) Position() int { return d.position }

// Length returns the total number of digits in the stream.
func (d *Digits) Length() int { return len(d.chars) }

func charsToUint32(chars []byte) uint32 {
	var value uint32
	for _, c := range chars {
		if c < '0' || c > '9' {
			panic("bits: char not an ASCII digit")
		}
		value = value*10 + uint32(c-'0')
	}
	return value
}

// PullUint32 consumes count digits and returns their value. Panics if fewer
// than count digits remain; callers that need graceful underrun handling
// should use TryPullUint32.
func (d *Digits) PullUint32(count int) uint32 {
	if d.position+count > len(d.chars) {
		panic("bits: too many digits pulled")
	}
	value := charsToUint32(d.chars[d.position : d.position+count])
	d.position += count
	return value
}

// TryPullUint32 consumes count digits, or sets *underrun and returns
// math.MaxUint32 if the stream has already underrun or does not have
// enough digits remaining.
func (d *Digits) TryPullUint32(count int, underrun *bool) uint32 {
	if *underrun || d.Remaining() < count {
		*underrun = true
		return math.MaxUint32
	}
	return d.PullUint32(count)
}

// PullUint8 consumes count digits, returning math.MaxUint8 if the result
// does not fit or there aren't enough digits remaining.
func (d *Digits) PullUint8(count int) uint8 {
	if d.Remaining() < count {
		return math.MaxUint8
	}
	result := d.PullUint32(count)
	if result > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(result)
}

// PullUint16 consumes count digits, returning math.MaxUint16 if the result
// does not fit or there aren't enough digits remaining.
func (d *Digits) PullUint16(count int) uint16 {
	if d.Remaining() < count {
		return math.MaxUint16
	}
	result := d.PullUint32(count)
	if result > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(result)
}
