package extended

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angaza/nexus-keycode/bits"
	"github.com/angaza/nexus-keycode/protocol"
	"github.com/angaza/nexus-keycode/replay"
)

type testPlatform struct {
	secretKey       bits.Key
	setSecs         uint32
	unlocked        bool
	restrictedReset bool
}

func (p *testPlatform) SecretKey() bits.Key                  { return p.secretKey }
func (p *testPlatform) UserFacingID() uint32                 { return 0 }
func (p *testPlatform) PAYGStateCurrent() protocol.PAYGState { return protocol.PAYGStateEnabled }
func (p *testPlatform) PAYGCreditAdd(seconds uint32)         {}
func (p *testPlatform) PAYGCreditSet(seconds uint32)         { p.setSecs = seconds }
func (p *testPlatform) PAYGCreditUnlock()                    { p.unlocked = true }
func (p *testPlatform) PassthroughKeycode(keys []byte) protocol.PassthroughError {
	return protocol.PassthroughErrorUnrecognizedCommand
}
func (p *testPlatform) ResetRestrictedFlag() { p.restrictedReset = true }

var testKey = bits.Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

// encodeStream builds a bitstream matching the wire layout: a leading
// indicator bit (consumed by the caller before Parse is ever invoked),
// followed by the 25-bit extended command body.
func encodeStream(t *testing.T, messageID uint32, incrementID uint8, key bits.Key) *bits.Bitstream {
	t.Helper()
	truncatedID := uint8(messageID & 0x3)
	check := computeCheck(messageID, TypeSetCreditAndWipeFlag, incrementID, truncatedID, key)

	stream := bits.NewBitstream(make([]byte, 4), 32, 0)
	stream.PushUint8(1, 1) // indicator bit: this is an extended command
	stream.PushUint8(TypeSetCreditAndWipeFlag, 3)
	stream.PushUint8(truncatedID, 2)
	stream.PushUint8(incrementID, 8)
	stream.PushUint8(uint8(check>>4), 8)
	stream.PushUint8(uint8(check&0xF), 4)

	stream.SetPosition(1)
	return stream
}

func TestExtendedCodecSetCreditRoundTrip(t *testing.T) {
	window := replay.New(8)
	codec := &Codec{Window: window, AboveCount: 8}

	stream := encodeStream(t, window.Center(), 10, testKey)
	platform := &testPlatform{secretKey: testKey}

	resp, changed := codec.ParseAndApply(stream, platform)
	require.Equal(t, protocol.ResponseValidApplied, resp)
	assert.Equal(t, uint32(11*secondsInDay), platform.setSecs)
	assert.True(t, platform.restrictedReset)
	assert.True(t, changed, "masking the window below a newly-applied message must report a change")
}

func TestExtendedCodecUnlockIncrement(t *testing.T) {
	window := replay.New(8)
	codec := &Codec{Window: window, AboveCount: 8}

	stream := encodeStream(t, window.Center(), unlockIncrementID, testKey)
	platform := &testPlatform{secretKey: testKey}

	resp, changed := codec.ParseAndApply(stream, platform)
	require.Equal(t, protocol.ResponseValidApplied, resp)
	assert.True(t, platform.unlocked)
	assert.True(t, changed, "masking the window below a newly-applied message must report a change")
}

func TestExtendedCodecRejectsBadMAC(t *testing.T) {
	window := replay.New(8)
	codec := &Codec{Window: window, AboveCount: 8}

	stream := encodeStream(t, window.Center(), 10, testKey)
	platform := &testPlatform{secretKey: bits.Key{}}

	resp, changed := codec.ParseAndApply(stream, platform)
	assert.Equal(t, protocol.ResponseInvalid, resp)
	assert.False(t, changed, "a bad MAC must never report an NV change")
}

func TestExtendedCodecRejectsUnknownTypeCode(t *testing.T) {
	stream := bits.NewBitstream(make([]byte, 4), 32, 0)
	stream.PushUint8(1, 1)
	stream.PushUint8(5, 3) // unsupported type code
	stream.PushUint8(0, 2)
	stream.PushUint8(0, 8)
	stream.PushUint8(0, 8)
	stream.PushUint8(0, 4)
	stream.SetPosition(1)

	window := replay.New(8)
	codec := &Codec{Window: window, AboveCount: 8}
	platform := &testPlatform{secretKey: testKey}

	resp, changed := codec.ParseAndApply(stream, platform)
	assert.Equal(t, protocol.ResponseInvalid, resp)
	assert.False(t, changed, "an unsupported type code must never report an NV change")
}

func TestExtendedCodecAppliedIDMasksWindowBelow(t *testing.T) {
	window := replay.New(8)
	codec := &Codec{Window: window, AboveCount: 8}

	low := window.Center() - uint32(replay.BelowCount)
	stream := encodeStream(t, low, 10, testKey)
	platform := &testPlatform{secretKey: testKey}

	resp, changed := codec.ParseAndApply(stream, platform)
	require.Equal(t, protocol.ResponseValidApplied, resp)
	assert.True(t, window.IsSet(low))
	assert.True(t, changed, "masking the window below a newly-applied message must report a change")
}
