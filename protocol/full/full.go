// Package full implements the full, 10-symbol decimal keycode wire
// protocol: `*`/`#`-bookended activation, factory, and passthrough
// messages authenticated with a 6-digit decimal MAC. Grounded on the
// full-protocol sections of nexus_keycode_pro.c.
package full

import (
	"github.com/angaza/nexus-keycode/bits"
	"github.com/angaza/nexus-keycode/mask"
	"github.com/angaza/nexus-keycode/protocol"
	"github.com/angaza/nexus-keycode/replay"
)

// AlphabetLength is the number of distinct symbols full-protocol frames
// are drawn from (the ten decimal digits).
const AlphabetLength = 10

// ActivationMessageLength is the fixed length of an activation frame;
// shorter frames are factory or passthrough messages.
const ActivationMessageLength = 14

const checkCharacterCount = 6
const activationBodyCharacterCount = ActivationMessageLength - checkCharacterCount

const deviceIDMinChars = 8
const deviceIDMaxChars = 10

const secondsInHour = 60 * 60
const unlockIncrementHours = 99999

const universalShortTestSeconds = 127
const qcLongTestSeconds = 3600
const qcShortTestSeconds = 600

// Type codes occupy the single leading digit of every full-protocol frame.
const (
	TypeActivationAddCredit uint8 = 0
	TypeActivationSetCredit uint8 = 1
	TypeActivationDemoCode  uint8 = 2
	TypeActivationWipeState uint8 = 3
	TypeFactoryAllowTest    uint8 = 4
	TypeFactoryQCTest       uint8 = 5
	TypeFactoryDeviceIDDisplay            uint8 = 6
	TypeFactoryNoMACDeviceIDConfirmation  uint8 = 7
	TypePassthroughCommand                uint8 = 8
)

// Wipe-state target values (shared numbering with the small protocol's
// maintenance function IDs).
const (
	WipeTargetCreditAndMask uint8 = 0
	WipeTargetCredit        uint8 = 1
	WipeTargetMaskOnly      uint8 = 2
)

// Message is the parsed form of a full-protocol frame.
type Message struct {
	Check         uint32
	TypeCode      uint8
	FullMessageID uint32

	Hours  uint32 // add/set credit, demo code (demo code overloads this as minutes)
	Target uint8  // wipe state

	QCMinutes uint8 // factory QC test

	DeviceID uint32 // NOMAC device ID confirmation

	PassthroughBody []byte // passthrough command payload digits
}

// QCCounters tracks the lifetime count of short- and long-duration QC
// test codes a unit has accepted, packed into a single NV byte (4 bits
// each) exactly as nexus_keycode_pro.c's qc_test_codes_received field.
type QCCounters struct {
	raw byte
}

func (c QCCounters) Long() uint8 { return mask.Range(c.raw, mask.I1, mask.I4) }
func (c QCCounters) Short() uint8 { return mask.Range(c.raw, mask.I5, mask.I8) }

// IncrementLong bumps the long-test counter and reports whether it did so;
// a counter already at its lifetime max or at 15 leaves raw untouched.
func (c *QCCounters) IncrementLong(max uint8) bool {
	next := c.Long() + 1
	if next > 15 || next > max {
		return false
	}
	c.raw = (c.raw & 0x0F) | (next << 4)
	return true
}

// IncrementShort bumps the short-test counter and reports whether it did so.
func (c *QCCounters) IncrementShort(max uint8) bool {
	next := c.Short() + 1
	if next > 15 || next > max {
		return false
	}
	c.raw = (c.raw & 0xF0) | next
	return true
}

// Reset zeroes both counters and reports whether raw actually changed.
func (c *QCCounters) Reset() bool {
	changed := c.raw != 0
	c.raw = 0
	return changed
}

// Marshal/Unmarshal let the keycode core persist the packed byte as part
// of the protocol NV block, alongside the replay window.
func (c QCCounters) Marshal() byte        { return c.raw }
func (c *QCCounters) Unmarshal(raw byte) { c.raw = raw }

// Codec parses and applies full-protocol frames.
type Codec struct {
	Window         *replay.Window
	AboveCount     uint8
	QC             *QCCounters
	ShortQCMax     uint8
	LongQCMax      uint8
	DeviceIDDigits uint32
}

func mathMod10(x int32) uint8 {
	for x < 0 {
		x += 10
	}
	return uint8(x % 10)
}

func inferFullMessageID(compressed uint8, center uint32, belowCount, aboveCount uint8) uint32 {
	cur := center - uint32(belowCount)
	limit := center + uint32(aboveCount)
	for cur <= limit {
		if uint8(cur%100) == compressed {
			break
		}
		cur++
	}
	return cur
}

// checkFieldFromFrame extracts the trailing 6-digit MAC from a decimal
// frame without consuming/modifying it otherwise.
func checkFieldFromFrame(frame []byte) uint32 {
	digits := bits.NewDigits(frame)
	nonCheck := len(frame) - checkCharacterCount
	if nonCheck < 0 {
		return 0
	}
	for i := 0; i < nonCheck; i++ {
		digits.PullUint8(1)
	}
	return digits.PullUint32(checkCharacterCount)
}

func deinterleaveActivationBody(body []byte, check uint32) {
	checkBytes := bits.PackUint32LE(check)
	prng := bits.ComputePseudorandomBytes(bits.FixedZeroKey, checkBytes, activationBodyCharacterCount)
	for i := range body {
		digit := int32(body[i] - '0')
		body[i] = mathMod10(digit-int32(prng[i])) + '0'
	}
}

func (c *Codec) parseActivation(frame []byte) (Message, bool) {
	check := checkFieldFromFrame(frame)

	body := append([]byte(nil), frame[:activationBodyCharacterCount]...)
	deinterleaveActivationBody(body, check)

	digits := bits.NewDigits(body)
	msg := Message{Check: check}
	msg.TypeCode = digits.PullUint8(1)

	receivedID := digits.PullUint8(2)
	if uint16(receivedID) > uint16(c.AboveCount)+uint16(replay.BelowCount) {
		return Message{}, false
	}
	msg.FullMessageID = inferFullMessageID(receivedID, c.Window.Center(), replay.BelowCount, c.AboveCount)

	switch msg.TypeCode {
	case TypeActivationAddCredit, TypeActivationDemoCode, TypeActivationSetCredit:
		msg.Hours = digits.PullUint32(5)
	case TypeActivationWipeState:
		digits.PullUint32(4)
		msg.Target = digits.PullUint8(1)
	default:
		return Message{}, false
	}

	return msg, digits.Position() == digits.Length()
}

func (c *Codec) parseFactoryOrPassthrough(frame []byte, platform protocol.Platform) (Message, bool) {
	digits := bits.NewDigits(frame)
	var underrun bool

	msg := Message{}
	msg.TypeCode = uint8(digits.TryPullUint32(1, &underrun))

	switch {
	case msg.TypeCode < TypeFactoryNoMACDeviceIDConfirmation:
		if msg.TypeCode == TypeFactoryQCTest {
			digits.PullUint32(3)
			msg.QCMinutes = digits.PullUint8(2)
		}
		msg.Check = digits.TryPullUint32(checkCharacterCount, &underrun)

	case msg.TypeCode == TypeFactoryNoMACDeviceIDConfirmation:
		serialLen := len(frame) - 1
		if serialLen < deviceIDMinChars || serialLen > deviceIDMaxChars {
			return Message{}, false
		}
		msg.DeviceID = digits.TryPullUint32(serialLen, &underrun)

	case msg.TypeCode == TypePassthroughCommand:
		if digits.Remaining() > 1 && len(frame) != ActivationMessageLength {
			body := append([]byte(nil), frame[digits.Position():]...)
			result := platform.PassthroughKeycode(body)
			return Message{TypeCode: msg.TypeCode}, result == protocol.PassthroughErrorNone
		}
		return Message{}, false

	default:
		return Message{}, false
	}

	return msg, !underrun && digits.Position() == digits.Length()
}

// Parse dispatches to the activation or factory/passthrough parser by
// frame length, mirroring nexus_keycode_pro_full_parse.
func (c *Codec) Parse(frame []byte, platform protocol.Platform) (Message, bool) {
	if len(frame) == ActivationMessageLength {
		return c.parseActivation(frame)
	}
	if len(frame) > ActivationMessageLength {
		return Message{}, false
	}
	return c.parseFactoryOrPassthrough(frame, platform)
}

func computeCheck(msg *Message, key bits.Key) uint32 {
	buf := make([]byte, 9)
	copy(buf[0:4], bits.PackUint32LE(msg.FullMessageID))
	buf[4] = msg.TypeCode
	switch msg.TypeCode {
	case TypeActivationAddCredit, TypeActivationDemoCode, TypeActivationSetCredit:
		copy(buf[5:9], bits.PackUint32LE(msg.Hours))
	case TypeActivationWipeState:
		buf[5] = msg.Target
	}
	value := bits.Compute(key, buf)
	lower := value.AsUint64() & 0xFFFFFFFF
	return uint32(lower % 1000000)
}

// Apply validates and applies a parsed activation or factory message,
// reporting whether the replay window or QC counters (the NV block this
// codec owns) actually changed, so the caller only persists when needed.
// Passthrough messages are handled entirely inside Parse and should not
// reach Apply.
func (c *Codec) Apply(msg *Message, platform protocol.Platform) (protocol.Response, bool) {
	var key bits.Key
	if msg.TypeCode < TypeFactoryAllowTest {
		key = platform.SecretKey()
	} else {
		key = bits.FixedZeroKey
	}

	expected := computeCheck(msg, key)
	if msg.Check != expected && msg.TypeCode < TypeFactoryNoMACDeviceIDConfirmation {
		return protocol.ResponseInvalid, false
	}

	if msg.TypeCode < TypeFactoryAllowTest {
		return c.applyActivation(msg, platform)
	}
	return c.applyFactory(msg, platform)
}

func (c *Codec) applyActivation(msg *Message, platform protocol.Platform) (protocol.Response, bool) {
	if c.Window.IsSet(msg.FullMessageID) {
		return protocol.ResponseValidDuplicate, false
	}

	creditSeconds := msg.Hours * secondsInHour

	switch msg.TypeCode {
	case TypeActivationAddCredit:
		changed := c.Window.Set(msg.FullMessageID)
		if platform.PAYGStateCurrent() != protocol.PAYGStateUnlocked {
			platform.PAYGCreditAdd(creditSeconds)
		} else {
			return protocol.ResponseValidDuplicate, changed
		}
		return protocol.ResponseValidApplied, changed

	case TypeActivationDemoCode:
		if platform.PAYGStateCurrent() != protocol.PAYGStateUnlocked {
			platform.PAYGCreditAdd(msg.Hours * 60)
		}
		return protocol.ResponseValidApplied, false

	case TypeActivationSetCredit:
		changed := c.Window.MaskBelow(msg.FullMessageID + 1)
		if msg.Hours == unlockIncrementHours {
			platform.PAYGCreditUnlock()
		} else {
			platform.PAYGCreditSet(creditSeconds)
		}
		return protocol.ResponseValidApplied, changed

	case TypeActivationWipeState:
		changed := c.Window.MaskBelow(msg.FullMessageID + 1)
		switch msg.Target {
		case WipeTargetCreditAndMask:
			if c.Window.Wipe() {
				changed = true
			}
			if c.QC.Reset() {
				changed = true
			}
			platform.PAYGCreditSet(0)
		case WipeTargetCredit:
			platform.PAYGCreditSet(0)
		case WipeTargetMaskOnly:
			if c.Window.Wipe() {
				changed = true
			}
			if c.QC.Reset() {
				changed = true
			}
		default:
			return protocol.ResponseInvalid, false
		}
		return protocol.ResponseValidApplied, changed

	default:
		return protocol.ResponseInvalid, false
	}
}

func (c *Codec) canAcceptQCCode(seconds uint32, state protocol.PAYGState) bool {
	if state == protocol.PAYGStateUnlocked {
		return false
	}
	isShort := seconds <= qcShortTestSeconds
	if seconds != qcLongTestSeconds && state != protocol.PAYGStateDisabled {
		return false
	}
	if isShort && c.QC.Short() < c.ShortQCMax {
		return true
	}
	if !isShort && c.QC.Long() < c.LongQCMax {
		return true
	}
	return false
}

func (c *Codec) applyFactory(msg *Message, platform protocol.Platform) (protocol.Response, bool) {
	applied := false
	changed := false

	switch msg.TypeCode {
	case TypeFactoryAllowTest:
		if platform.PAYGStateCurrent() == protocol.PAYGStateDisabled {
			applied = true
			platform.PAYGCreditAdd(universalShortTestSeconds)
		}

	case TypeFactoryQCTest:
		seconds := uint32(msg.QCMinutes) * 60
		applied = c.canAcceptQCCode(seconds, platform.PAYGStateCurrent())
		if applied {
			platform.PAYGCreditAdd(seconds)
			if seconds <= qcShortTestSeconds {
				changed = c.QC.IncrementShort(c.ShortQCMax)
			} else {
				changed = c.QC.IncrementLong(c.LongQCMax)
			}
		}

	case TypeFactoryDeviceIDDisplay:
		// no credit or state change; fall through to the display response.

	case TypeFactoryNoMACDeviceIDConfirmation:
		if msg.DeviceID == platform.UserFacingID() {
			applied = true
		}

	default:
		return protocol.ResponseInvalid, false
	}

	switch {
	case applied:
		return protocol.ResponseValidApplied, changed
	case msg.TypeCode == TypeFactoryDeviceIDDisplay:
		return protocol.ResponseDisplayDeviceID, false
	default:
		return protocol.ResponseValidDuplicate, false
	}
}

// ParseAndApply parses frame and, if well-formed, applies it. Passthrough
// commands are applied as a side effect of parsing and report
// ResponseNone so the core emits no feedback for them. The returned bool
// reports whether the replay window or QC counters actually changed, so
// the caller only persists NV when a write is actually needed.
func (c *Codec) ParseAndApply(frame []byte, platform protocol.Platform) (protocol.Response, bool) {
	msg, ok := c.Parse(frame, platform)
	if !ok {
		return protocol.ResponseInvalid, false
	}
	if msg.TypeCode == TypePassthroughCommand {
		return protocol.ResponseNone, false
	}
	return c.Apply(&msg, platform)
}
