// Package small implements the reduced, 4-symbol keycode wire protocol:
// 14 symbols encoding a 28-bit frame, PRNG-deinterleaved and authenticated
// with a 12-bit truncated SipHash MAC. Grounded on the small-protocol
// sections of nexus_keycode_pro.c.
package small

import (
	"github.com/angaza/nexus-keycode/bits"
	"github.com/angaza/nexus-keycode/protocol"
	"github.com/angaza/nexus-keycode/replay"
)

// AlphabetLength is the number of distinct symbols small-protocol frames
// are drawn from.
const AlphabetLength = 4

// MessageLength is the fixed number of symbols following the bookend
// start key in every small-protocol message.
const MessageLength = 14

// Type codes occupy the 2-bit type_code field.
const (
	TypeActivationAddCredit uint8 = 0
	TypeActivationSetCredit uint8 = 1
	TypeMaintenanceOrTest   uint8 = 2
)

const maxTestFunctionID = 127
const setLockIncrementID = 254
const setUnlockIncrementID = 255
const unlockIncrement = 0xFFFF

const secondsInDay = 60 * 60 * 24

// Maintenance function IDs (function_id & 0x7F once the high bit marks
// "maintenance" rather than "test").
const (
	maintenanceWipeCreditAndMask uint8 = 0
	maintenanceWipeCredit        uint8 = 1
	maintenanceWipeMaskOnly      uint8 = 2
)

// Test function IDs (function_id <= maxTestFunctionID).
const (
	testEnableShort uint8 = 0
	testEnableQC    uint8 = 1
)

const universalShortTestSeconds = 127
const qcLongTestSeconds = 3600

// Message is the parsed form of a small-protocol frame.
type Message struct {
	Check         uint16
	TypeCode      uint8
	FullMessageID uint32

	// Activation body (TypeCode < TypeMaintenanceOrTest)
	IncrementID uint8

	// Maintenance/test body (TypeCode == TypeMaintenanceOrTest)
	FunctionID uint8
}

// Codec parses and applies small-protocol frames against a replay window
// and a QC long-test counter (small protocol has no short QC variant).
// AboveCount must match the aboveCount the Window was constructed with.
type Codec struct {
	Alphabet       [AlphabetLength]byte
	Window         *replay.Window
	AboveCount     uint8
	LongQCMax      uint8
	longQCReceived uint8
}

func symbolIndex(alphabet [AlphabetLength]byte, key byte) (uint8, bool) {
	for i, c := range alphabet {
		if c == key {
			return uint8(i), true
		}
	}
	return 0, false
}

// inferFullMessageID expands a 6-bit truncated message ID to the nearest
// full ID around the window center, scanning forward from
// center-belowCount. Grounded on nexus_keycode_pro_infer_full_message_id.
func inferFullMessageID(compressed uint8, center uint32, belowCount, aboveCount uint8) uint32 {
	cur := center - uint32(belowCount)
	limit := center + uint32(aboveCount)
	for cur <= limit {
		if uint8(cur&0x3F) == compressed {
			return cur
		}
		cur++
	}
	return cur
}

func (c *Codec) parse(frame []byte) (Message, bool) {
	if len(frame) != MessageLength {
		return Message{}, false
	}

	stream := bits.NewBitstream(make([]byte, 4), 32, 0)
	for _, key := range frame {
		idx, ok := symbolIndex(c.Alphabet, key)
		if !ok {
			return Message{}, false
		}
		stream.PushUint8(idx, 2)
	}

	stream.SetPosition(16)
	check := stream.PullUint16BE(12)

	checkBE := []byte{byte(check >> 8), byte(check)}
	prngBytes := bits.ComputePseudorandomBytes(bits.FixedZeroKey, checkBE, 4)
	prngStream := bits.NewBitstream(prngBytes, 32, 32)

	stream.SetPosition(0)
	receivedID := stream.PullUint8(6) ^ prngStream.PullUint8(6)
	typeCode := stream.PullUint8(2) ^ prngStream.PullUint8(2)
	incrementOrFunction := stream.PullUint8(8) ^ prngStream.PullUint8(8)

	msg := Message{Check: check, TypeCode: typeCode}
	if typeCode < TypeMaintenanceOrTest {
		msg.IncrementID = incrementOrFunction
		msg.FullMessageID = inferFullMessageID(receivedID, c.Window.Center(), replay.BelowCount, c.AboveCount)
	} else {
		msg.FunctionID = incrementOrFunction
		msg.FullMessageID = uint32(receivedID)
	}
	return msg, true
}

func computeCheck(msg *Message, key bits.Key) uint16 {
	buf := make([]byte, 6)
	buf[0] = byte(msg.FullMessageID)
	buf[1] = byte(msg.FullMessageID >> 8)
	buf[2] = byte(msg.FullMessageID >> 16)
	buf[3] = byte(msg.FullMessageID >> 24)
	buf[4] = msg.TypeCode
	if msg.TypeCode < TypeMaintenanceOrTest {
		buf[5] = msg.IncrementID
	} else {
		buf[5] = msg.FunctionID
	}
	value := bits.Compute(key, buf)
	// 12 MSBs of the 64-bit hash, bytes packed little-endian.
	return uint16(value[7])<<4 | uint16(value[6]>>4)
}

func addCreditIncrementDays(id uint8) uint16 {
	switch {
	case id == 255:
		return unlockIncrement
	case id < 180:
		return uint16(id) + 1
	default:
		return uint16(id-179)*3 + 180
	}
}

func setCreditIncrementDays(id uint8) uint16 {
	switch {
	case id < 90:
		return uint16(id) + 1
	case id < 135:
		return uint16(id-89)*2 + 90
	case id < 180:
		return uint16(id-134)*4 + 180
	case id < 225:
		return uint16(id-179)*8 + 360
	default:
		return uint16(id-224)*16 + 720
	}
}

// Apply validates and applies a parsed message against platform, reporting
// whether the replay window actually changed so the caller only persists
// NV when a write is actually needed.
func (c *Codec) Apply(msg *Message, platform protocol.Platform) (protocol.Response, bool) {
	var checkExpected uint16
	if msg.TypeCode == TypeMaintenanceOrTest && msg.FunctionID <= maxTestFunctionID {
		checkExpected = computeCheck(msg, bits.FixedFFKey)
	} else {
		checkExpected = computeCheck(msg, platform.SecretKey())
	}
	if msg.Check != checkExpected {
		return protocol.ResponseInvalid, false
	}

	if msg.TypeCode < TypeMaintenanceOrTest {
		if c.Window.IsSet(msg.FullMessageID) {
			return protocol.ResponseValidDuplicate, false
		}

		switch msg.TypeCode {
		case TypeActivationSetCredit:
			changed := c.Window.MaskBelow(msg.FullMessageID + 1)
			switch msg.IncrementID {
			case setUnlockIncrementID:
				platform.PAYGCreditUnlock()
			case setLockIncrementID:
				platform.PAYGCreditSet(0)
			default:
				days := setCreditIncrementDays(msg.IncrementID)
				platform.PAYGCreditSet(uint32(days) * secondsInDay)
			}
			return protocol.ResponseValidApplied, changed
		case TypeActivationAddCredit:
			changed := c.Window.Set(msg.FullMessageID)
			if platform.PAYGStateCurrent() != protocol.PAYGStateUnlocked {
				days := addCreditIncrementDays(msg.IncrementID)
				if days == unlockIncrement {
					platform.PAYGCreditUnlock()
				} else {
					platform.PAYGCreditAdd(uint32(days) * secondsInDay)
				}
			} else {
				return protocol.ResponseValidDuplicate, changed
			}
			return protocol.ResponseValidApplied, changed
		default:
			return protocol.ResponseInvalid, false
		}
	}

	// Maintenance messages.
	if msg.FunctionID > maxTestFunctionID {
		changed := false
		switch msg.FunctionID & 0x7F {
		case maintenanceWipeCreditAndMask:
			changed = c.Window.Wipe()
			c.longQCReceived = 0
			platform.PAYGCreditSet(0)
		case maintenanceWipeCredit:
			platform.PAYGCreditSet(0)
		case maintenanceWipeMaskOnly:
			changed = c.Window.Wipe()
			c.longQCReceived = 0
		default:
			return protocol.ResponseInvalid, false
		}
		return protocol.ResponseValidApplied, changed
	}

	// Test messages. The small protocol's QC counter is never persisted
	// (see DESIGN.md), so these never report an NV change.
	applied := false
	var creditSeconds uint32
	switch msg.FunctionID {
	case testEnableShort:
		if platform.PAYGStateCurrent() == protocol.PAYGStateDisabled {
			applied = true
			creditSeconds = universalShortTestSeconds
		}
	case testEnableQC:
		if c.longQCReceived < c.LongQCMax && platform.PAYGStateCurrent() != protocol.PAYGStateUnlocked {
			applied = true
			creditSeconds = qcLongTestSeconds
		}
	default:
		return protocol.ResponseInvalid, false
	}

	if !applied {
		return protocol.ResponseValidDuplicate, false
	}
	platform.PAYGCreditAdd(creditSeconds)
	if msg.FunctionID == testEnableQC {
		c.longQCReceived++
	}
	return protocol.ResponseValidApplied, false
}

// ParseAndApply parses frame and, if well-formed, applies it.
func (c *Codec) ParseAndApply(frame []byte, platform protocol.Platform) (protocol.Response, bool) {
	msg, ok := c.parse(frame)
	if !ok {
		return protocol.ResponseInvalid, false
	}
	return c.Apply(&msg, platform)
}
