// Package extended implements the small-protocol "extended" command: a
// 26-bit bitstream (1 indicator bit already consumed by the caller, 25 bits
// parsed here) nested inside a passthrough-style delivery channel,
// authenticated with a truncated SipHash MAC and windowed the same way as
// the small and full activation codecs. Grounded on
// nexus_keycode_pro_extended.c.
package extended

import (
	"github.com/angaza/nexus-keycode/bits"
	"github.com/angaza/nexus-keycode/protocol"
	"github.com/angaza/nexus-keycode/replay"
)

// BitLength is the number of bits parsed after the leading indicator bit
// has been consumed by the caller (3-bit type code + 2-bit truncated ID +
// 8-bit increment ID + 12-bit check).
const BitLength = 25

// TypeSetCreditAndWipeFlag is the only extended command type implemented;
// any other 3-bit type code is rejected.
const TypeSetCreditAndWipeFlag uint8 = 0

const maxSetCreditDays = 960
const unlockIncrementID = 255
const unlockIncrementDays = 0xFFFF
const secondsInDay = 60 * 60 * 24

// Message is the parsed form of an extended small-protocol command.
type Message struct {
	TypeCode           uint8
	TruncatedMessageID uint8
	IncrementID        uint8
	Check              uint16
	InferredMessageID  uint32
}

// Codec parses and applies extended commands against a replay window
// shared with the small protocol's activation messages. AboveCount must
// match the aboveCount the Window was constructed with.
type Codec struct {
	Window     *replay.Window
	AboveCount uint8
}

// Parse reads an extended command from stream, which must be positioned
// immediately after the caller has consumed the 1-bit "is this an
// extension command" indicator.
func Parse(stream *bits.Bitstream) (Message, bool) {
	if stream.LengthBits()-stream.Position() != BitLength {
		return Message{}, false
	}

	typeCode := stream.PullUint8(3)
	if typeCode != TypeSetCreditAndWipeFlag {
		return Message{}, false
	}

	msg := Message{TypeCode: typeCode}
	msg.TruncatedMessageID = stream.PullUint8(2)
	msg.IncrementID = stream.PullUint8(8)
	msg.Check = stream.PullUint16BE(12)
	return msg, true
}

func computeCheck(messageID uint32, typeCode, incrementID, truncatedID uint8, key bits.Key) uint16 {
	buf := []byte{
		byte(messageID),
		byte(messageID >> 8),
		byte(messageID >> 16),
		byte(messageID >> 24),
		typeCode,
		incrementID,
		truncatedID,
	}
	value := bits.Compute(key, buf)
	// upper 12 bits of the 64-bit hash.
	return uint16(value[7])<<4 | uint16(value[6]>>4)
}

func setCreditIncrementDays(id uint8) uint16 {
	switch {
	case id == unlockIncrementID:
		return unlockIncrementDays
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

// inferWindowedMessageID scans the window from its lowest tracked ID
// upward, looking for the first unused ID whose low 2 bits match the
// truncated ID received and whose MAC validates. Grounded on
// nexus_keycode_pro_extended_small_infer_windowed_message_id: unlike
// ordinary set-credit messages, a duplicate is indistinguishable from an
// invalid message (the MAC check never matches a used ID).
func (c *Codec) inferWindowedMessageID(msg *Message, key bits.Key) (uint32, bool) {
	center := c.Window.Center()
	id := center - uint32(replay.BelowCount)
	limit := center + uint32(c.AboveCount)

	for id <= limit && c.Window.Within(id) {
		if uint8(id&0x3) == msg.TruncatedMessageID && !c.Window.IsSet(id) {
			expected := computeCheck(id, msg.TypeCode, msg.IncrementID, msg.TruncatedMessageID, key)
			if expected == msg.Check {
				return id, true
			}
		}
		id++
	}
	return 0, false
}

// Apply validates and applies a parsed extended message against platform,
// reporting whether the replay window actually changed so the caller only
// persists NV when a write is actually needed.
func (c *Codec) Apply(msg *Message, platform protocol.Platform) (protocol.Response, bool) {
	id, ok := c.inferWindowedMessageID(msg, platform.SecretKey())
	if !ok {
		return protocol.ResponseInvalid, false
	}
	msg.InferredMessageID = id

	days := setCreditIncrementDays(msg.IncrementID)
	if days == unlockIncrementDays {
		platform.PAYGCreditUnlock()
	} else {
		platform.PAYGCreditSet(uint32(days) * secondsInDay)
	}

	changed := c.Window.MaskBelow(id + 1)
	platform.ResetRestrictedFlag()
	return protocol.ResponseValidApplied, changed
}

// ParseAndApply parses stream and, if well-formed, applies it.
func (c *Codec) ParseAndApply(stream *bits.Bitstream, platform protocol.Platform) (protocol.Response, bool) {
	msg, ok := Parse(stream)
	if !ok {
		return protocol.ResponseInvalid, false
	}
	return c.Apply(&msg, platform)
}
