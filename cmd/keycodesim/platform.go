package main

import (
	"github.com/angaza/nexus-keycode/bits"
	"github.com/angaza/nexus-keycode/protocol"
	"github.com/angaza/nexus-keycode/protocol/extended"
)

// simPlatform is an in-memory stand-in for the appliance `keycode.Platform`
// collaborator: a fixed secret key and serial ID, and a PAYG credit balance
// with no actual relay/lockout hardware behind it.
type simPlatform struct {
	secretKey       bits.Key
	userFacingID    uint32
	creditSeconds   uint32
	unlocked        bool
	restrictedReset bool
	passthroughLog  []string
}

func newSimPlatform(key bits.Key, userFacingID uint32) *simPlatform {
	return &simPlatform{secretKey: key, userFacingID: userFacingID}
}

func (p *simPlatform) SecretKey() bits.Key  { return p.secretKey }
func (p *simPlatform) UserFacingID() uint32 { return p.userFacingID }

func (p *simPlatform) PAYGStateCurrent() protocol.PAYGState {
	switch {
	case p.unlocked:
		return protocol.PAYGStateUnlocked
	case p.creditSeconds > 0:
		return protocol.PAYGStateEnabled
	default:
		return protocol.PAYGStateDisabled
	}
}

func (p *simPlatform) PAYGCreditAdd(seconds uint32) { p.creditSeconds += seconds }
func (p *simPlatform) PAYGCreditSet(seconds uint32) { p.creditSeconds = seconds; p.unlocked = false }
func (p *simPlatform) PAYGCreditUnlock()            { p.unlocked = true }

func (p *simPlatform) PassthroughKeycode(keys []byte) protocol.PassthroughError {
	p.passthroughLog = append(p.passthroughLog, string(keys))
	return protocol.PassthroughErrorNone
}

func (p *simPlatform) ResetRestrictedFlag() { p.restrictedReset = true }

// encodeDemoExtendedCommand builds the bitstream a provisioning tool would
// deliver over BLE/NFC for an extended set-credit-and-wipe-flag command,
// positioned as keycode.Core.ApplyExtendedCommand expects: past the leading
// indicator bit, at the start of the 25-bit command body.
func (p *simPlatform) encodeDemoExtendedCommand(messageID uint32, incrementID uint8) *bits.Bitstream {
	truncatedID := uint8(messageID & 0x3)
	check := extendedCheck(messageID, extended.TypeSetCreditAndWipeFlag, incrementID, truncatedID, p.secretKey)

	stream := bits.NewBitstream(make([]byte, 4), 32, 0)
	stream.PushUint8(1, 1) // indicator bit: this is an extended command
	stream.PushUint8(extended.TypeSetCreditAndWipeFlag, 3)
	stream.PushUint8(truncatedID, 2)
	stream.PushUint8(incrementID, 8)
	stream.PushUint8(uint8(check>>4), 8)
	stream.PushUint8(uint8(check&0xF), 4)

	stream.SetPosition(1)
	return stream
}

// extendedCheck mirrors the device-side MAC computation in package
// extended: the upper 12 bits of the SipHash-2-4 output over the message
// ID, type code, increment ID, and truncated ID.
func extendedCheck(messageID uint32, typeCode, incrementID, truncatedID uint8, key bits.Key) uint16 {
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
	return uint16(value[7])<<4 | uint16(value[6]>>4)
}
