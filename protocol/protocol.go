// Package protocol defines the vocabulary shared by every keycode wire
// codec: the platform the core drives, and the response/feedback
// vocabulary produced by applying a parsed message. Grounded on
// nexus_keycode_pro.c's response enum and nxp_keycode.h's feedback enum.
package protocol

import "github.com/angaza/nexus-keycode/bits"

// Response is the outcome of parsing and applying one keycode frame.
type Response int

const (
	ResponseInvalid Response = iota
	ResponseValidDuplicate
	ResponseValidApplied
	ResponseDisplayDeviceID
	ResponseNone
)

// Feedback is what the platform should show the end user as a result of
// a Response, or of raw key entry.
type Feedback int

const (
	FeedbackNone Feedback = iota
	FeedbackMessageInvalid
	FeedbackMessageValid
	FeedbackMessageApplied
	FeedbackDisplaySerialID
	FeedbackKeyAccepted
	FeedbackKeyRejected
)

// FeedbackForResponse maps a parse/apply Response to the feedback the
// platform should display, mirroring nexus_keycode_pro_process's switch.
func FeedbackForResponse(r Response) Feedback {
	switch r {
	case ResponseInvalid:
		return FeedbackMessageInvalid
	case ResponseValidDuplicate:
		return FeedbackMessageValid
	case ResponseValidApplied:
		return FeedbackMessageApplied
	case ResponseDisplayDeviceID:
		return FeedbackDisplaySerialID
	case ResponseNone:
		return FeedbackNone
	default:
		return FeedbackNone
	}
}

// PAYGState is the appliance's current pay-as-you-go lock state.
type PAYGState int

const (
	PAYGStateDisabled PAYGState = iota
	PAYGStateEnabled
	PAYGStateUnlocked
)

// PassthroughError reports whether a passthrough codec accepted a command.
type PassthroughError int

const (
	PassthroughErrorNone PassthroughError = iota
	PassthroughErrorUnrecognizedCommand
	PassthroughErrorMalformed
)

// Platform is the product-specific collaborator a wire codec applies
// parsed messages against. Grounded on the nxp_keycode.h/nxp_core.h
// callback surface.
type Platform interface {
	SecretKey() bits.Key
	UserFacingID() uint32
	PAYGStateCurrent() PAYGState
	PAYGCreditAdd(seconds uint32)
	PAYGCreditSet(seconds uint32)
	PAYGCreditUnlock()
	// PassthroughKeycode hands a full-protocol passthrough command's raw
	// digits to the product layer. Extended small-protocol commands do not
	// come through here (see keycode.Core.ApplyExtendedCommand). Implementations that don't
	// support passthrough commands should return PassthroughErrorUnrecognizedCommand.
	PassthroughKeycode(keys []byte) PassthroughError
	// ResetRestrictedFlag clears the product's "restricted mode" custom
	// flag, as applied by the extended small-protocol set-credit-and-wipe
	// message.
	ResetRestrictedFlag()
}
