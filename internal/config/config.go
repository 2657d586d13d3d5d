// Package config holds the build-time switches spec.md's configuration
// section leaves to the integrator, validated at startup rather than by the
// preprocessor. Grounded on internal_keycode_config.h's compile-time
// parameter checks.
package config

import (
	"errors"
	"fmt"

	"github.com/angaza/nexus-keycode/assembly"
	"github.com/angaza/nexus-keycode/keycode"
)

// Config is the runtime equivalent of internal_keycode_config.h's
// preprocessor switches: one struct an integrator fills in and validates
// once at startup.
type Config struct {
	Variant keycode.Variant

	// Bookend framing. Start is always required and End is required for
	// the full protocol (the small protocol ends on StopLength); StopLength is
	// assembly.NoStopLength for the full protocol (bookended by End) or a
	// fixed length (14) for the small protocol.
	Start, End byte
	StopLength uint8

	// AboveCount is how many message IDs beyond the last-applied one the
	// replay window accepts; deployments balance this against missed-message
	// tolerance, per spec.md's windowing discussion.
	AboveCount uint8

	ShortQCMax uint8
	LongQCMax  uint8

	RateLimit assembly.RateLimitConfig

	EntryTimeoutSeconds uint32
	IdleIntervalSeconds uint32
}

var (
	errMissingBookends      = errors.New("config: Start and End bookend keys must be set")
	errBadStopLength        = errors.New("config: StopLength must be assembly.NoStopLength for the full protocol")
	errQCMaxTooLarge        = errors.New("config: QC lifetime max values must fit in 4 bits (<= 15)")
	errRateLimitIncomplete  = errors.New("config: RateLimit.RefillSecondsPerTry must be nonzero when BucketMax is set")
	errRateLimitRefillRange = errors.New("config: RateLimit.RefillSecondsPerTry must be <= 3600 seconds")
	errZeroEntryTimeout     = errors.New("config: EntryTimeoutSeconds must be nonzero")
)

// Validate reports the first configuration error found, mirroring the
// preprocessor #error directives in internal_keycode_config.h.
func (c Config) Validate() error {
	if c.Start == 0 || c.End == 0 {
		if c.Variant == keycode.VariantFull || c.Start == 0 {
			return errMissingBookends
		}
	}

	if c.Variant == keycode.VariantFull && c.StopLength != assembly.NoStopLength {
		return errBadStopLength
	}

	if c.Variant == keycode.VariantFull {
		if c.ShortQCMax > 15 || c.LongQCMax > 15 {
			return errQCMaxTooLarge
		}
	} else if c.LongQCMax > 15 {
		return errQCMaxTooLarge
	}

	if c.RateLimit.BucketMax != 0 {
		if c.RateLimit.RefillSecondsPerTry == 0 {
			return errRateLimitIncomplete
		}
		if c.RateLimit.RefillSecondsPerTry > 3600 {
			return errRateLimitRefillRange
		}
	}

	if c.EntryTimeoutSeconds == 0 {
		return errZeroEntryTimeout
	}

	return nil
}

// Describe renders a one-line human-readable summary, shown in
// cmd/keycodesim's top pane.
func (c Config) Describe() string {
	variant := "small"
	if c.Variant == keycode.VariantFull {
		variant = "full"
	}
	return fmt.Sprintf("variant=%s above=%d rate_limit=%v entry_timeout=%ds",
		variant, c.AboveCount, c.RateLimit.BucketMax != 0, c.EntryTimeoutSeconds)
}
