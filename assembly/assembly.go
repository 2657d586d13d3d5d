// Package assembly implements message assembly (MAS): the bookend state
// machine that turns individual keypad digits into complete keycode
// frames, plus the token-bucket rate limiter and persistent grace-period
// counter that gate it. Grounded on nexus_keycode_mas.c.
package assembly

import "github.com/angaza/nexus-keycode/nv"

// MaxMessageLength bounds a partial frame; a keycode longer than this is
// rejected as NoStopLength protocols have no other way to detect overrun.
const MaxMessageLength = 22

// NoStopLength marks a bookend configuration with no fixed keycode
// length (the full protocol, which instead frames messages with `*`/`#`).
const NoStopLength uint8 = 0xFF

// Handler receives a finished, bookend-stripped frame of keys.
type Handler func(keys []byte)

// RateLimitConfig mirrors the NEXUS_KEYCODE_PROTOCOL_RATE_LIMIT_* build
// switches: a disabled limiter (BucketMax == 0) never blocks.
type RateLimitConfig struct {
	BucketMax            uint8
	InitialCount         uint8
	RefillSecondsPerTry  uint32
}

func (c RateLimitConfig) enabled() bool { return c.BucketMax > 0 }

// Assembler owns the rate-limit bucket, bookend state machine, and grace
// counter for one keycode entry session. It is not safe for concurrent
// use and does no locking of its own; keycode.Core does not lock around
// its calls either (the core's mutex guards only the completed-frame
// mailbox).
type Assembler struct {
	rateLimit RateLimitConfig
	store     nv.Store

	rlBucket          uint32
	graceKeycodes     uint8

	handler Handler

	start, end byte
	stopLength uint8
	startSeen  bool
	latestSet  bool
	latestUptime uint32

	partial            []byte
	maxLengthExceeded  bool

	uptime func() uint32

	onRequestProcessing func()
	onKeyAccepted       func()
	onKeyRejected       func()
	onMessageInvalid    func()
}

// Config bundles everything Assembler needs to construct: bookend keys,
// rate limiting, NV persistence, callbacks into the platform, and the
// uptime source driving entry timeout.
type Config struct {
	Start, End          byte
	StopLength          uint8
	RateLimit           RateLimitConfig
	Store               nv.Store
	Handler             Handler
	Uptime              func() uint32
	RequestProcessing   func()
	OnKeyAccepted       func()
	OnKeyRejected       func()
	OnMessageInvalid    func()
}

func noop() {}

// New constructs an Assembler, restoring the grace-period counter from NV
// if a block is present and filling the rate-limit bucket with grace
// keycodes so a freshly booted device tolerates a burst of entry.
func New(cfg Config) *Assembler {
	a := &Assembler{
		rateLimit:           cfg.RateLimit,
		store:               cfg.Store,
		handler:             cfg.Handler,
		start:               cfg.Start,
		end:                 cfg.End,
		stopLength:          cfg.StopLength,
		uptime:              cfg.Uptime,
		onRequestProcessing: cfg.RequestProcessing,
		onKeyAccepted:       cfg.OnKeyAccepted,
		onKeyRejected:       cfg.OnKeyRejected,
		onMessageInvalid:    cfg.OnMessageInvalid,
	}
	if a.onRequestProcessing == nil {
		a.onRequestProcessing = noop
	}
	if a.onKeyAccepted == nil {
		a.onKeyAccepted = noop
	}
	if a.onKeyRejected == nil {
		a.onKeyRejected = noop
	}
	if a.onMessageInvalid == nil {
		a.onMessageInvalid = noop
	}

	a.graceKeycodes = cfg.RateLimit.InitialCount
	if a.store != nil {
		buf := make([]byte, 1)
		if a.store.Read(nv.BlockMeta{ID: nv.BlockKeycodeMAS, Length: 1}, buf) {
			a.graceKeycodes = buf[0]
		}
	}
	a.rlBucket = uint32(a.graceKeycodes) * a.rateLimit.RefillSecondsPerTry

	a.Reset()
	a.BookendReset()
	return a
}

// addTime refills the rate-limit bucket by secondsElapsed, clamped so it
// never exceeds BucketMax * RefillSecondsPerTry attempts worth of seconds.
func (a *Assembler) addTime(secondsElapsed uint32) {
	if !a.rateLimit.enabled() {
		return
	}
	maxSeconds := uint32(a.rateLimit.BucketMax) * a.rateLimit.RefillSecondsPerTry
	if secondsElapsed > maxSeconds-a.rlBucket || a.rlBucket+secondsElapsed >= maxSeconds {
		a.rlBucket = maxSeconds
	} else {
		a.rlBucket += secondsElapsed
	}
}

// IsRateLimited reports whether entering a keycode right now would be
// rejected: the bucket holds less than one attempt's worth of seconds.
func (a *Assembler) IsRateLimited() bool {
	if !a.rateLimit.enabled() {
		return false
	}
	return a.rlBucket < a.rateLimit.RefillSecondsPerTry
}

// AttemptsRemaining is the number of full keycode entries the bucket can
// currently fund.
func (a *Assembler) AttemptsRemaining() uint32 {
	if !a.rateLimit.enabled() {
		return 0
	}
	remaining := a.rlBucket
	var attempts uint32
	for remaining >= a.rateLimit.RefillSecondsPerTry {
		remaining -= a.rateLimit.RefillSecondsPerTry
		attempts++
	}
	return attempts
}

func (a *Assembler) deductMessage() {
	if !a.rateLimit.enabled() {
		return
	}
	if a.rlBucket >= a.rateLimit.RefillSecondsPerTry {
		a.rlBucket -= a.rateLimit.RefillSecondsPerTry
	}
}

func (a *Assembler) remainingGraceKeycodes() uint8 {
	if !a.rateLimit.enabled() {
		return 0
	}
	initialSeconds := uint32(a.rateLimit.InitialCount) * a.rateLimit.RefillSecondsPerTry
	if a.rlBucket >= initialSeconds {
		return a.rateLimit.InitialCount
	}
	return uint8(a.AttemptsRemaining())
}

// updateGraceKeycodesNV persists the grace counter iff it changed. Only
// called from Process (the main loop), never from key-press handling, so
// NV writes never occur in interrupt context.
func (a *Assembler) updateGraceKeycodesNV(count uint8) {
	if count == a.graceKeycodes {
		return
	}
	a.graceKeycodes = count
	if a.store != nil {
		a.store.Write(nv.BlockMeta{ID: nv.BlockKeycodeMAS, Length: 1}, []byte{count})
	}
}

// Reset discards any partial frame without invoking the handler.
func (a *Assembler) Reset() {
	a.partial = a.partial[:0]
	a.maxLengthExceeded = false
}

func (a *Assembler) push(key byte) {
	if len(a.partial) < MaxMessageLength {
		a.partial = append(a.partial, key)
	} else {
		a.maxLengthExceeded = true
	}
}

func (a *Assembler) finish() {
	if len(a.partial) > 0 && !a.maxLengthExceeded {
		frame := append([]byte(nil), a.partial...)
		a.handler(frame)
	} else {
		a.onMessageInvalid()
	}
	a.deductMessage()
	a.Reset()
}

// HasReachedStopLength reports whether the partial frame is as long as a
// fixed-length protocol (e.g. small) allows.
func (a *Assembler) HasReachedStopLength() bool {
	if a.stopLength == NoStopLength {
		return false
	}
	return len(a.partial) >= int(a.stopLength)
}

// BookendReset clears start-seen state without touching the partial
// frame; called whenever a message concludes or times out.
func (a *Assembler) BookendReset() {
	a.startSeen = false
}

// Process should be called from the main loop, never from interrupt
// context: it advances the rate-limit clock, persists the grace counter
// if it changed, and checks for entry timeout. secondsElapsed is the
// monotonic uptime delta since the previous call; a caller that detects a
// backward time jump should pass 0 here.
//
// Returns the number of seconds the caller should wait before calling
// Process again: 1 while a message is mid-entry (so timeout is prompt),
// or idleIntervalSeconds otherwise.
func (a *Assembler) Process(secondsElapsed uint32, entryTimeoutSeconds uint32, idleIntervalSeconds uint32) uint32 {
	a.addTime(secondsElapsed)
	a.updateGraceKeycodesNV(a.remainingGraceKeycodes())

	if a.startSeen {
		if !a.latestSet {
			a.latestUptime = a.uptime()
			a.latestSet = true
		}
		elapsed := a.uptime() - a.latestUptime
		if elapsed > entryTimeoutSeconds {
			a.BookendReset()
			a.Reset()
		}
	}

	if a.startSeen {
		return 1
	}
	return idleIntervalSeconds
}

// HandleSingleKey is the interrupt-safe entry point for single-keypad
// digit entry. It never touches NV or invokes the completed-message
// handler's heavier side effects beyond key-accept/reject feedback.
func (a *Assembler) HandleSingleKey(key byte) {
	a.latestUptime = a.uptime()
	a.latestSet = true
	a.onRequestProcessing()

	switch {
	case a.IsRateLimited():
		a.onKeyRejected()
	case key == a.start:
		a.onKeyAccepted()
		a.startSeen = true
		a.Reset()
	case a.startSeen && key == a.end:
		a.BookendReset()
		a.finish()
	case a.startSeen:
		a.push(key)
		if a.HasReachedStopLength() {
			a.BookendReset()
			a.finish()
		} else {
			a.onKeyAccepted()
		}
	default:
		a.onKeyRejected()
	}
}

// HandleCompleteKeycode is the entry point for keypad implementations
// that deliver an entire keycode at once rather than key-by-key (e.g. a
// numeric keypad with its own local editing). keys must start with the
// bookend start key; forIsSmallProtocol controls whether the final
// character is part of the payload (small, length-framed) or a literal
// end bookend to be stripped (full, `*`/`#`-framed).
func (a *Assembler) HandleCompleteKeycode(keys []byte, forIsSmallProtocol bool) {
	if a.IsRateLimited() || len(keys) == 0 || keys[0] != a.start {
		a.onMessageInvalid()
		return
	}

	a.startSeen = true
	a.Reset()

	lastIndex := len(keys) - 1
	if forIsSmallProtocol {
		lastIndex = len(keys)
	}

	for i := 1; i < lastIndex; i++ {
		a.push(keys[i])
		if a.HasReachedStopLength() {
			break
		}
	}
	a.BookendReset()
	a.finish()
}
