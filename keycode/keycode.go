// Package keycode wires the replay window, message assembler, and wire
// codec into a single core loop, implementing the interrupt/main-loop split
// described in nexus_keycode_pro.c and nexus_keycode_mas.c: cheap,
// call-from-anywhere key handling that defers all MAC computation and NV
// access to a single main-loop Process call.
package keycode

import (
	"log/slog"
	"sync"

	"github.com/angaza/nexus-keycode/assembly"
	"github.com/angaza/nexus-keycode/bits"
	"github.com/angaza/nexus-keycode/internal/logging"
	"github.com/angaza/nexus-keycode/nv"
	"github.com/angaza/nexus-keycode/protocol"
	"github.com/angaza/nexus-keycode/protocol/extended"
	"github.com/angaza/nexus-keycode/protocol/full"
	"github.com/angaza/nexus-keycode/protocol/small"
	"github.com/angaza/nexus-keycode/replay"
)

// Variant selects which wire codec a Core drives.
type Variant int

const (
	VariantSmall Variant = iota
	VariantFull
)

const protocolBlockWindowLen = replay.MarshaledLen
const protocolBlockFullLen = protocolBlockWindowLen + 1 // + packed QC byte

// Config bundles everything a Core needs to construct: which protocol
// variant to run, its wire parameters, rate limiting and bookend framing,
// NV persistence, and the platform collaborator codecs apply against.
type Config struct {
	Variant Variant

	// Small-protocol-only.
	Alphabet [small.AlphabetLength]byte

	// Shared wire parameters.
	AboveCount uint8
	LongQCMax  uint8
	ShortQCMax uint8 // full protocol only; small has no short QC variant

	// Bookend framing (see assembly.Config).
	Start, End byte
	StopLength uint8

	RateLimit           assembly.RateLimitConfig
	EntryTimeoutSeconds uint32
	IdleIntervalSeconds uint32

	Store    nv.Store
	Platform protocol.Platform
	Uptime   func() uint32

	// Feedback receives the result of every completed keycode entry and of
	// raw key accept/reject events. May be nil.
	Feedback func(protocol.Feedback)

	// Logger receives structured trace events for every parsed keycode.
	// Defaults to a discard logger.
	Logger *slog.Logger
}

type codec interface {
	ParseAndApply(frame []byte, platform protocol.Platform) (protocol.Response, bool)
}

// Core is the top-level keycode runtime: one per appliance.
type Core struct {
	platform protocol.Platform
	store    nv.Store
	feedback func(protocol.Feedback)
	uptime   func() uint32
	logger   *slog.Logger

	window   *replay.Window
	qc       *full.QCCounters
	codec    codec
	extended *extended.Codec

	assembler *assembly.Assembler

	entryTimeoutSeconds uint32
	idleIntervalSeconds uint32
	lastUptime          uint32
	currentUptime       uint32

	mu      sync.Mutex
	pending []byte
	hasMsg  bool
}

func noopFeedback(protocol.Feedback) {}

// New constructs a Core, restoring the replay window (and, for the full
// protocol, the QC counters) from NV if a block is present.
func New(cfg Config) *Core {
	c := &Core{
		platform:            cfg.Platform,
		store:               cfg.Store,
		entryTimeoutSeconds: cfg.EntryTimeoutSeconds,
		idleIntervalSeconds: cfg.IdleIntervalSeconds,
	}
	c.feedback = cfg.Feedback
	if c.feedback == nil {
		c.feedback = noopFeedback
	}
	// uptime always reflects currentUptime, kept in step with every
	// Process call; this is what the assembler's entry-timeout check reads.
	c.uptime = func() uint32 { return c.currentUptime }
	if cfg.Uptime != nil {
		c.currentUptime = cfg.Uptime()
	}
	c.logger = logging.OrDiscard(cfg.Logger)

	c.window = replay.New(cfg.AboveCount)

	switch cfg.Variant {
	case VariantFull:
		c.qc = &full.QCCounters{}
		c.loadProtocolBlock(true)
		c.codec = &full.Codec{
			Window:     c.window,
			AboveCount: cfg.AboveCount,
			QC:         c.qc,
			ShortQCMax: cfg.ShortQCMax,
			LongQCMax:  cfg.LongQCMax,
		}
	default:
		c.loadProtocolBlock(false)
		c.codec = &small.Codec{
			Alphabet:   cfg.Alphabet,
			Window:     c.window,
			AboveCount: cfg.AboveCount,
			LongQCMax:  cfg.LongQCMax,
		}
		// Extended small-protocol commands ride a side-channel bitstream
		// (BLE/NFC on smallpad hardware) rather than the 14-symbol keypad
		// frame, but share this device's replay window.
		c.extended = &extended.Codec{Window: c.window, AboveCount: cfg.AboveCount}
	}

	c.assembler = assembly.New(assembly.Config{
		Start:             cfg.Start,
		End:               cfg.End,
		StopLength:        cfg.StopLength,
		RateLimit:         cfg.RateLimit,
		Store:             cfg.Store,
		Uptime:            c.uptime,
		Handler:           c.enqueue,
		RequestProcessing: func() { c.feedback(protocol.FeedbackNone) },
		OnKeyAccepted:     func() { c.feedback(protocol.FeedbackKeyAccepted) },
		OnKeyRejected:     func() { c.feedback(protocol.FeedbackKeyRejected) },
		OnMessageInvalid:  func() { c.feedback(protocol.FeedbackMessageInvalid) },
	})

	c.lastUptime = c.uptime()
	return c
}

func (c *Core) loadProtocolBlock(withQC bool) {
	length := uint8(protocolBlockWindowLen)
	if withQC {
		length = protocolBlockFullLen
	}
	buf := make([]byte, length)
	if c.store == nil || !c.store.Read(nv.BlockMeta{ID: nv.BlockKeycodeProtocol, Length: length}, buf) {
		return
	}
	c.window.Unmarshal(buf[:protocolBlockWindowLen])
	if withQC {
		c.qc.Unmarshal(buf[protocolBlockWindowLen])
	}
}

func (c *Core) saveProtocolBlock() {
	if c.store == nil {
		return
	}
	if c.qc != nil {
		buf := make([]byte, protocolBlockFullLen)
		copy(buf, c.window.Marshal())
		buf[protocolBlockWindowLen] = c.qc.Marshal()
		c.store.Write(nv.BlockMeta{ID: nv.BlockKeycodeProtocol, Length: protocolBlockFullLen}, buf)
		return
	}
	c.store.Write(nv.BlockMeta{ID: nv.BlockKeycodeProtocol, Length: protocolBlockWindowLen}, c.window.Marshal())
}

// enqueue is the assembler's completion handler: it only copies the frame
// into the single-slot mailbox, guarded by mu standing in for an interrupt
// disable. It must never block on or perform MAC computation or NV access.
func (c *Core) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending[:0], frame...)
	c.hasMsg = true
}

func (c *Core) drain() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasMsg {
		return nil, false
	}
	c.hasMsg = false
	return c.pending, true
}

// HandleSingleKey is the interrupt-safe entry point for keypad digit entry.
func (c *Core) HandleSingleKey(key byte) {
	c.assembler.HandleSingleKey(key)
}

// HandleCompleteKeycode is the interrupt-safe entry point for keypad
// implementations that deliver a whole keycode at once.
func (c *Core) HandleCompleteKeycode(keys []byte) {
	c.assembler.HandleCompleteKeycode(keys, isSmallVariant(c.codec))
}

func isSmallVariant(cd codec) bool {
	_, ok := cd.(*small.Codec)
	return ok
}

// IsRateLimited reports whether entering a keycode right now would be
// rejected by the token bucket.
func (c *Core) IsRateLimited() bool { return c.assembler.IsRateLimited() }

// AttemptsRemaining is the number of full keycode entries the rate-limit
// bucket can currently fund.
func (c *Core) AttemptsRemaining() uint32 { return c.assembler.AttemptsRemaining() }

// ReplayWindowCenter exposes the replay window's center message ID, for
// provisioning tools that need to target an ID the device has not seen yet.
func (c *Core) ReplayWindowCenter() uint32 { return c.window.Center() }

// Process is the sole main-loop entry point: it advances the rate-limit
// clock and entry-timeout check, applies at most one completed keycode
// pulled from the mailbox, and persists any resulting NV state. uptimeSeconds
// is the appliance's current monotonic uptime; Process computes the elapsed
// delta itself and tolerates (by treating as zero) a backward clock jump.
// It returns the number of seconds the caller should wait before calling
// Process again.
func (c *Core) Process(uptimeSeconds uint32) uint32 {
	var elapsed uint32
	if uptimeSeconds > c.lastUptime {
		elapsed = uptimeSeconds - c.lastUptime
	}
	c.lastUptime = uptimeSeconds
	c.currentUptime = uptimeSeconds

	wait := c.assembler.Process(elapsed, c.entryTimeoutSeconds, c.idleIntervalSeconds)

	if frame, ok := c.drain(); ok {
		resp, changed := func() (resp protocol.Response, changed bool) {
			// A codec panic on a malformed frame is reported as an invalid
			// message rather than escaping the main loop.
			defer func() {
				if recover() != nil {
					resp, changed = protocol.ResponseInvalid, false
				}
			}()
			return c.codec.ParseAndApply(frame, c.platform)
		}()
		c.logger.Debug("keycode applied", slog.Int("response", int(resp)), slog.Int("frame_len", len(frame)))
		if changed {
			c.saveProtocolBlock()
		}
		if resp != protocol.ResponseNone {
			c.feedback(protocol.FeedbackForResponse(resp))
		}
	}

	return wait
}

// ApplyExtendedCommand parses and applies an extended small-protocol
// command delivered over a side channel (not the keypad), such as BLE or
// NFC on smallpad hardware. stream must be positioned immediately after
// the caller has consumed the leading "is this extended" indicator bit.
// It is only meaningful for VariantSmall; VariantFull cores reject it.
func (c *Core) ApplyExtendedCommand(stream *bits.Bitstream) protocol.Response {
	if c.extended == nil {
		return protocol.ResponseInvalid
	}
	resp, changed := c.extended.ParseAndApply(stream, c.platform)
	c.logger.Debug("extended command applied", slog.Int("response", int(resp)))
	if changed {
		c.saveProtocolBlock()
	}
	if resp != protocol.ResponseNone {
		c.feedback(protocol.FeedbackForResponse(resp))
	}
	return resp
}

// Shutdown flushes any state Process would otherwise persist only lazily,
// for callers that need a clean NV image before power loss.
func (c *Core) Shutdown() {
	c.saveProtocolBlock()
}
