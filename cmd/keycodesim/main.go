// Command keycodesim is an interactive rig exercising keycode.Core
// end-to-end against an in-memory platform and NV backend, modeled on
// cpu.Debug's bubbletea-driven single-stepper.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/angaza/nexus-keycode/assembly"
	"github.com/angaza/nexus-keycode/bits"
	"github.com/angaza/nexus-keycode/internal/config"
	"github.com/angaza/nexus-keycode/keycode"
	"github.com/angaza/nexus-keycode/nv"
	"github.com/angaza/nexus-keycode/protocol"
	"github.com/angaza/nexus-keycode/protocol/small"
)

var demoKey = bits.Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
var demoAlphabet = [small.AlphabetLength]byte{'1', '2', '3', '4'}

func main() {
	cfg := config.Config{
		Variant:             keycode.VariantSmall,
		Start:               '*',
		StopLength:          small.MessageLength,
		AboveCount:          8,
		LongQCMax:           3,
		RateLimit:           assembly.RateLimitConfig{BucketMax: 5, InitialCount: 5, RefillSecondsPerTry: 20},
		EntryTimeoutSeconds: 30,
		IdleIntervalSeconds: 1,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	platform := newSimPlatform(demoKey, 12345678)
	feedbackCh := make(chan protocol.Feedback, 8)

	core := keycode.New(keycode.Config{
		Variant:             cfg.Variant,
		Alphabet:            demoAlphabet,
		AboveCount:          cfg.AboveCount,
		LongQCMax:           cfg.LongQCMax,
		ShortQCMax:          cfg.ShortQCMax,
		Start:               cfg.Start,
		End:                 cfg.End,
		StopLength:          cfg.StopLength,
		RateLimit:           cfg.RateLimit,
		EntryTimeoutSeconds: cfg.EntryTimeoutSeconds,
		IdleIntervalSeconds: cfg.IdleIntervalSeconds,
		Store:               nv.NewCRCStore(nv.NewMemoryBackend()),
		Platform:            platform,
		Uptime:              func() uint32 { return 0 },
		Feedback: func(f protocol.Feedback) {
			select {
			case feedbackCh <- f:
			default:
			}
		},
	})

	m := model{
		core:     core,
		platform: platform,
		cfg:      cfg,
		feedback: feedbackCh,
	}

	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "keycodesim:", err)
		os.Exit(1)
	}
}
