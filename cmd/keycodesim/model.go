package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"github.com/angaza/nexus-keycode/internal/config"
	"github.com/angaza/nexus-keycode/keycode"
	"github.com/angaza/nexus-keycode/protocol"
)

type tickMsg time.Time
type feedbackMsg protocol.Feedback

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// waitForFeedback turns the Core's Feedback callback (delivered over ch)
// into a tea.Msg, re-arming itself after each receive.
func waitForFeedback(ch <-chan protocol.Feedback) tea.Cmd {
	return func() tea.Msg {
		return feedbackMsg(<-ch)
	}
}

// model drives a keycode.Core key-by-key from the terminal, the same way
// cpu.Debug drives a Cpu tick-by-tick.
type model struct {
	core     *keycode.Core
	platform *simPlatform
	cfg      config.Config
	feedback <-chan protocol.Feedback

	uptimeSeconds uint32
	typed         []byte
	lastFeedback  protocol.Feedback
	quitting      bool
}

var feedbackNames = map[protocol.Feedback]string{
	protocol.FeedbackNone:            "-",
	protocol.FeedbackMessageInvalid:  "INVALID",
	protocol.FeedbackMessageValid:    "VALID (duplicate)",
	protocol.FeedbackMessageApplied:  "APPLIED",
	protocol.FeedbackDisplaySerialID: "DISPLAY SERIAL ID",
	protocol.FeedbackKeyAccepted:     "key accepted",
	protocol.FeedbackKeyRejected:     "key rejected",
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForFeedback(m.feedback))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			m.typed = m.typed[:0]
			return m, nil
		case "x":
			// Simulate a BLE/NFC-delivered extended command setting 30 days
			// of credit and resetting the restricted flag, the way a
			// provisioning tool would build one for smallpad hardware.
			resp := m.core.ApplyExtendedCommand(m.platform.encodeDemoExtendedCommand(m.core.ReplayWindowCenter(), 29))
			m.lastFeedback = protocol.FeedbackForResponse(resp)
			return m, nil
		default:
			if len(msg.Runes) == 1 {
				key := byte(msg.Runes[0])
				m.typed = append(m.typed, key)
				m.core.HandleSingleKey(key)
			}
		}
	case tickMsg:
		m.uptimeSeconds++
		m.core.Process(m.uptimeSeconds)
		return m, tick()
	case feedbackMsg:
		m.lastFeedback = protocol.Feedback(msg)
		return m, waitForFeedback(m.feedback)
	}
	return m, nil
}

func (m model) statusPane() string {
	state := "DISABLED"
	switch m.platform.PAYGStateCurrent() {
	case protocol.PAYGStateEnabled:
		state = "ENABLED"
	case protocol.PAYGStateUnlocked:
		state = "UNLOCKED"
	}
	return fmt.Sprintf(
		"uptime:   %ds\ntyped:    %s\nstate:    %s\ncredit:   %ds\nattempts: %d\nrate lim: %v",
		m.uptimeSeconds,
		string(m.typed),
		state,
		m.platform.creditSeconds,
		m.core.AttemptsRemaining(),
		m.core.IsRateLimited(),
	)
}

func (m model) feedbackPane() string {
	return "last feedback: " + feedbackNames[m.lastFeedback]
}

func (m model) View() string {
	if m.quitting {
		return "bye\n"
	}
	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	return lipgloss.JoinVertical(
		lipgloss.Left,
		box.Render(m.cfg.Describe()),
		box.Render(m.statusPane()),
		box.Render(m.feedbackPane()),
		"",
		strings.TrimSpace(spew.Sdump(m.platform)),
		"\n(q to quit, enter to clear typed buffer, x to send an extended credit command)",
	)
}
