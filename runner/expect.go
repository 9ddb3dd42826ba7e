package runner

import (
	"bytes"
	"strings"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const (
	// maxCleanBuffer caps the match buffer; beyond it only the tail is kept.
	maxCleanBuffer = 256 << 10
	// maxPendingEscape bounds how long a partial escape sequence defers
	// stripping before it is passed through as literal output.
	maxPendingEscape = 4 << 10

	cursorReply = "\x1b[1;1R"
)

// cursorRequests are terminal queries some CLIs block on until answered.
var cursorRequests = [][]byte{
	[]byte("\x1b[6n"),
	[]byte("\x1b[?6n"),
}

// Machine matches terminal output against an InteractiveScript. Feed it raw
// PTY chunks; it answers with the keystrokes to send and reports when the
// awaited output has arrived.
//
// Matching happens on lowercased, ANSI-stripped text, so prompts match no
// matter how the CLI styles them. Each step fires at most once. WaitFor is
// armed only once the final step has fired and is searched only in output
// arriving after that prompt, so a matching needle in the startup banner
// cannot complete the session early.
type Machine struct {
	steps   []quotawatch.PromptResponse
	fired   []bool
	waitFor string

	pending  []byte // raw bytes held back until their escape sequence completes
	clean    []byte // lowercased, stripped output
	armed    bool
	waitFrom int
	complete bool
}

// NewMachine creates a machine for one scripted session.
func NewMachine(script quotawatch.InteractiveScript) *Machine {
	m := &Machine{
		steps:   script.Steps,
		fired:   make([]bool, len(script.Steps)),
		waitFor: strings.ToLower(script.WaitFor),
	}
	if len(m.steps) == 0 {
		m.armed = true
	}
	return m
}

// Feed consumes one raw output chunk and returns the keystrokes to send in
// response.
func (m *Machine) Feed(chunk []byte) []string {
	m.pending = append(m.pending, chunk...)

	cut := len(m.pending)
	if idx := incompleteEscapeStart(m.pending); idx >= 0 && len(m.pending)-idx < maxPendingEscape {
		cut = idx
	}
	if cut == 0 {
		return nil
	}
	raw := m.pending[:cut]

	var sends []string
	for _, req := range cursorRequests {
		for n := bytes.Count(raw, req); n > 0; n-- {
			sends = append(sends, cursorReply)
		}
	}

	clean := strings.ToLower(quotawatch.StripANSI(string(raw)))
	m.pending = append(m.pending[:0], m.pending[cut:]...)
	m.clean = append(m.clean, clean...)
	m.trim()

	for i, step := range m.steps {
		if m.fired[i] || step.Prompt == "" {
			continue
		}
		needle := []byte(strings.ToLower(step.Prompt))
		idx := bytes.Index(m.clean, needle)
		if idx < 0 {
			continue
		}
		m.fired[i] = true
		sends = append(sends, step.Send)
		if i == len(m.steps)-1 {
			m.armed = true
			m.waitFrom = idx + len(needle)
		}
	}

	if !m.complete && m.armed && m.waitFor != "" {
		if bytes.Contains(m.clean[m.waitFrom:], []byte(m.waitFor)) {
			m.complete = true
		}
	}
	return sends
}

// Complete reports whether the awaited output has been seen.
func (m *Machine) Complete() bool {
	return m.complete
}

func (m *Machine) trim() {
	if len(m.clean) <= maxCleanBuffer {
		return
	}
	drop := len(m.clean) - maxCleanBuffer
	m.clean = append(m.clean[:0], m.clean[drop:]...)
	m.waitFrom -= drop
	if m.waitFrom < 0 {
		m.waitFrom = 0
	}
}

// incompleteEscapeStart returns the index of a trailing escape sequence that
// is still missing its terminator, or -1 when the buffer ends cleanly. PTY
// reads can split a sequence across chunks; stripping one half at a time
// would leak its payload into the match buffer.
func incompleteEscapeStart(b []byte) int {
	for i := 0; i < len(b); {
		if b[i] != 0x1b {
			i++
			continue
		}
		start := i
		rest := b[i:]
		if len(rest) == 1 {
			return start
		}
		switch rest[1] {
		case '[': // CSI, terminated by a byte in @..~
			j := 2
			for j < len(rest) && (rest[j] < 0x40 || rest[j] > 0x7e) {
				j++
			}
			if j == len(rest) {
				return start
			}
			i += j + 1
		case ']': // OSC, terminated by BEL or ESC-backslash
			j := 2
			terminated := false
			for j < len(rest) {
				if rest[j] == 0x07 {
					terminated = true
					break
				}
				if rest[j] == 0x1b {
					if j+1 == len(rest) {
						return start
					}
					if rest[j+1] == '\\' {
						j++
						terminated = true
						break
					}
				}
				j++
			}
			if !terminated {
				return start
			}
			i += j + 1
		default:
			i += 2
		}
	}
	return -1
}
