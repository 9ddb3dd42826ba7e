package quotawatch

import (
	"context"
	"time"
)

// ProbeMode selects which of a provider's probes to use.
type ProbeMode string

const (
	// ProbeModeAPI reads quota state over HTTP
	ProbeModeAPI ProbeMode = "api"
	// ProbeModeCLI reads quota state by driving the vendor CLI
	ProbeModeCLI ProbeMode = "cli"
)

// Probe contacts one backend and produces a quota snapshot.
//
// Probe errors always belong to the taxonomy in errors.go; implementations
// translate transport, process and parsing failures at this boundary so
// callers never see backend-specific errors.
type Probe interface {
	// Available reports whether the probe's prerequisites are satisfied,
	// such as the CLI binary being on the PATH or a credential being
	// configured. It never contacts the backend.
	Available(ctx context.Context) bool

	// Probe captures a snapshot of the backend's quotas.
	Probe(ctx context.Context) (*Snapshot, error)
}

// PromptResponse pairs a prompt substring with the keystrokes to send when
// it first appears. Matching is case-insensitive on ANSI-stripped output.
type PromptResponse struct {
	Prompt string
	Send   string
}

// InteractiveScript drives a CLI that only reports usage inside an
// interactive session. Each step fires at most once. WaitFor marks the
// output as complete; Exit is sent afterwards to end the session.
type InteractiveScript struct {
	Steps   []PromptResponse
	WaitFor string
	Exit    string
}

// Interactive reports whether the script requires a terminal session
func (s InteractiveScript) Interactive() bool {
	return len(s.Steps) > 0 || s.WaitFor != ""
}

// Command describes one external process invocation requested by a probe.
type Command struct {
	Binary  string
	Args    []string
	Dir     string
	Stdin   string
	Timeout time.Duration

	// Script, when interactive, makes the runner allocate a terminal and
	// drive the process instead of a plain one-shot execution.
	Script InteractiveScript
}

// ProcessRunner executes external processes on behalf of probes. A non-zero
// exit status is not an error; the captured output is returned alongside the
// exit code so probes can judge the outcome themselves.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command) (output []byte, exitCode int, err error)
}

// BinaryLocator resolves a binary name to an absolute path the way the
// user's login shell would.
type BinaryLocator interface {
	Locate(name string) (path string, ok bool)
}
