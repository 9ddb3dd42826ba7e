package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const shellLookupTimeout = 3 * time.Second

// Locator implements quotawatch.BinaryLocator. It tries the process PATH
// first and falls back to asking the user's login shell, which finds
// binaries installed by version managers that only amend PATH in shell
// profiles.
type Locator struct {
	shell string

	mu    sync.Mutex
	cache map[string]string
}

// NewLocator creates a Locator using $SHELL, or /bin/sh when unset.
func NewLocator() *Locator {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Locator{shell: shell, cache: make(map[string]string)}
}

// Locate resolves name to an absolute executable path. Hits are cached;
// misses are not, so a binary installed later is picked up.
func (l *Locator) Locate(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if filepath.IsAbs(name) {
		if isExecutable(name) {
			return name, true
		}
		return "", false
	}

	l.mu.Lock()
	cached, ok := l.cache[name]
	l.mu.Unlock()
	if ok {
		return cached, true
	}

	path, ok := l.lookup(name)
	if !ok {
		return "", false
	}
	l.mu.Lock()
	l.cache[name] = path
	l.mu.Unlock()
	return path, true
}

func (l *Locator) lookup(name string) (string, bool) {
	if path, err := exec.LookPath(name); err == nil {
		if abs, err := filepath.Abs(path); err == nil {
			return abs, true
		}
		return path, true
	}
	return l.shellLookup(name)
}

// shellLookup asks the login shell, honoring PATH additions from the user's
// profile. Profile noise on stdout is tolerated by taking the last line.
func (l *Locator) shellLookup(name string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), shellLookupTimeout)
	defer cancel()

	quoted := "'" + strings.ReplaceAll(name, "'", `'\''`) + "'"
	out, err := exec.CommandContext(ctx, l.shell, "-l", "-c", "command -v "+quoted).Output()
	if err != nil {
		return "", false
	}

	path := ""
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			path = line
		}
	}
	if !filepath.IsAbs(path) || !isExecutable(path) {
		return "", false
	}
	return path, true
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
