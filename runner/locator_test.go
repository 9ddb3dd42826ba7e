package runner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorResolvesFromPath(t *testing.T) {
	requireSh(t)

	path, ok := NewLocator().Locate("sh")
	require.True(t, ok)
	assert.True(t, filepath.IsAbs(path))
}

func TestLocatorAcceptsAbsolutePath(t *testing.T) {
	sh := requireSh(t)
	abs, err := filepath.Abs(sh)
	require.NoError(t, err)

	path, ok := NewLocator().Locate(abs)
	require.True(t, ok)
	assert.Equal(t, abs, path)
}

func TestLocatorRejectsMissingBinary(t *testing.T) {
	_, ok := NewLocator().Locate("quotawatch-definitely-missing-binary")
	assert.False(t, ok)

	_, ok = NewLocator().Locate("")
	assert.False(t, ok)
}

func TestLocatorCachesHits(t *testing.T) {
	requireSh(t)

	l := NewLocator()
	first, ok := l.Locate("sh")
	require.True(t, ok)

	// Break both lookup paths; the cache must still answer.
	l.shell = "/nonexistent-shell"
	t.Setenv("PATH", "")

	second, ok := l.Locate("sh")
	require.True(t, ok)
	assert.Equal(t, first, second)
}
