package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, version, commit string) {
	t.Helper()
	oldVersion, oldCommit := Version, Commit
	Version, Commit = version, commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })
}

func TestGetInfo(t *testing.T) {
	withBuild(t, "1.4.0", "0123456789abcdef")

	info := GetInfo()
	assert.Equal(t, "encodr", info.Application)
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestShortAndString(t *testing.T) {
	t.Run("with commit", func(t *testing.T) {
		withBuild(t, "1.4.0", "0123456789abcdef")
		assert.Equal(t, "encodr 1.4.0 (01234567)", Short())
		assert.Contains(t, String(), "commit 01234567")
	})

	t.Run("dev build", func(t *testing.T) {
		withBuild(t, "dev", "unknown")
		assert.Equal(t, "encodr dev", Short())
		assert.True(t, strings.HasPrefix(String(), "encodr dev ("))
		assert.NotContains(t, String(), "commit")
	})
}
