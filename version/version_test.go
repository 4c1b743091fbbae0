package version

import (
	"runtime"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, Version, info.Version)
}

func TestVersionIsSemver(t *testing.T) {
	_, err := semver.NewVersion(Version)
	require.NoError(t, err, "engine version is checked against adapter constraints")
}

func TestShort(t *testing.T) {
	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
	assert.Equal(t, "0123456", Info{CommitHash: "0123456789abcdef"}.Short())
}

func TestString(t *testing.T) {
	s := Info{Version: "1.2.3", CommitHash: "abcdef0123", BuildTime: "2026-01-01"}.String()
	assert.Equal(t, "omnispatial 1.2.3 (commit abcdef0, built 2026-01-01)", s)
}
