package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionIsSemVer(t *testing.T) {
	require.Equal(t, "0.3.0-beta", Version())
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "rc-1", normalize("rc.-1!"))
	require.Equal(t, "", normalize("..."))
}

func TestRich(t *testing.T) {
	noInfo := func() (*debug.BuildInfo, bool) { return nil, false }
	require.Equal(t, Version(), rich("", noInfo))
	require.Equal(t, Version()+" commit=abc", rich(" abc ", noInfo))

	vcs := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "def"},
			{Key: "vcs.modified", Value: "true"},
		}}, true
	}
	require.Equal(t, Version()+" commit=def dirty", rich("", vcs))
	require.Equal(t, Version()+" commit=abc dirty", rich("abc", vcs))
}
