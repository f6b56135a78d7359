// Package version reports the greeter build version.
//
// Commit is normally set with -ldflags "-X .../version.Commit=<hash>"; when
// it is empty the VCS revision recorded by the Go toolchain is used instead.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Commit is the git commit of this build.
var Commit string

// semanticAlphabet is the set of characters allowed in SemVer pre-release
// identifiers.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

const (
	appMajor uint = 0
	appMinor uint = 3
	appPatch uint = 0

	// appPreRelease must only contain characters from semanticAlphabet.
	appPreRelease = "beta"
)

// Version returns the SemVer 2.0.0 version string.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if pre := normalize(appPreRelease); pre != "" {
		version += "-" + pre
	}
	return version
}

// Rich returns Version followed by the commit and, for builds from a dirty
// tree, a dirty marker.
func Rich() string {
	return rich(Commit, debug.ReadBuildInfo)
}

func rich(commit string, readInfo func() (*debug.BuildInfo, bool)) string {
	commit = strings.TrimSpace(commit)
	dirty := false
	if info, ok := readInfo(); ok && info != nil {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
	}

	parts := []string{Version()}
	if commit != "" {
		parts = append(parts, "commit="+commit)
	}
	if dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, " ")
}

// normalize strips characters outside semanticAlphabet.
func normalize(str string) string {
	var b strings.Builder
	for _, r := range str {
		if strings.ContainsRune(semanticAlphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
