// Package version reports which build of soundloop is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version can be set at build time:
// go build -ldflags "-X github.com/vsariola/soundloop/version.Version=$(git describe --dirty)"
var Version string

// Build describes the binary as recorded by the go toolchain.
type Build struct {
	Revision  string // short vcs revision, empty outside a checkout
	Dirty     bool
	GoVersion string
	Platform  string
}

var Current = readBuild()

func readBuild() Build {
	b := Build{GoVersion: runtime.Version(), Platform: runtime.GOOS + "/" + runtime.GOARCH}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value[:min(7, len(s.Value))]
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		}
	}
	return b
}

// Short returns Version if set, otherwise the revision with a -dirty suffix
// for modified checkouts.
func (b Build) Short() string {
	if Version != "" {
		return Version
	}
	if b.Revision == "" {
		return "devel"
	}
	if b.Dirty {
		return b.Revision + "-dirty"
	}
	return b.Revision
}

func (b Build) String() string {
	return fmt.Sprintf("%s (%s %s)", b.Short(), b.GoVersion, b.Platform)
}
