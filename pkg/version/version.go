// Package version carries build metadata of the srcforge binary.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Set at link time with -ldflags "-X .../pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = "<unknown>"
)

// Info is the build metadata in report form.
type Info struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit"  yaml:"commit"`
	Date    string `json:"date"    yaml:"date"`
}

var initOnce sync.Once

// InitBinaryVersion fills metadata the linker did not set from the module
// build info embedded by the Go toolchain.
func InitBinaryVersion() {
	initOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		fillFromBuildInfo(bi)
	})
}

func fillFromBuildInfo(bi *debug.BuildInfo) {
	if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "<unknown>" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "<unknown>" {
				Date = s.Value
			}
		}
	}
}

// Current returns the metadata of the running binary.
func Current() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}

func (i Info) String() string {
	return fmt.Sprintf("srcforge %s (commit: %s, built: %s)", i.Version, i.Commit, i.Date)
}
