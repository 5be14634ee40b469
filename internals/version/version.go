package version

import (
	"runtime/debug"
	"strings"
	"sync"
)

// SemVer is set at build time for releases.
//
// Example:
//
//	-ldflags "-X github.com/civ-ci/civ/internals/version.SemVer=1.2.3"
var SemVer = "0.1.0"

// BuiltAt is set at build time for releases.
//
// Example:
//
//	-ldflags "-X github.com/civ-ci/civ/internals/version.BuiltAt=2026-02-28T00:00:00Z"
var BuiltAt = ""

type Info struct {
	SemVer   string
	Revision string
	Dirty    bool
	BuiltAt  string
}

var (
	infoOnce sync.Once
	info     Info
)

// Get returns the version of the running binary. Revision is empty when the
// binary was built without VCS metadata.
func Get() Info {
	infoOnce.Do(func() {
		info = Info{SemVer: strings.TrimSpace(SemVer), BuiltAt: strings.TrimSpace(BuiltAt)}
		if info.SemVer == "" {
			info.SemVer = "0.0.0-dev"
		}
		if build, ok := debug.ReadBuildInfo(); ok && build != nil {
			info.Revision, info.Dirty = vcsInfo(build.Settings)
		}
	})
	return info
}

// String renders the version as SemVer with the revision as build metadata,
// for example 1.2.3+a1b2c3d4e5f6.dirty. The daemon and the CLI compare these
// strings to decide whether a running daemon must be replaced.
func (i Info) String() string {
	if i.Revision == "" {
		return i.SemVer
	}
	meta := i.Revision
	if i.Dirty {
		meta += ".dirty"
	}
	if strings.Contains(i.SemVer, "+") {
		return i.SemVer + "." + meta
	}
	return i.SemVer + "+" + meta
}

func String() string {
	return Get().String()
}

func vcsInfo(settings []debug.BuildSetting) (rev12 string, dirty bool) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev12 = strings.TrimSpace(s.Value)
		case "vcs.modified":
			v := strings.TrimSpace(strings.ToLower(s.Value))
			dirty = v == "true" || v == "1" || v == "yes"
		}
	}
	if len(rev12) > 12 {
		rev12 = rev12[:12]
	}
	return rev12, dirty
}
