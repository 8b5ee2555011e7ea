// Package version resolves the binary's version from, in order, the
// link-time override, the module version stamped by the Go toolchain,
// and the VCS metadata embedded in the build.
package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const modulePath = "pkt.systems/quiesce"

// release is overridable at link time:
//
//	go build -ldflags "-X pkt.systems/quiesce/internal/version.release=v1.2.3"
var release string

// Current returns the best available version string, falling back to a
// pseudo-version derived from VCS metadata and finally to a fixed marker
// when the binary carries no build information at all.
func Current() string {
	if v := strings.TrimSpace(release); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
		if v := stampOf(info).pseudo(); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

// Module returns the main module path from build info when available.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if p := strings.TrimSpace(info.Main.Path); p != "" {
			return p
		}
	}
	return modulePath
}

// Revision returns the VCS revision the binary was built from, suffixed
// with "+dirty" for modified trees. Empty without VCS metadata.
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	s := stampOf(info)
	if s.revision == "" {
		return ""
	}
	if s.dirty {
		return s.revision + "+dirty"
	}
	return s.revision
}

type vcsStamp struct {
	revision string
	stamped  time.Time
	dirty    bool
}

func stampOf(info *debug.BuildInfo) vcsStamp {
	var s vcsStamp
	if info == nil {
		return s
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			s.revision = setting.Value
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
				s.stamped = t
			}
		case "vcs.modified":
			s.dirty = setting.Value == "true"
		}
	}
	return s
}

func (s vcsStamp) pseudo() string {
	if s.revision == "" || s.stamped.IsZero() {
		return ""
	}
	rev := s.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	out := "v0.0.0-" + s.stamped.UTC().Format("20060102150405") + "-" + rev
	if s.dirty {
		out += "+dirty"
	}
	return out
}
