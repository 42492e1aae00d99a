// Package buildinfo reports the build identity stamped in with -ldflags
package buildinfo

import "runtime/debug"

// BuildInfo holds version information about the binary
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// set via -ldflags "-X github.com/nuxxor/Mevzubase/internal/platform/buildinfo.version=v0.3.0"
var (
	version = "dev"
	commit  = ""
	date    = "unknown"
)

// Info returns the stamped build info, falling back to the vcs revision Go embeds
func Info() BuildInfo {
	c := commit
	if c == "" {
		c = vcsShortSHA()
	}
	return BuildInfo{Version: version, Commit: c, Date: date}
}

func vcsShortSHA() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "unknown"
}
