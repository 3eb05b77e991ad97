// Package misc keeps small program-wide helpers which do not belong anywhere else.
package misc

import "runtime/debug"

const appName = "datx"

// GetAppName returns short program name to be used in logs, paths and the like.
func GetAppName() string {
	return appName
}

// GetVersion returns module version recorded at build time.
func GetVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || len(bi.Main.Version) == 0 {
		return "unknown"
	}
	return bi.Main.Version
}

// GetGitHash returns VCS revision recorded at build time.
func GetGitHash() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return "unknown"
}
