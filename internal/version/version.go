// Package version carries build information stamped in with ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/encodr/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/encodr/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/encodr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is used in log lines and the OpenAPI document.
const ApplicationName = "encodr"

// Info is the build information reported by `encodr version --json`.
type Info struct {
	Application string `json:"application"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	GoVersion   string `json:"goVersion"`
	Platform    string `json:"platform"`
}

// GetInfo returns the build information.
func GetInfo() Info {
	return Info{
		Application: ApplicationName,
		Version:     Version,
		Commit:      Commit,
		Date:        Date,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// String returns the full human readable version line.
func String() string {
	info := GetInfo()
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)",
			ApplicationName, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s %s (%s %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns "encodr <version>" with the short commit when known.
func Short() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, c)
	}
	return ApplicationName + " " + Version
}
