// Package version exposes build metadata stamped in via ldflags, e.g.
//
//	go build -ldflags "-X github.com/donorsync/reconcile-api/internal/version.Version=1.2.0"
//
// Everything defaults to development values when built without flags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic release version.
	Version = "0.0.0-dev"

	// Commit is the git commit SHA the binary was built from.
	Commit = "unknown"

	// Date is the build date, RFC3339.
	Date = "unknown"

	// Dirty is "true" when the git tree had local changes at build time.
	Dirty = "false"
)

// Info is the resolved build metadata, suitable for logging and the
// health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Dirty     bool   `json:"dirty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get resolves the stamped variables together with runtime facts.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Dirty:     Dirty == "true",
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders the full "version (commit) built date" form.
func (i Info) String() string {
	dirty := ""
	if i.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s) built %s", i.Version, i.Commit, dirty, i.Date)
}

// Short returns just the version, with a -dirty suffix when applicable.
func (i Info) Short() string {
	if i.Dirty {
		return i.Version + "-dirty"
	}
	return i.Version
}
