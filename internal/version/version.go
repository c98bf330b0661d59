// Package version reports build information set at link time.
//
//	go build -ldflags "-X github.com/sirosfoundation/go-ksef/internal/version.Version=v1.2.0"
package version

import "runtime/debug"

var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info is the build information of the running binary
type Info struct {
	Version   string
	BuildDate string
	GitCommit string
}

// Get returns the build information, falling back to the module version
// recorded by the Go toolchain when nothing was set at link time.
func Get() Info {
	info := Info{Version: Version, BuildDate: BuildDate, GitCommit: GitCommit}
	if info.Version != "dev" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && info.GitCommit == "unknown" {
				info.GitCommit = s.Value
			}
		}
	}
	return info
}
