// Package version reports build information for metabulo binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	unknownValue     = "unknown"
	commitHashLength = 7
)

// Build-time variables set by ldflags
var (
	Version   = "dev"
	BuildDate = unknownValue
	GitCommit = unknownValue
)

// stackModules are the dependencies reported by String.
var stackModules = []string{
	"github.com/apache/arrow-go/v18",
	"modernc.org/sqlite",
}

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string   `json:"version"`
	BuildDate string   `json:"build_date"`
	GitCommit string   `json:"git_commit"`
	GoVersion string   `json:"go_version"`
	Dirty     bool     `json:"dirty"`
	Module    string   `json:"module,omitempty"`
	Deps      []Module `json:"deps,omitempty"`
}

// Module is a dependency and the version it was built with.
type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// Info collects build information from ldflags and the runtime.
func Info() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Dirty:     strings.HasSuffix(GitCommit, "-dirty"),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Module = bi.Main.Path
	for _, dep := range bi.Deps {
		info.Deps = append(info.Deps, Module{Path: dep.Path, Version: dep.Version})
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.modified" && s.Value == "true" {
			info.Dirty = true
		}
		if s.Key == "vcs.revision" && info.GitCommit == unknownValue {
			info.GitCommit = s.Value
		}
	}
	return info
}

// Dependency returns the version of module path, or "" if it is not linked.
func (b BuildInfo) Dependency(path string) string {
	for _, d := range b.Deps {
		if d.Path == path {
			return d.Version
		}
	}
	return ""
}

// String returns a multi-line summary for the version command.
func (b BuildInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "metabulo %s", b.Version)
	if b.Dirty {
		sb.WriteString(" (dirty)")
	}
	sb.WriteString("\n")

	if b.GitCommit != unknownValue {
		commit := b.GitCommit
		if len(commit) > commitHashLength {
			commit = commit[:commitHashLength]
		}
		fmt.Fprintf(&sb, "Git Commit: %s\n", commit)
	}
	if b.BuildDate != unknownValue {
		fmt.Fprintf(&sb, "Build Date: %s\n", b.BuildDate)
	}
	fmt.Fprintf(&sb, "Go Version: %s\n", b.GoVersion)
	for _, path := range stackModules {
		if v := b.Dependency(path); v != "" {
			fmt.Fprintf(&sb, "%s %s\n", path, v)
		}
	}
	return sb.String()
}

// UserAgent returns the User-Agent sent to analysis servers.
func UserAgent() string {
	return "metabulo/" + Version
}
