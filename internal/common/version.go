package common

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Set with -ldflags "-X github.com/bobmcallan/vire-analytics/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

const (
	binaryName      = "vire-analytics"
	versionFileName = ".version"
)

// BuildInfo identifies the running engine binary.
type BuildInfo struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

var buildOnce sync.Once

// CurrentBuild returns the linked build info, filling any field the linker left
// at its default from a .version file beside the executable.
func CurrentBuild() BuildInfo {
	buildOnce.Do(func() {
		exe, err := os.Executable()
		if err != nil {
			return
		}
		info, err := applyVersionFile(filepath.Join(filepath.Dir(exe), versionFileName), linkedBuild())
		if err != nil {
			return
		}
		Version, Build, GitCommit = info.Version, info.Build, info.Commit
	})
	return linkedBuild()
}

func linkedBuild() BuildInfo {
	return BuildInfo{Version: Version, Build: Build, Commit: GitCommit}
}

// String renders "vire-analytics <version> (build <build>, commit <commit>)".
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s %s (build %s, commit %s)", binaryName, b.Version, b.Build, b.Commit)
}

// applyVersionFile overlays "key: value" or "key=value" lines onto the fields of
// info that are still defaults. Unknown keys and comments are ignored.
func applyVersionFile(path string, info BuildInfo) (BuildInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return info, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			if key, val, ok = strings.Cut(line, "="); !ok {
				continue
			}
		}
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "version":
			if info.Version == "dev" {
				info.Version = val
			}
		case "build":
			if info.Build == "unknown" {
				info.Build = val
			}
		case "commit":
			if info.Commit == "unknown" {
				info.Commit = val
			}
		}
	}
	return info, scanner.Err()
}
