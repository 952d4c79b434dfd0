package run

import (
	"os"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strings"

	"MarketPull/internal/domain/models"
)

// UnknownCommit is recorded when the working tree is not a git checkout.
// The manifest still pins what it can; absence of version control is an
// explicit fact, not a validation failure.
const UnknownCommit = "UNKNOWN"

// GitSnapshot captures the commit, remote URL, and dirty flag of the working
// tree. Any git failure degrades to UNKNOWN rather than aborting the run.
func GitSnapshot() models.GitInfo {
	info := models.GitInfo{Commit: UnknownCommit}

	out, err := gitOutput("rev-parse", "HEAD")
	if err != nil {
		return info
	}
	info.Commit = out

	if url, err := gitOutput("remote", "get-url", "origin"); err == nil {
		info.RepositoryURL = url
	}
	if status, err := gitOutput("status", "--porcelain"); err == nil {
		info.Dirty = status != ""
	}
	return info
}

func gitOutput(args ...string) (string, error) {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// EnvironmentSnapshot fingerprints the toolchain and host. Direct module
// dependencies are taken from build info when the binary carries it.
func EnvironmentSnapshot() *models.Environment {
	env := &models.Environment{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if host, err := os.Hostname(); err == nil {
		env.Hostname = host
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			env.Modules = append(env.Modules, dep.Path+"@"+dep.Version)
		}
	}
	return env
}
