// Package version reports which build of synapse is running. The commit
// hash comes from an -ldflags override when set, otherwise from the VCS
// stamp the toolchain embeds, otherwise "dev".
package version

import "runtime/debug"

// AppName prefixes version strings in logs and user agents.
const AppName = "synapse"

// gitCommitOverride carries the commit for container builds that compile
// outside a git checkout. Set with
// -ldflags "-X .../pkg/version.gitCommitOverride=<sha>".
var gitCommitOverride string

// GitCommit is the short commit hash of this build, or "dev" when no
// commit can be determined (go test, tarball builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shortHash(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shortHash(s.Value)
		}
	}
	return "dev"
}

func shortHash(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns the "synapse/<commit>" identifier logged at startup.
func Full() string {
	return AppName + "/" + GitCommit
}
