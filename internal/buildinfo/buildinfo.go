// Package buildinfo resolves the gateway's revision string for the
// diagnostics snapshot (spec §6 "Optional generated `revision` file is
// read-only"). It checks, in order: a handful of CI/deploy-provided
// environment variables, then a generated revision file written at
// build time, falling back to "unknown" so a missing revision never
// blocks startup.
package buildinfo

import (
	"os"
	"strings"
	"sync"
)

// envKeys is checked in order; the first non-empty value wins. CI
// systems disagree on the name, so several are tried.
var envKeys = []string{
	"LABGW_REVISION",
	"GIT_COMMIT",
	"GITHUB_SHA",
	"CI_COMMIT_SHA",
	"SOURCE_VERSION",
}

// revisionFile is the generated file a build pipeline may drop next to
// the binary for deployments that ship without a .git directory.
const revisionFile = "revision"

var (
	once sync.Once
	rev  string
)

// Revision returns the resolved build revision, computing it lazily on
// first call and caching the result.
func Revision() string {
	once.Do(func() {
		rev = resolve()
	})
	return rev
}

func resolve() string {
	for _, key := range envKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if b, err := os.ReadFile(revisionFile); err == nil {
		if v := strings.TrimSpace(string(b)); v != "" {
			return v
		}
	}
	return "unknown"
}
