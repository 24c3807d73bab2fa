// Package version carries build information injected at link time.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Set with -ldflags "-X github.com/vocdoni/gofirma/qessign/internal/version.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String is the long form printed by the version command.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}

// UserAgent identifies this service to the signing provider. Builds without
// a release version report "dev".
func UserAgent() string {
	return "qessign/" + normalize(Version)
}

// normalize returns v as MAJOR.MINOR.PATCH, dropping a leading "v" and any
// pre-release or build suffix. Anything else becomes "dev".
func normalize(v string) string {
	s := strings.TrimSpace(v)
	s = strings.TrimPrefix(s, "v")
	s = strings.TrimPrefix(s, "V")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if s == "" || len(parts) > 3 {
		return "dev"
	}
	num := [3]int{}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "dev"
		}
		num[i] = n
	}
	return fmt.Sprintf("%d.%d.%d", num[0], num[1], num[2])
}
