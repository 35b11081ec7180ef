package lifecycle

import (
	"runtime/debug"
	"strings"
)

// enginePath is the module whose version the harness asks for.
const enginePath = "github.com/ajna-inc/essi"

// fallbackVersion is reported when build info is unavailable (e.g. tests run
// with -ldflags stripping it).
const fallbackVersion = "0.0.0"

// Version reports the engine's module version with the leading "v" and any
// pre-release or build metadata stripped, the form the harness compares
// against.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			if dep.Path == enginePath {
				return stripPrerelease(dep.Version)
			}
		}
	}
	return fallbackVersion
}

func stripPrerelease(v string) string {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	return v
}
