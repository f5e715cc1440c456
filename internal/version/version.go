package version

import (
	"fmt"
	"runtime"
)

// Populated through -ldflags by the release build.
var (
	Version = "dev"
	Commit  = "unknown"
)

// String reports the build identity printed by the version flag.
func String() string {
	return fmt.Sprintf("usbmount %s (commit %s, %s)", Version, Commit, runtime.Version())
}
