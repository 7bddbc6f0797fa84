// Package version reports the client version and the User-Agent string
// sent to the cloud.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the client version. Release builds override it with
// -ldflags "-X github.com/erdlink/erdlink-go/pkg/version.Version=v1.2.3".
var Version = "dev"

// String returns Version, falling back to the module version recorded in
// the build info for "go install" builds.
func String() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// UserAgent returns the User-Agent header value for HTTP and websocket
// requests: "erdlink-go/<version> (<os>/<arch>)".
func UserAgent() string {
	return fmt.Sprintf("erdlink-go/%s (%s/%s)", String(), runtime.GOOS, runtime.GOARCH)
}
