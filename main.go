// demo2apk turns HTML documents and zipped front-end projects into
// installable Android APKs. One binary carries every mode:
//   - serve:  the HTTP API that accepts uploads and serves finished APKs
//   - worker: build slots that drain the shared queue
//   - sweep:  one-shot reclamation of expired artifacts
//   - submit: client that uploads a file and downloads the APK
package main

import (
	"os"

	"github.com/vibecoding/demo2apk/internal/cli"
	"github.com/vibecoding/demo2apk/internal/version"
)

// Version information, overridden by ldflags in release builds.
var (
	Version   = "v1.2.0-dev"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
