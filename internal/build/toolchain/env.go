// Package toolchain locates and provisions the host tools an Android
// build needs: Node, a JDK, the Android SDK, and a Gradle wrapper.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/runner"
)

// ErrSDKNotFound is returned when no Android SDK installation could be
// located on the host.
var ErrSDKNotFound = errors.New("android sdk not found")

// installed reports whether a tool is on PATH. Swapped in tests.
var installed = runner.Installed

// ResolveSDK returns the first Android SDK directory that exists, checking
// environment variables before the conventional install locations.
func ResolveSDK() (string, error) {
	for _, dir := range sdkCandidates() {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", ErrSDKNotFound
}

func sdkCandidates() []string {
	candidates := []string{
		os.Getenv("ANDROID_HOME"),
		os.Getenv("ANDROID_SDK_ROOT"),
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	switch runtime.GOOS {
	case "darwin":
		if home != "" {
			candidates = append(candidates, filepath.Join(home, "Library", "Android", "sdk"))
		}
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			candidates = append(candidates, filepath.Join(local, "Android", "Sdk"))
		}
	default:
		if home != "" {
			candidates = append(candidates, filepath.Join(home, "Android", "Sdk"))
		}
		candidates = append(candidates,
			"/usr/local/android-sdk",
			"/opt/android-sdk",
			"/usr/lib/android-sdk",
		)
	}
	return candidates
}

// BuildEnv returns the environment additions every toolchain subprocess
// runs with: SDK variables plus the SDK tool directories prepended to
// PATH. The returned entries override inherited ones of the same name.
func BuildEnv(sdkRoot string) []string {
	path := strings.Join([]string{
		filepath.Join(sdkRoot, "platform-tools"),
		filepath.Join(sdkRoot, "cmdline-tools", "latest", "bin"),
		filepath.Join(sdkRoot, "tools", "bin"),
		os.Getenv("PATH"),
	}, string(os.PathListSeparator))
	return []string{
		"ANDROID_HOME=" + sdkRoot,
		"ANDROID_SDK_ROOT=" + sdkRoot,
		"PATH=" + path,
	}
}

// CheckEnvironment verifies that every tool a real build needs is
// available. The returned error names everything that is missing so the
// operator can fix the host in one pass.
func CheckEnvironment() error {
	var missing []string
	for _, tool := range []string{"node", "npm", "java"} {
		if !installed(tool) {
			missing = append(missing, tool)
		}
	}
	if _, err := ResolveSDK(); err != nil {
		missing = append(missing, "android sdk (set ANDROID_HOME)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required build tools: %s", strings.Join(missing, ", "))
	}
	return nil
}

// EnsureCordova installs the Cordova CLI globally when it is not already
// on PATH. Install output is logged at debug level.
func EnsureCordova(ctx context.Context, r runner.Runner, log *logging.Logger) error {
	if installed("cordova") {
		return nil
	}
	log.Info().Msg("Cordova CLI not found, installing globally")
	res, err := r.Run(ctx, runner.Command{
		Name:    "npm",
		Args:    []string{"install", "-g", "cordova"},
		Timeout: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to install cordova: %w", err)
	}
	log.Debug().Str("output", runner.Summarize(res.Stdout)).Msg("cordova installed")
	return nil
}
