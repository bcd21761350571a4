package toolchain

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/runner"
	"github.com/vibecoding/demo2apk/internal/util/archive"
	"github.com/vibecoding/demo2apk/internal/util/fetch"
)

const defaultDistBaseURL = "https://services.gradle.org/distributions"

// Gradle provisions wrapper scripts for generated Android projects and
// runs their builds. When neither a project wrapper nor a system Gradle
// exists, a pinned distribution is downloaded once and cached under
// ~/.gradle/gradle-dist for reuse across builds.
type Gradle struct {
	runner  runner.Runner
	client  *nethttp.Client
	log     *logging.Logger
	version string

	distBaseURL string
	cacheRoot   string
}

// NewGradle returns a provisioner pinned to the given Gradle version.
func NewGradle(r runner.Runner, client *nethttp.Client, version string, log *logging.Logger) *Gradle {
	cacheRoot := filepath.Join(os.TempDir(), "gradle-dist")
	if home, err := os.UserHomeDir(); err == nil {
		cacheRoot = filepath.Join(home, ".gradle", "gradle-dist")
	}
	return &Gradle{
		runner:      r,
		client:      client,
		log:         log,
		version:     version,
		distBaseURL: defaultDistBaseURL,
		cacheRoot:   cacheRoot,
	}
}

// WrapperPath returns the wrapper script a provisioned project is built
// with.
func WrapperPath(projectDir string) string {
	return filepath.Join(projectDir, wrapperScript())
}

// EnsureWrapper makes sure projectDir contains an executable Gradle
// wrapper. An existing wrapper is kept as-is apart from its mode. When
// the project ships none, one is generated with the system Gradle if
// present, otherwise with the cached pinned distribution.
func (g *Gradle) EnsureWrapper(ctx context.Context, projectDir string) error {
	wrapper := WrapperPath(projectDir)
	if _, err := os.Stat(wrapper); err == nil {
		g.log.Debug().Str("wrapper", wrapper).Msg("project ships its own gradle wrapper")
		return markExecutable(wrapper)
	}

	gradleCmd := "gradle"
	if !installed("gradle") {
		distDir, err := g.ensureDistribution(ctx)
		if err != nil {
			return err
		}
		gradleCmd = filepath.Join(distDir, "bin", gradleBinary())
	}

	if err := g.generateWrapper(ctx, gradleCmd, projectDir); err != nil {
		return err
	}
	if _, err := os.Stat(wrapper); err != nil {
		return fmt.Errorf("gradle did not produce a wrapper script in %s", projectDir)
	}
	return markExecutable(wrapper)
}

// AssembleDebug runs the project's wrapper to produce a debug APK. The
// Gradle daemon is disabled and the JVM heap capped so concurrent builds
// stay inside the host's memory budget.
func (g *Gradle) AssembleDebug(ctx context.Context, projectDir string, extraEnv []string) error {
	env := append([]string{"GRADLE_OPTS=-Xmx1024m"}, extraEnv...)
	_, err := g.runner.Run(ctx, runner.Command{
		Name:    WrapperPath(projectDir),
		Args:    []string{"assembleDebug", "--no-daemon"},
		Dir:     projectDir,
		Env:     env,
		Timeout: 30 * time.Minute,
	})
	return err
}

func (g *Gradle) generateWrapper(ctx context.Context, gradleCmd, projectDir string) error {
	g.log.Info().Str("gradle", gradleCmd).Str("version", g.version).Msg("generating gradle wrapper")
	_, err := g.runner.Run(ctx, runner.Command{
		Name: gradleCmd,
		Args: []string{
			"wrapper",
			"--gradle-version", g.version,
			"--gradle-distribution-url", g.distURL(),
		},
		Dir:     projectDir,
		Timeout: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to generate gradle wrapper: %w", err)
	}
	return nil
}

// ensureDistribution returns the root of the cached pinned distribution,
// downloading and extracting it on first use.
func (g *Gradle) ensureDistribution(ctx context.Context) (string, error) {
	distDir := filepath.Join(g.cacheRoot, "gradle-"+g.version)
	binary := filepath.Join(distDir, "bin", gradleBinary())
	if _, err := os.Stat(binary); err == nil {
		return distDir, nil
	}

	url := g.distURL()
	zipPath := filepath.Join(g.cacheRoot, fmt.Sprintf("gradle-%s-bin.zip", g.version))
	g.log.Info().Str("version", g.version).Str("url", url).Msg("downloading gradle distribution")
	size, err := fetch.Download(ctx, g.client, url, zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to download gradle %s: %w", g.version, err)
	}
	g.log.Debug().Int64("size", size).Msg("gradle distribution downloaded")

	// The archive contains a single top-level gradle-<version>/ directory.
	if err := archive.Unzip(zipPath, g.cacheRoot); err != nil {
		return "", fmt.Errorf("failed to extract gradle distribution: %w", err)
	}
	os.Remove(zipPath)

	if _, err := os.Stat(binary); err != nil {
		return "", fmt.Errorf("gradle distribution is missing %s", binary)
	}
	if err := markExecutable(binary); err != nil {
		return "", err
	}
	return distDir, nil
}

func (g *Gradle) distURL() string {
	return fmt.Sprintf("%s/gradle-%s-bin.zip", g.distBaseURL, g.version)
}

func markExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("failed to mark %s executable: %w", path, err)
	}
	return nil
}

func wrapperScript() string {
	if runtime.GOOS == "windows" {
		return "gradlew.bat"
	}
	return "gradlew"
}

func gradleBinary() string {
	if runtime.GOOS == "windows" {
		return "gradle.bat"
	}
	return "gradle"
}
