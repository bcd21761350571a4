// Package pipeline turns an admitted upload into a debug APK. Two
// staged pipelines share one envelope: environment check, workspace
// preparation, external tool orchestration, artifact collection. Each
// stage reports progress on a fixed numeric schedule so a polling client
// sees steady movement, with synthetic heartbeats across the long
// external commands.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vibecoding/demo2apk/internal/build/icons"
	"github.com/vibecoding/demo2apk/internal/build/offline"
	"github.com/vibecoding/demo2apk/internal/build/repair"
	"github.com/vibecoding/demo2apk/internal/build/toolchain"
	"github.com/vibecoding/demo2apk/internal/config"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/models"
	"github.com/vibecoding/demo2apk/internal/runner"
	"github.com/vibecoding/demo2apk/internal/storage"
)

// ProgressFunc receives stage updates as a build advances. percent is
// within [0,100]; the queue clamps regressions, so callers may emit
// synthetic values freely.
type ProgressFunc func(message string, percent int)

// Host probes, swapped in tests so pipelines run without a real
// toolchain.
var (
	checkEnvironment = toolchain.CheckEnvironment
	resolveSDK       = toolchain.ResolveSDK
	ensureCordova    = toolchain.EnsureCordova
)

// Builder runs builds from start to artifact. One Builder serves all
// worker slots; per-build state lives on the stack.
type Builder struct {
	cfg      *config.Config
	store    *storage.Store
	runner   runner.Runner
	gradle   *toolchain.Gradle
	offliner *offline.Offliner
	fixer    *repair.Fixer
	icons    *icons.Injector
	log      *logging.Logger
}

// New wires a Builder from the shared service dependencies.
func New(cfg *config.Config, store *storage.Store, r runner.Runner, client *nethttp.Client, log *logging.Logger) *Builder {
	return &Builder{
		cfg:      cfg,
		store:    store,
		runner:   r,
		gradle:   toolchain.NewGradle(r, client, cfg.Build.GradleVersion, log),
		offliner: offline.New(r, client, log),
		fixer:    repair.NewFixer(log),
		icons:    icons.NewInjector(log),
		log:      log,
	}
}

// Outcome describes a successful build.
type Outcome struct {
	APKPath string
	APKSize int64
}

// Run executes the pipeline for the task's kind. Pipeline errors are
// ordinary build failures: the caller records them on the job rather
// than crashing the worker.
func (b *Builder) Run(ctx context.Context, task *models.Task, progress ProgressFunc) (*Outcome, error) {
	if progress == nil {
		progress = func(string, int) {}
	}
	if b.cfg.Build.MockBuild {
		return b.runMock(ctx, task, progress)
	}
	switch task.Kind {
	case models.KindHTML:
		return b.runHTML(ctx, task, progress)
	case models.KindZip:
		return b.runZip(ctx, task, progress)
	default:
		return nil, fmt.Errorf("unknown build kind %q", task.Kind)
	}
}

// collectArtifact copies the built apk to its canonical location and
// verifies the copy is byte-complete.
func (b *Builder) collectArtifact(task *models.Task, apkPath string, progress ProgressFunc) (*Outcome, error) {
	progress("Publishing the APK", 95)

	srcSize, ok := storage.FileSize(apkPath)
	if !ok {
		return nil, fmt.Errorf("built apk disappeared: %s", apkPath)
	}
	dest := b.store.ArtifactPath(task.AppName, task.ID)
	n, err := storage.CopyFile(apkPath, dest)
	if err != nil {
		return nil, err
	}
	if n != srcSize {
		return nil, fmt.Errorf("artifact copy is incomplete: %d of %d bytes", n, srcSize)
	}

	progress("Build complete", 100)
	return &Outcome{APKPath: dest, APKSize: n}, nil
}

// findAPK locates the debug apk under a Gradle project, checking the
// standard output location first.
func findAPK(androidDir string) (string, error) {
	candidates := []string{
		filepath.Join(androidDir, "app", "build", "outputs", "apk", "debug", "app-debug.apk"),
		filepath.Join(androidDir, "build", "outputs", "apk", "debug", "app-debug.apk"),
	}
	for _, c := range candidates {
		if _, ok := storage.FileSize(c); ok {
			return c, nil
		}
	}

	var found string
	filepath.WalkDir(androidDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), "-debug.apk") {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if found == "" {
		return "", errors.New("gradle build produced no debug apk")
	}
	return found, nil
}

// prepareEnvironment runs the shared preconditions: required tools on
// PATH and a resolvable Android SDK. Returns the environment additions
// every toolchain subprocess runs with.
func prepareEnvironment(progress ProgressFunc) ([]string, error) {
	progress("Checking build environment", 5)
	if err := checkEnvironment(); err != nil {
		return nil, err
	}
	sdk, err := resolveSDK()
	if err != nil {
		return nil, err
	}
	return toolchain.BuildEnv(sdk), nil
}

// copyDir copies a directory tree. Modes are normalized, not preserved.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		_, err = storage.CopyFile(path, target)
		return err
	})
}
