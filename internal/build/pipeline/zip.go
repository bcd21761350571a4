package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vibecoding/demo2apk/internal/build/repair"
	"github.com/vibecoding/demo2apk/internal/models"
	"github.com/vibecoding/demo2apk/internal/runner"
	"github.com/vibecoding/demo2apk/internal/util/appid"
	"github.com/vibecoding/demo2apk/internal/util/archive"
)

// installTimeout bounds the dependency install. Registries that hang
// are a build failure, not a stuck worker.
const installTimeout = 2 * time.Minute

// runZip builds a zipped front-end project: extract, repair, bundle,
// then wrap the static output in a native Android project.
func (b *Builder) runZip(ctx context.Context, task *models.Task, progress ProgressFunc) (*Outcome, error) {
	env, err := prepareEnvironment(progress)
	if err != nil {
		return nil, err
	}

	progress("Extracting the project archive", 10)
	safeName := appid.DirName(task.AppName)
	ws, err := b.store.CleanWorkspace(safeName + "-build")
	if err != nil {
		return nil, err
	}
	if err := archive.Unzip(task.UploadPath, ws); err != nil {
		return nil, err
	}

	progress("Locating the project root", 15)
	root, err := repair.FindProjectRoot(ws)
	if err != nil {
		return nil, err
	}

	progress("Detecting the project type", 18)
	proj, err := repair.Detect(root)
	if err != nil {
		return nil, err
	}
	b.log.Info().
		Str("task", task.ID).
		Str("type", proj.Type.String()).
		Str("manager", proj.Manager).
		Str("output", proj.OutputDir).
		Msg("project detected")

	switch proj.Type {
	case repair.TypeNext:
		progress("Configuring static export", 20)
		if _, err := b.fixer.EnsureStaticExport(proj); err != nil {
			return nil, err
		}
	case repair.TypeCreateReactApp:
		progress("Adjusting build configuration", 20)
		if _, err := b.fixer.EnsureRelativeHomepage(proj); err != nil {
			return nil, err
		}
	case repair.TypeVite:
		progress("Repairing the project configuration", 22)
		changes, err := b.fixer.Repair(proj)
		if err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			progress(fmt.Sprintf("Applied %d project fixes", len(changes)), 24)
		} else {
			progress("Project configuration verified", 24)
		}
	}

	progress("Installing project dependencies", 25)
	if err := runner.RunWithHeartbeat(progress, "Installing project dependencies", 25, 38, func() error {
		_, err := b.runner.Run(ctx, runner.Command{
			Name:    proj.Manager,
			Args:    installArgs(proj.Manager),
			Dir:     root,
			Env:     env,
			Timeout: installTimeout,
		})
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to install dependencies: %w", err)
	}

	progress("Building the web bundle", 40)
	if err := runner.RunWithHeartbeat(progress, "Building the web bundle", 40, 53, func() error {
		_, err := b.runner.Run(ctx, runner.Command{
			Name:    proj.Manager,
			Args:    []string{"run", "build"},
			Dir:     root,
			Env:     env,
			Timeout: 10 * time.Minute,
		})
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to build the project: %w", err)
	}

	progress("Verifying the build output", 55)
	if info, err := os.Stat(proj.OutputPath()); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("build produced no %s directory", proj.OutputDir)
	}

	progress("Installing the native wrapper", 60)
	if _, err := b.runner.Run(ctx, runner.Command{
		Name:    proj.Manager,
		Args:    addArgs(proj.Manager, "@capacitor/core", "@capacitor/cli", "@capacitor/android"),
		Dir:     root,
		Env:     env,
		Timeout: 5 * time.Minute,
	}); err != nil {
		return nil, fmt.Errorf("failed to install the native wrapper: %w", err)
	}
	if err := writeWrapperConfig(root, task, proj.OutputDir); err != nil {
		return nil, err
	}

	progress("Adding the Android platform", 65)
	if _, err := b.runner.Run(ctx, runner.Command{
		Name:    "npx",
		Args:    []string{"cap", "add", "android"},
		Dir:     root,
		Env:     env,
		Timeout: 10 * time.Minute,
	}); err != nil {
		return nil, fmt.Errorf("failed to add the android platform: %w", err)
	}

	progress("Syncing web resources", 70)
	if _, err := b.runner.Run(ctx, runner.Command{
		Name:    "npx",
		Args:    []string{"cap", "sync", "android"},
		Dir:     root,
		Env:     env,
		Timeout: 5 * time.Minute,
	}); err != nil {
		return nil, fmt.Errorf("failed to sync web resources: %w", err)
	}

	progress("Injecting the launcher icon", 75)
	androidDir := filepath.Join(root, "android")
	if err := b.icons.InjectWrapper(androidDir, task.IconPath); err != nil {
		return nil, err
	}

	progress("Building the Android app", 80)
	if err := b.gradle.EnsureWrapper(ctx, androidDir); err != nil {
		return nil, err
	}
	if err := runner.RunWithHeartbeat(progress, "Building the Android app", 80, 93, func() error {
		return b.gradle.AssembleDebug(ctx, androidDir, env)
	}); err != nil {
		return nil, err
	}

	apk, err := findAPK(androidDir)
	if err != nil {
		return nil, err
	}
	return b.collectArtifact(task, apk, progress)
}

// writeWrapperConfig emits the native wrapper's project file pointing at
// the freshly built static output.
func writeWrapperConfig(root string, task *models.Task, webDir string) error {
	cfg := map[string]string{
		"appId":   task.AppID,
		"appName": task.AppName,
		"webDir":  webDir,
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode wrapper config: %w", err)
	}
	path := filepath.Join(root, "capacitor.config.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write wrapper config: %w", err)
	}
	return nil
}

// installArgs forces a dev-mode install. Front-end projects keep their
// entire toolchain in devDependencies, and a registry-default production
// install would skip all of it.
func installArgs(manager string) []string {
	switch manager {
	case "pnpm":
		return []string{"install", "--prod=false"}
	case "yarn":
		return []string{"install", "--production=false"}
	default:
		return []string{"install", "--include=dev"}
	}
}

func addArgs(manager string, pkgs ...string) []string {
	switch manager {
	case "pnpm", "yarn":
		return append([]string{"add"}, pkgs...)
	default:
		return append([]string{"install"}, pkgs...)
	}
}
