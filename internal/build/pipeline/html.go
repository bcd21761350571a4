package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vibecoding/demo2apk/internal/build/offline"
	"github.com/vibecoding/demo2apk/internal/models"
	"github.com/vibecoding/demo2apk/internal/runner"
	"github.com/vibecoding/demo2apk/internal/storage"
	"github.com/vibecoding/demo2apk/internal/util/appid"
)

// runHTML packages a single HTML document through the Cordova-style
// shell: the page becomes the shell's web root, patched for the webview,
// with its remote dependencies bundled when it has any.
func (b *Builder) runHTML(ctx context.Context, task *models.Task, progress ProgressFunc) (*Outcome, error) {
	env, err := prepareEnvironment(progress)
	if err != nil {
		return nil, err
	}

	progress("Preparing the shell toolchain", 10)
	if err := ensureCordova(ctx, b.runner, b.log); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(task.UploadPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	webSrc := filepath.Dir(task.UploadPath)
	entry := filepath.Base(task.UploadPath)
	if offline.NeedsOfflineify(string(data)) {
		progress("Bundling remote dependencies for offline use", 15)
		tmp, err := os.MkdirTemp("", "demo2apk-offline-")
		if err != nil {
			return nil, fmt.Errorf("failed to create offline workspace: %w", err)
		}
		defer os.RemoveAll(tmp)
		converted, err := b.offliner.Convert(ctx, task.UploadPath, tmp)
		if err != nil {
			return nil, err
		}
		webSrc = converted.Dir
		entry = "index.html"
	}

	progress("Creating the shell project", 25)
	safeName := appid.DirName(task.AppName)
	projectDir := b.store.WorkspacePath(safeName)
	if err := os.RemoveAll(projectDir); err != nil {
		return nil, fmt.Errorf("failed to clear workspace: %w", err)
	}
	if _, err := b.runner.Run(ctx, runner.Command{
		Name:    "cordova",
		Args:    []string{"create", projectDir, task.AppID, task.AppName},
		Dir:     b.store.BuildsRoot(),
		Env:     env,
		Timeout: 5 * time.Minute,
	}); err != nil {
		return nil, fmt.Errorf("failed to create shell project: %w", err)
	}

	progress("Installing the Android platform dependency", 32)
	if _, err := b.runner.Run(ctx, runner.Command{
		Name:    "npm",
		Args:    []string{"install", "cordova-android", "--save"},
		Dir:     projectDir,
		Env:     env,
		Timeout: 5 * time.Minute,
	}); err != nil {
		return nil, fmt.Errorf("failed to install the android platform dependency: %w", err)
	}

	progress("Adding the Android platform", 38)
	if _, err := b.runner.Run(ctx, runner.Command{
		Name:    "cordova",
		Args:    []string{"platform", "add", "android"},
		Dir:     projectDir,
		Env:     env,
		Timeout: 10 * time.Minute,
	}); err != nil {
		return nil, fmt.Errorf("failed to add the android platform: %w", err)
	}

	progress("Injecting the launcher icon", 42)
	if err := b.icons.InjectShell(projectDir, task.IconPath); err != nil {
		return nil, err
	}

	progress("Copying web content into the shell", 45)
	www := filepath.Join(projectDir, "www")
	if err := replaceWebRoot(www, webSrc, entry, task.IconPath); err != nil {
		return nil, err
	}
	if err := patchShellIndex(www); err != nil {
		return nil, err
	}

	progress("Syncing web resources", 55)
	if _, err := b.runner.Run(ctx, runner.Command{
		Name:    "cordova",
		Args:    []string{"prepare", "android"},
		Dir:     projectDir,
		Env:     env,
		Timeout: 5 * time.Minute,
	}); err != nil {
		return nil, fmt.Errorf("failed to sync web resources: %w", err)
	}

	progress("Preparing the Gradle wrapper", 60)
	androidDir := filepath.Join(projectDir, "platforms", "android")
	if err := b.gradle.EnsureWrapper(ctx, androidDir); err != nil {
		return nil, err
	}

	progress("Building the Android app", 70)
	if err := runner.RunWithHeartbeat(progress, "Building the Android app", 70, 95, func() error {
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

// replaceWebRoot rebuilds the shell's www directory from the web source:
// everything except the stored icon is copied over, with the entry page
// renamed to index.html.
func replaceWebRoot(www, srcDir, entry, iconPath string) error {
	if err := os.RemoveAll(www); err != nil {
		return fmt.Errorf("failed to clear web root: %w", err)
	}
	if err := os.MkdirAll(www, 0o755); err != nil {
		return fmt.Errorf("failed to create web root: %w", err)
	}

	skip := ""
	if iconPath != "" && filepath.Dir(iconPath) == srcDir {
		skip = filepath.Base(iconPath)
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("failed to read web source: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if name == skip {
			continue
		}
		src := filepath.Join(srcDir, name)
		if e.IsDir() {
			if err := copyDir(src, filepath.Join(www, name)); err != nil {
				return err
			}
			continue
		}
		dst := name
		if name == entry {
			dst = "index.html"
		}
		if _, err := storage.CopyFile(src, filepath.Join(www, dst)); err != nil {
			return err
		}
	}
	return nil
}

// patchShellIndex applies the webview patches to the copied entry page.
func patchShellIndex(www string) error {
	indexPath := filepath.Join(www, "index.html")
	doc, err := os.ReadFile(indexPath)
	if err != nil {
		return fmt.Errorf("web root has no index.html: %w", err)
	}
	patched := offline.PrepareForShell(string(doc))
	if patched == string(doc) {
		return nil
	}
	if err := os.WriteFile(indexPath, []byte(patched), 0o644); err != nil {
		return fmt.Errorf("failed to patch index.html: %w", err)
	}
	return nil
}
