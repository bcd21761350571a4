// Package repair detects what kind of front-end project an upload
// contains and patches the problems that most often break webview
// builds: missing relative base paths, missing legacy transpilation,
// and undeclared dependencies.
package repair

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vibecoding/demo2apk/internal/runner"
)

// ErrNoProject is returned when an extracted archive contains no
// package.json anywhere a project root could plausibly be.
var ErrNoProject = errors.New("no package.json found in the uploaded project")

// installed reports whether a tool is on PATH. Swapped in tests.
var installed = runner.Installed

// ProjectType classifies the build tooling a project uses.
type ProjectType int

const (
	TypeUnknown ProjectType = iota
	TypeVite
	TypeNext
	TypeCreateReactApp
)

func (t ProjectType) String() string {
	switch t {
	case TypeVite:
		return "vite"
	case TypeNext:
		return "next"
	case TypeCreateReactApp:
		return "create-react-app"
	default:
		return "unknown"
	}
}

// Project is the result of detection: where the project lives, how it
// builds, and where its static output lands.
type Project struct {
	Root       string
	Type       ProjectType
	OutputDir  string
	Manager    string
	ConfigPath string
}

// OutputPath returns the absolute build output directory.
func (p *Project) OutputPath() string {
	return filepath.Join(p.Root, p.OutputDir)
}

var (
	viteConfigs = []string{"vite.config.js", "vite.config.ts", "vite.config.mts", "vite.config.mjs"}
	nextConfigs = []string{"next.config.js", "next.config.ts", "next.config.mjs"}
)

// FindProjectRoot returns the directory holding package.json: the given
// root, or a single nested directory when the archive wraps the project
// in one (the way zip exports from editors usually do).
func FindProjectRoot(root string) (string, error) {
	if _, err := os.Stat(filepath.Join(root, "package.json")); err == nil {
		return root, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		nested := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(nested, "package.json")); err == nil {
			return nested, nil
		}
	}
	return "", ErrNoProject
}

// Detect classifies the project at root and picks the package manager to
// drive it with.
func Detect(root string) (*Project, error) {
	p := &Project{Root: root, Type: TypeUnknown, OutputDir: "dist", Manager: detectManager(root)}

	for _, name := range viteConfigs {
		if path := filepath.Join(root, name); exists(path) {
			p.Type = TypeVite
			p.ConfigPath = path
			return p, nil
		}
	}
	for _, name := range nextConfigs {
		if path := filepath.Join(root, name); exists(path) {
			p.Type = TypeNext
			p.OutputDir = "out"
			p.ConfigPath = path
			return p, nil
		}
	}

	pkg, err := loadPackageJSON(filepath.Join(root, "package.json"))
	if err != nil {
		return nil, err
	}
	if pkg.hasDependency("react-scripts") {
		p.Type = TypeCreateReactApp
		p.OutputDir = "build"
	}
	return p, nil
}

// detectManager prefers the manager whose lockfile is present, provided
// it is actually installed. npm is the fallback either way.
func detectManager(root string) string {
	if exists(filepath.Join(root, "pnpm-lock.yaml")) && installed("pnpm") {
		return "pnpm"
	}
	if exists(filepath.Join(root, "yarn.lock")) && installed("yarn") {
		return "yarn"
	}
	return "npm"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
