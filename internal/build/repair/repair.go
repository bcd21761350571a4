package repair

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vibecoding/demo2apk/internal/logging"
)

const (
	legacyImport = "import legacy from '@vitejs/plugin-legacy'\n"
	legacyCall   = "legacy({ targets: ['chrome >= 52', 'android >= 5'], additionalLegacyPolyfills: ['regenerator-runtime/runtime'] })"
)

// implicitPeers lists packages known to use a dependency they do not
// declare. Installing the package without its silent peer breaks the
// production bundle only, which is exactly the build we run.
var implicitPeers = map[string]map[string]string{
	"recharts": {"react-is": "^18.2.0"},
}

// importWatchList holds modules that AI-generated projects import
// without declaring. Anything imported from here that is neither
// installed nor a Node builtin gets added.
var importWatchList = map[string]string{
	"react-is":            "^18.2.0",
	"prop-types":          "^15.8.1",
	"regenerator-runtime": "^0.14.1",
}

var nodeBuiltins = map[string]bool{
	"assert": true, "buffer": true, "child_process": true, "crypto": true,
	"events": true, "fs": true, "http": true, "https": true, "net": true,
	"os": true, "path": true, "process": true, "stream": true, "url": true,
	"util": true, "zlib": true,
}

var (
	basePattern          = regexp.MustCompile(`\bbase\s*:`)
	cssRefPattern        = regexp.MustCompile(`(?:href|src)=["']([^"']*index\.css)["']`)
	importPattern        = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w${},*\s]+from\s+)?['"]([^'"]+)['"]`)
	tailwindClassPattern = regexp.MustCompile(`class(?:Name)?=["'][^"']*(?:\b(?:flex|grid|hidden)\b|(?:bg|text|border|p[xytrbl]?|m[xytrbl]?|w|h|gap|rounded|shadow|font|items|justify)-)`)
)

var tailwindConfigs = []string{"tailwind.config.js", "tailwind.config.ts", "tailwind.config.cjs", "tailwind.config.mjs"}

// NeedsViteFix reports whether a bundler config is missing either the
// relative base path or the legacy transpilation plugin.
func NeedsViteFix(config string) bool {
	return !basePattern.MatchString(config) || !hasLegacyPlugin(config)
}

func hasLegacyPlugin(config string) bool {
	return strings.Contains(config, "@vitejs/plugin-legacy") || strings.Contains(config, "legacy(")
}

// Fixer patches projects in place before their dependencies install.
type Fixer struct {
	log *logging.Logger
}

func NewFixer(log *logging.Logger) *Fixer {
	return &Fixer{log: log}
}

// Repair applies the bundler-project fixes and returns a description of
// every change. Projects that already pass all checks come back
// untouched.
func (f *Fixer) Repair(p *Project) ([]string, error) {
	if p.Type != TypeVite {
		return nil, nil
	}

	cfgData, err := os.ReadFile(p.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.ConfigPath, err)
	}
	cfg := string(cfgData)
	cfgName := filepath.Base(p.ConfigPath)

	pkg, err := loadPackageJSON(filepath.Join(p.Root, "package.json"))
	if err != nil {
		return nil, err
	}

	var changes []string
	cfgChanged := false

	if !basePattern.MatchString(cfg) {
		patched, ok := injectConfigEntry(cfg, "base: './',")
		if ok {
			cfg = patched
			cfgChanged = true
			changes = append(changes, "set base './' in "+cfgName)
		} else {
			f.log.Warn().Str("config", cfgName).Msg("could not find a place to inject the base setting")
		}
	}

	if !hasLegacyPlugin(cfg) {
		patched, ok := injectLegacyPlugin(cfg)
		if ok {
			cfg = patched
			cfgChanged = true
			changes = append(changes, "added legacy browser targets to "+cfgName)
		} else {
			f.log.Warn().Str("config", cfgName).Msg("could not find a place to inject the legacy plugin")
		}
		if pkg.addDependency("devDependencies", "@vitejs/plugin-legacy", "^5.0.0") {
			changes = append(changes, "added @vitejs/plugin-legacy to devDependencies")
		}
		if pkg.addDependency("devDependencies", "terser", "^5.0.0") {
			changes = append(changes, "added terser to devDependencies")
		}
	}

	if cfgChanged {
		if err := os.WriteFile(p.ConfigPath, []byte(cfg), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", p.ConfigPath, err)
		}
	}

	tailwind := f.tailwindInUse(p)

	cssChanges, err := f.ensureEntryCSS(p, tailwind)
	if err != nil {
		return nil, err
	}
	changes = append(changes, cssChanges...)

	if tailwind && !hasTailwindConfig(p.Root) {
		scaffolded, err := f.scaffoldTailwind(p, pkg)
		if err != nil {
			return nil, err
		}
		changes = append(changes, scaffolded...)
	}

	changes = append(changes, f.fixImplicitDependencies(p, pkg)...)

	if err := pkg.save(); err != nil {
		return nil, err
	}

	for _, change := range changes {
		f.log.Info().Str("change", change).Msg("repaired project")
	}
	return changes, nil
}

// injectConfigEntry inserts a top-level entry into the exported config
// object.
func injectConfigEntry(cfg, entry string) (string, bool) {
	for _, anchor := range []string{"defineConfig({", "export default {"} {
		if idx := strings.Index(cfg, anchor); idx >= 0 {
			pos := idx + len(anchor)
			return cfg[:pos] + "\n  " + entry + cfg[pos:], true
		}
	}
	return cfg, false
}

func injectLegacyPlugin(cfg string) (string, bool) {
	if idx := strings.Index(cfg, "plugins: ["); idx >= 0 {
		pos := idx + len("plugins: [")
		return legacyImport + cfg[:pos] + legacyCall + ", " + cfg[pos:], true
	}
	patched, ok := injectConfigEntry(cfg, "plugins: ["+legacyCall+"],")
	if !ok {
		return cfg, false
	}
	return legacyImport + patched, true
}

// ensureEntryCSS creates any index.css the page links to but the
// project forgot to include.
func (f *Fixer) ensureEntryCSS(p *Project, tailwind bool) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(p.Root, "index.html"))
	if err != nil {
		return nil, nil
	}

	var changes []string
	for _, m := range cssRefPattern.FindAllStringSubmatch(string(data), -1) {
		rel := strings.TrimPrefix(m[1], "/")
		cssPath := filepath.Join(p.Root, filepath.FromSlash(rel))
		if exists(cssPath) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(cssPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create css directory: %w", err)
		}
		if err := os.WriteFile(cssPath, []byte(entryCSS(tailwind)), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", cssPath, err)
		}
		changes = append(changes, "created missing "+rel)
	}
	return changes, nil
}

func entryCSS(tailwind bool) string {
	var b strings.Builder
	if tailwind {
		b.WriteString("@tailwind base;\n@tailwind components;\n@tailwind utilities;\n\n")
	}
	b.WriteString("html, body, #root {\n  height: 100%;\n  width: 100%;\n  margin: 0;\n  padding: 0;\n}\n")
	return b.String()
}

func (f *Fixer) tailwindInUse(p *Project) bool {
	if hasTailwindConfig(p.Root) {
		return true
	}
	if data, err := os.ReadFile(filepath.Join(p.Root, "index.html")); err == nil {
		if strings.Contains(strings.ToLower(string(data)), "tailwind") {
			return true
		}
	}
	found := false
	forEachSourceFile(p.Root, func(path string, data []byte) {
		if !found && tailwindClassPattern.Match(data) {
			found = true
		}
	})
	return found
}

func hasTailwindConfig(root string) bool {
	for _, name := range tailwindConfigs {
		if exists(filepath.Join(root, name)) {
			return true
		}
	}
	return false
}

const tailwindConfigTemplate = `/** @type {import('tailwindcss').Config} */
module.exports = {
  content: ['./index.html', './src/**/*.{js,ts,jsx,tsx}'],
  theme: { extend: {} },
  plugins: [],
};
`

const postcssConfigTemplate = `module.exports = {
  plugins: {
    tailwindcss: {},
    autoprefixer: {},
  },
};
`

func (f *Fixer) scaffoldTailwind(p *Project, pkg *packageJSON) ([]string, error) {
	if err := os.WriteFile(filepath.Join(p.Root, "tailwind.config.js"), []byte(tailwindConfigTemplate), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write tailwind config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.Root, "postcss.config.js"), []byte(postcssConfigTemplate), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write postcss config: %w", err)
	}
	changes := []string{"created tailwind.config.js and postcss.config.js"}
	for name, version := range map[string]string{
		"tailwindcss":  "^3.4.0",
		"postcss":      "^8.4.0",
		"autoprefixer": "^10.4.0",
	} {
		if pkg.addDependency("devDependencies", name, version) {
			changes = append(changes, "added "+name+" to devDependencies")
		}
	}
	return changes, nil
}

// fixImplicitDependencies adds packages the project uses but never
// declares: known silent peers of installed packages, plus watch-list
// modules found in import statements.
func (f *Fixer) fixImplicitDependencies(p *Project, pkg *packageJSON) []string {
	var changes []string

	for dep, peers := range implicitPeers {
		if !pkg.hasDependency(dep) {
			continue
		}
		for name, version := range peers {
			if pkg.addDependency("dependencies", name, version) {
				changes = append(changes, fmt.Sprintf("added %s (required by %s)", name, dep))
			}
		}
	}

	imported := make(map[string]bool)
	forEachSourceFile(p.Root, func(path string, data []byte) {
		for _, m := range importPattern.FindAllStringSubmatch(string(data), -1) {
			if mod := moduleRoot(m[1]); mod != "" {
				imported[mod] = true
			}
		}
	})
	for mod := range imported {
		version, watched := importWatchList[mod]
		if !watched || nodeBuiltins[mod] {
			continue
		}
		if pkg.addDependency("dependencies", mod, version) {
			changes = append(changes, fmt.Sprintf("added %s (imported but not declared)", mod))
		}
	}
	return changes
}

// moduleRoot reduces an import specifier to its package name. Relative
// and builtin specifiers return "".
func moduleRoot(spec string) string {
	if spec == "" || strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, "node:") {
		return ""
	}
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

var sourceExts = map[string]bool{".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".html": true}

// forEachSourceFile visits project sources, skipping dependency and
// output directories. Files over 1 MB are ignored.
func forEachSourceFile(root string, fn func(path string, data []byte)) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case "node_modules", ".git", "dist", "build", "out":
				return fs.SkipDir
			}
			return nil
		}
		if !sourceExts[filepath.Ext(d.Name())] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > 1<<20 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		fn(path, data)
		return nil
	})
}

// EnsureStaticExport overwrites the framework config so the build emits
// a plain static site. Applies only to framework-static projects.
func (f *Fixer) EnsureStaticExport(p *Project) ([]string, error) {
	if p.Type != TypeNext {
		return nil, nil
	}
	path := p.ConfigPath
	if path == "" {
		path = filepath.Join(p.Root, "next.config.js")
	}
	content := nextStaticConfig(filepath.Ext(path))
	if existing, err := os.ReadFile(path); err == nil && string(existing) == content {
		return nil, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	change := "forced static export in " + filepath.Base(path)
	f.log.Info().Str("change", change).Msg("repaired project")
	return []string{change}, nil
}

func nextStaticConfig(ext string) string {
	exportLine := "module.exports = nextConfig;"
	if ext == ".mjs" || ext == ".ts" {
		exportLine = "export default nextConfig;"
	}
	return `/** @type {import('next').NextConfig} */
const nextConfig = {
  output: 'export',
  images: { unoptimized: true },
};

` + exportLine + "\n"
}

// EnsureRelativeHomepage points react-scripts builds at relative asset
// paths so the bundle loads from the filesystem.
func (f *Fixer) EnsureRelativeHomepage(p *Project) ([]string, error) {
	if p.Type != TypeCreateReactApp {
		return nil, nil
	}
	pkg, err := loadPackageJSON(filepath.Join(p.Root, "package.json"))
	if err != nil {
		return nil, err
	}
	if pkg.getString("homepage") == "./" {
		return nil, nil
	}
	pkg.setString("homepage", "./")
	if err := pkg.save(); err != nil {
		return nil, err
	}
	change := `set homepage to "./"`
	f.log.Info().Str("change", change).Msg("repaired project")
	return []string{change}, nil
}
