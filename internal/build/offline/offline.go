// Package offline converts a CDN-dependent single-file app into a
// self-contained bundle. Known CDN script tags are swapped for pinned
// local copies under vendor/, in-browser Babel blocks are compiled ahead
// of time into app.js, and Tailwind CDN usage is replaced by a CSS file
// generated with the Tailwind CLI. The result runs with the network off.
package offline

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/runner"
	"github.com/vibecoding/demo2apk/internal/util/fetch"
)

// Offliner rewrites documents and assembles their vendor trees.
type Offliner struct {
	runner runner.Runner
	client *nethttp.Client
	log    *logging.Logger
}

// New returns an Offliner. The client is used for vendor downloads, the
// runner for the Tailwind CLI.
func New(r runner.Runner, client *nethttp.Client, log *logging.Logger) *Offliner {
	return &Offliner{runner: r, client: client, log: log}
}

// Result describes what Convert produced.
type Result struct {
	Dir      string
	AppJS    bool
	Tailwind bool
	Vendored []string
}

// Convert rewrites the document at htmlPath into outDir. The output
// directory ends up with index.html, app.js when a Babel block was
// compiled, and a vendor/ subtree with every asset the page needs. A
// failed vendor download fails the conversion.
func (o *Offliner) Convert(ctx context.Context, htmlPath, outDir string) (*Result, error) {
	src, err := os.ReadFile(htmlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", htmlPath, err)
	}

	rw, err := o.rewriteHTML(string(src))
	if err != nil {
		return nil, err
	}

	vendorDir := filepath.Join(outDir, "vendor")
	if err := os.MkdirAll(vendorDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", vendorDir, err)
	}

	res := &Result{Dir: outDir}

	if rw.babel != "" {
		js, err := compileJSX(rw.babel)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(outDir, "app.js"), []byte(js), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write app.js: %w", err)
		}
		res.AppJS = true
		o.log.Debug().Int("size", len(js)).Msg("compiled babel block to app.js")
	}

	if err := os.WriteFile(filepath.Join(outDir, "index.html"), []byte(rw.html), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write rewritten html: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range rw.assets {
		g.Go(func() error {
			size, err := fetch.Download(gctx, o.client, asset.url, filepath.Join(vendorDir, asset.file))
			if err != nil {
				return fmt.Errorf("failed to vendor %s: %w", asset.file, err)
			}
			o.log.Debug().Str("file", asset.file).Int64("size", size).Msg("vendored asset")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, asset := range rw.assets {
		res.Vendored = append(res.Vendored, asset.file)
	}

	if rw.tailwind {
		if err := o.buildTailwind(ctx, htmlPath, outDir, res.AppJS); err != nil {
			return nil, err
		}
		res.Tailwind = true
	}

	o.log.Info().
		Int("vendored", len(res.Vendored)).
		Bool("appJs", res.AppJS).
		Bool("tailwind", res.Tailwind).
		Msg("offline conversion complete")
	return res, nil
}

// buildTailwind runs the Tailwind CLI over the rewritten page, the
// compiled app.js, and the original source, emitting a minified sheet
// that stands in for the CDN script. The CLI builds just-in-time from
// the classes those files actually use.
func (o *Offliner) buildTailwind(ctx context.Context, htmlPath, outDir string, withAppJS bool) error {
	content := []string{filepath.Join(outDir, "index.html")}
	if withAppJS {
		content = append(content, filepath.Join(outDir, "app.js"))
	}
	content = append(content, htmlPath)

	outPath := filepath.Join(outDir, "vendor", "tailwind.min.css")
	_, err := o.runner.Run(ctx, runner.Command{
		Name: "npx",
		Args: []string{
			"--yes", "tailwindcss",
			"--content", strings.Join(content, ","),
			"--output", outPath,
			"--minify",
		},
		Timeout: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to build tailwind css: %w", err)
	}
	return nil
}

// compileJSX transforms a Babel browser block into plain JavaScript with
// the classic React runtime, targeting the oldest webviews the shell
// supports.
func compileJSX(code string) (string, error) {
	result := api.Transform(code, api.TransformOptions{
		Loader:      api.LoaderJSX,
		JSX:         api.JSXTransform,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Target:      api.ES2015,
	})
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		if msg.Location != nil {
			return "", fmt.Errorf("jsx compile error at line %d: %s", msg.Location.Line, msg.Text)
		}
		return "", fmt.Errorf("jsx compile error: %s", msg.Text)
	}
	return string(result.Code), nil
}
