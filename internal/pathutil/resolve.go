// Package pathutil resolves user-supplied paths to stable absolute
// forms. Configured directories and CLI arguments go through Resolve so
// the service, the worker, and the client all land on the same real
// location regardless of symlinks or how the path was spelled.
package pathutil

import (
	"os"
	"path/filepath"
)

// Resolve expands a leading ~, makes path absolute, and resolves
// symlinks. Paths that do not fully exist yet are resolved at their
// deepest existing ancestor with the missing components appended, so a
// configured builds directory can be created after resolution.
func Resolve(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = home + path[1:]
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	// Walk up to the deepest existing ancestor, resolve that, and put
	// the missing components back.
	current := abs
	var missing []string
	for {
		if _, err := os.Stat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				resolved = current
			}
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}
