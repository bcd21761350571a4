// Package storage owns the two directory roots the service writes to: the
// uploads root (one subdirectory per task holding the original upload and
// optional icon) and the builds root (workspaces and finished artifacts).
// Artifact names carry a "--<taskId>" suffix so concurrent builds with the
// same app name never overwrite each other.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/util/appid"
)

// Store resolves every path the API and worker touch on disk.
type Store struct {
	uploadsRoot string
	buildsRoot  string
	log         *logging.Logger
}

// New creates both roots if needed. Paths must be absolute (config
// resolves them at load time).
func New(uploadsRoot, buildsRoot string, log *logging.Logger) (*Store, error) {
	for _, dir := range []string{uploadsRoot, buildsRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Store{uploadsRoot: uploadsRoot, buildsRoot: buildsRoot, log: log}, nil
}

// UploadsRoot returns the uploads root directory.
func (s *Store) UploadsRoot() string { return s.uploadsRoot }

// BuildsRoot returns the builds root directory.
func (s *Store) BuildsRoot() string { return s.buildsRoot }

// UploadDir returns the per-task upload directory.
func (s *Store) UploadDir(taskID string) string {
	return filepath.Join(s.uploadsRoot, taskID)
}

// SaveUpload streams the uploaded file into the task's upload directory
// and returns its absolute path and size. The stored name is the basename
// of the client-supplied name.
func (s *Store) SaveUpload(taskID, fileName string, r io.Reader) (string, int64, error) {
	return s.saveTo(taskID, safeBase(fileName), r)
}

// SaveIcon stores an optional icon next to the upload under an
// "icon-" prefix.
func (s *Store) SaveIcon(taskID, fileName string, r io.Reader) (string, int64, error) {
	return s.saveTo(taskID, "icon-"+safeBase(fileName), r)
}

func (s *Store) saveTo(taskID, name string, r io.Reader) (string, int64, error) {
	dir := s.UploadDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to store %s: %w", name, err)
	}
	return path, n, nil
}

// RemoveUpload deletes a task's upload directory.
func (s *Store) RemoveUpload(taskID string) error {
	return os.RemoveAll(s.UploadDir(taskID))
}

// ArtifactPath returns the canonical artifact location for a task:
// <builds>/<safeAppName>--<taskId>.apk.
func (s *Store) ArtifactPath(appName, taskID string) string {
	return filepath.Join(s.buildsRoot, ArtifactName(appName, taskID))
}

// ArtifactName builds the taskId-suffixed artifact file name.
func ArtifactName(appName, taskID string) string {
	return appid.DirName(appName) + "--" + taskID + ".apk"
}

// DisplayName strips the internal "--<taskId>" suffix from an artifact
// file name, giving the name shown to the user on download.
func DisplayName(fileName, taskID string) string {
	return strings.Replace(fileName, "--"+taskID, "", 1)
}

// WorkspacePath returns the build workspace directory for an app name.
func (s *Store) WorkspacePath(name string) string {
	return filepath.Join(s.buildsRoot, name)
}

// CleanWorkspace removes any previous workspace with the same name and
// recreates it empty.
func (s *Store) CleanWorkspace(name string) (string, error) {
	dir := s.WorkspacePath(name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to remove stale workspace %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// FileSize returns the size of a file, or false when it does not exist.
func FileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

// CopyFile copies src to dst (truncating dst) and returns the byte count.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	return n, nil
}

// Sweep removes every entry directly under root whose mtime is older than
// the retention window. Files are removed, directories recursively.
// Failures on individual entries are logged and skipped; the sweep keeps
// going. Returns the number of entries removed.
func (s *Store) Sweep(root string, retention time.Duration) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", root).Msg("Sweep could not read directory")
		return 0
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			s.log.Warn().Err(err).Str("entry", entry.Name()).Msg("Sweep skipped entry")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("entry", entry.Name()).Msg("Sweep failed to remove entry")
			continue
		}
		removed++
		s.log.Debug().Str("entry", entry.Name()).Msg("Sweep removed expired entry")
	}
	return removed
}

// safeBase reduces a client-supplied file name to a safe basename.
func safeBase(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return "upload"
	}
	return base
}
