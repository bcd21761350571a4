package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vibecoding/demo2apk/internal/models"
	"github.com/vibecoding/demo2apk/internal/storage"
)

const mockStepDelay = 200 * time.Millisecond

// runMock walks the progress schedule without touching any external
// tool, then publishes either the configured sample apk or a plain-text
// placeholder. Demo deployments use this on hosts with no Android
// toolchain; the placeholder is not installable and is logged as such.
func (b *Builder) runMock(ctx context.Context, task *models.Task, progress ProgressFunc) (*Outcome, error) {
	steps := []struct {
		message string
		percent int
	}{
		{"Checking build environment", 5},
		{"Preparing the project", 25},
		{"Installing dependencies", 40},
		{"Building the Android app", 70},
		{"Publishing the APK", 95},
	}
	for _, s := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(mockStepDelay):
		}
		progress(s.message, s.percent)
	}

	dest := b.store.ArtifactPath(task.AppName, task.ID)
	if b.cfg.Build.MockAPK != "" {
		n, err := storage.CopyFile(b.cfg.Build.MockAPK, dest)
		if err == nil {
			progress("Build complete", 100)
			return &Outcome{APKPath: dest, APKSize: n}, nil
		}
		b.log.Warn().Err(err).Str("mockApk", b.cfg.Build.MockAPK).Msg("sample artifact unavailable, writing placeholder")
	}

	placeholder := fmt.Sprintf("demo2apk mock artifact for task %s\n", task.ID)
	if err := os.WriteFile(dest, []byte(placeholder), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write placeholder artifact: %w", err)
	}
	b.log.Warn().Str("task", task.ID).Msg("mock build produced a plain-text placeholder, not an installable apk")

	progress("Build complete", 100)
	return &Outcome{APKPath: dest, APKSize: int64(len(placeholder))}, nil
}
