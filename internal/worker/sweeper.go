package worker

import (
	"context"
	"time"

	"github.com/vibecoding/demo2apk/internal/diskspace"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/storage"
)

// sweepInterval is how often expired files are reclaimed.
const sweepInterval = 30 * time.Minute

// runSweeper reclaims expired files at startup and then on a fixed
// interval until ctx is cancelled.
func (w *Worker) runSweeper(ctx context.Context) {
	Sweep(w.store, w.cfg.Worker.FileRetention, w.log)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Sweep(w.store, w.cfg.Worker.FileRetention, w.log)
		}
	}
}

// Sweep removes artifacts and upload workspaces older than the
// retention window from both roots. Shared with the one-shot sweep
// command. Returns how many entries were removed.
func Sweep(store *storage.Store, retention time.Duration, log *logging.Logger) int {
	removed := store.Sweep(store.BuildsRoot(), retention)
	removed += store.Sweep(store.UploadsRoot(), retention)
	if removed > 0 {
		log.Info().
			Int("removed", removed).
			Int64("freeMB", diskspace.Free(store.BuildsRoot())/(1<<20)).
			Msg("Reclaimed expired files")
	} else {
		log.Debug().Msg("Sweep found nothing to reclaim")
	}
	return removed
}
