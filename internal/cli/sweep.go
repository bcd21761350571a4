package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vibecoding/demo2apk/internal/storage"
	stringutil "github.com/vibecoding/demo2apk/internal/util/strings"
	"github.com/vibecoding/demo2apk/internal/worker"
)

// newSweepCmd creates the one-shot retention sweep command.
func newSweepCmd() *cobra.Command {
	var retentionHours float64
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim expired artifacts and upload workspaces once",
		Long: `Remove artifacts and upload workspaces older than the retention
window, then exit. Workers run the same sweep on a schedule; this
command covers deployments without a resident worker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := GetLogger()

			retention := cfg.Worker.FileRetention
			if retentionHours > 0 {
				retention = time.Duration(retentionHours * float64(time.Hour))
			}
			store, err := storage.New(cfg.Build.UploadsDir, cfg.Build.BuildsDir, log)
			if err != nil {
				return err
			}
			removed := worker.Sweep(store, retention, log)
			log.Infof("Removed %s past retention", stringutil.Count(removed, "file"))
			return nil
		},
	}
	cmd.Flags().Float64Var(&retentionHours, "retention-hours", 0, "Override the retention window in hours")
	return cmd
}
