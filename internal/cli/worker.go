package cli

import (
	"github.com/spf13/cobra"

	"github.com/vibecoding/demo2apk/internal/build/pipeline"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/queue"
	"github.com/vibecoding/demo2apk/internal/runner"
	"github.com/vibecoding/demo2apk/internal/storage"
	"github.com/vibecoding/demo2apk/internal/util/fetch"
	"github.com/vibecoding/demo2apk/internal/worker"
)

// newWorkerCmd creates the build worker command.
func newWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run build slots that drain the queue",
		Long: `Start a worker that leases queued builds and runs the toolchain:
shell packaging for HTML documents, project repair and wrapping for
zipped front-ends. Expired files are reclaimed on a schedule while the
worker runs. On shutdown, in-flight builds finish before the process
exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if concurrency > 0 {
				cfg.Worker.Concurrency = concurrency
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			log := logging.NewServerLogger()

			store, err := storage.New(cfg.Build.UploadsDir, cfg.Build.BuildsDir, log)
			if err != nil {
				return err
			}
			q, err := queue.New(cfg.Server.RedisURL, log)
			if err != nil {
				return err
			}
			defer q.Close()

			builder := pipeline.New(cfg, store, runner.NewExecRunner(log), fetch.NewClient(log), log)
			w := worker.New(cfg, q, store, builder, log)
			return w.Run(GetContext())
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Override the configured number of build slots (1-32)")
	return cmd
}
