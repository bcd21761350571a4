package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibecoding/demo2apk/internal/api"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/queue"
	"github.com/vibecoding/demo2apk/internal/storage"
)

// shutdownTimeout bounds the drain of in-flight requests on exit.
const shutdownTimeout = 30 * time.Second

// newServeCmd creates the API server command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the REST API that admits build submissions, reports status,
and serves finished APKs. Builds are executed by worker processes
draining the shared queue; run at least one "demo2apk worker".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
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

			srv := api.New(cfg, q, store, log)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			log.Info().
				Str("addr", cfg.Addr()).
				Str("redis", logging.MaskURL(cfg.Server.RedisURL)).
				Str("builds", cfg.Build.BuildsDir).
				Msg("API listening")

			select {
			case err := <-errCh:
				return err
			case <-GetContext().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			log.Info().Msg("API stopped")
			return <-errCh
		},
	}
}
