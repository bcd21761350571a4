package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vibecoding/demo2apk/internal/pathutil"
	"github.com/vibecoding/demo2apk/internal/progress"
)

// newSubmitCmd creates the command that uploads a document to a remote
// service, waits for the build, and downloads the APK.
func newSubmitCmd() *cobra.Command {
	var (
		server string
		name   string
		appID  string
		icon   string
		token  string
		output string
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Build an APK from an HTML document or zipped project",
		Long: `Submit uploads an .html document or a .zip project archive to a
running service, follows the build, and saves the resulting APK.

Pass --no-wait to queue the build and exit immediately; the status URL
is printed so the build can be followed later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()
			ctx := GetContext()
			client := NewClient(server, token, log)

			sub, err := client.Submit(ctx, SubmitRequest{
				FilePath: args[0],
				AppName:  name,
				AppID:    appID,
				IconPath: icon,
			}, progress.New(log, true))
			if err != nil {
				return err
			}
			log.Infof("Build %s queued", sub.TaskID)
			if noWait {
				log.Infof("Follow it at %s%s", server, sub.StatusURL)
				return nil
			}

			st, err := client.Await(ctx, sub.TaskID, progress.New(log, false))
			if err != nil {
				return err
			}
			if st.Status != "completed" {
				return fmt.Errorf("build failed: %s", st.Error)
			}

			dest := output
			if dest == "" {
				dest = filepath.Dir(args[0])
			}
			dest, err = pathutil.Resolve(dest)
			if err != nil {
				return err
			}
			saved, err := client.Download(ctx, sub.TaskID, dest, progress.New(log, true))
			if err != nil {
				return err
			}
			log.Infof("Saved %s", saved)
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:3000", "Base URL of the build service")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Application name shown under the launcher icon")
	cmd.Flags().StringVar(&appID, "app-id", "", "Android application id (derived from the name when omitted)")
	cmd.Flags().StringVar(&icon, "icon", "", "Path to a PNG or JPEG launcher icon")
	cmd.Flags().StringVar(&token, "token", "", "API token for the authenticated rate limit tier")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory to save the APK into (defaults to the input file's directory)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Queue the build and exit without waiting")
	return cmd
}
