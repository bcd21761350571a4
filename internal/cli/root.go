// Package cli provides the command-line interface for demo2apk: the
// API server, the build worker, the one-shot retention sweep, and a
// submit client for driving a remote service.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vibecoding/demo2apk/internal/config"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/version"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	quiet   bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "demo2apk",
		Short: "demo2apk - build Android APKs from HTML pages and front-end projects",
		Long: `demo2apk ` + version.Version + ` - Built: ` + version.BuildTime + `
Service that turns uploaded HTML documents and zipped front-end
projects into installable debug APKs.

Server mode:
  serve    Run the HTTP API in front of the build queue.
  worker   Run build slots that drain the queue.
  sweep    Reclaim expired artifacts and upload workspaces once.

Client mode:
  submit   Upload a file to a running service and download the APK.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewConsoleLogger()
			if verbose {
				logging.SetGlobalLevel("debug")
			}
			if quiet {
				logging.SetGlobalLevel("error")
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print errors")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Loop so repeated Ctrl+C presses are absorbed while shutdown runs.
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, shutting down. In-flight work is finishing.\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newSubmitCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewConsoleLogger()
	}
	return logger
}

// GetContext returns the global context, cancelled when the user
// presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig reads the configuration honoring --config, and applies the
// configured log level unless a verbosity flag overrode it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if !verbose && !quiet {
		logging.SetGlobalLevel(cfg.Server.LogLevel)
	}
	return cfg, nil
}
