// Package cmd defines and implements the CLI commands for the
// douyin-trends executable.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// Process exit codes.
const (
	exitOK          = 0
	exitCrawlFailed = 1
	exitFatal       = 2
)

// Sentinel errors used to map command failures to exit codes.
var (
	errCrawlFailed = errors.New("crawl failed")
	errInterrupted = errors.New("crawl interrupted")
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "douyin-trends",
		Short: "A crawler for the Douyin trending-topics hot list.",
		Long: `douyin-trends fetches the Douyin hot list through a headless browsing
session, enriches every entry with its associated video metadata, and
renders the snapshot as JSON, CSV, plain text, or Markdown.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches . and $HOME/.douyin-trends)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI and returns the process exit code: 0 on success, 1
// when the crawl itself failed or was interrupted, 2 on fatal errors.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		switch {
		case errors.Is(err, errInterrupted):
			fmt.Fprintln(os.Stderr, "interrupted by user")
			return exitCrawlFailed
		case errors.Is(err, errCrawlFailed):
			fmt.Fprintln(os.Stderr, "error:", err)
			return exitCrawlFailed
		default:
			fmt.Fprintln(os.Stderr, "fatal:", err)
			return exitFatal
		}
	}
	return exitOK
}
