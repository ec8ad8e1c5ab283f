// Package cmd holds the mscanctl subcommands.
package cmd

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	cyan   = color.New(color.FgCyan).SprintfFunc()
)

var (
	addr    string
	timeout time.Duration
)

// newRootCmd builds the command tree. Tests build a fresh tree per case.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mscanctl",
		Short:        "MSCAN gateway operator tool",
		Long:         `Bus timing calculator and inspection client for mscan-server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&addr, "addr", "a", "127.0.0.1:9100", "mscan-server metrics address (host:port)")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "HTTP request timeout")
	root.AddCommand(newTimingCmd(), newDumpCmd(), newStatusCmd(), newErrorsCmd())
	return root
}

// Execute runs the command line against ctx.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
