package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-mscan/internal/mscan"
)

func newErrorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors",
		Short: "list error object entry codes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, c := range mscan.ErrorCodes {
				fmt.Fprintf(out, "%d  %s %s\n", uint8(c), codeColor(c)("%-13s", c.Name()), c)
			}
		},
	}
}

// codeColor picks the colour of an entry code by severity.
func codeColor(c mscan.ErrorCode) func(string, ...interface{}) string {
	switch c {
	case mscan.BusOffSet, mscan.WarnSet:
		return red
	case mscan.BusOffClr, mscan.WarnClr:
		return green
	}
	return yellow
}
