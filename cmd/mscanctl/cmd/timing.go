package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-mscan/internal/bustiming"
)

func newTimingCmd() *cobra.Command {
	var (
		clock   uint32
		bitrate uint32
		code    int
		minBRP  uint32
		spl     bool
	)
	c := &cobra.Command{
		Use:   "timing",
		Short: "compute bus timing registers",
		Long: `Compute BRP, SJW, TSEG1 and TSEG2 and the BTR0/BTR1 register values
for a bitrate, or for one of the standard bitrate codes (0=1M .. 8=10k).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				t   bustiming.Timing
				err error
			)
			if cmd.Flags().Changed("code") {
				if code < 0 || code > 255 {
					return fmt.Errorf("%w: code %d", bustiming.ErrBadSpeed, code)
				}
				cd := bustiming.Code(code)
				t, err = bustiming.ForCode(cd, clock, minBRP, spl)
				if err != nil {
					return err
				}
				bitrate, _ = cd.Bitrate()
			} else {
				t, err = bustiming.Compute(bitrate, clock, minBRP, spl)
				if err != nil {
					return err
				}
			}
			printTiming(cmd, t, clock, bitrate)
			return nil
		},
	}
	c.Flags().Uint32Var(&clock, "clock", bustiming.Clock32MHz, "CAN input clock in Hz")
	c.Flags().Uint32VarP(&bitrate, "bitrate", "r", 500000, "bitrate in bit/s")
	c.Flags().IntVarP(&code, "code", "c", -1, "standard bitrate code, overrides --bitrate")
	c.Flags().Uint32Var(&minBRP, "min-brp", bustiming.DefaultMinBRP, "smallest prescaler considered by the search")
	c.Flags().BoolVar(&spl, "spl", false, "three samples per bit")
	return c
}

func printTiming(cmd *cobra.Command, t bustiming.Timing, clock, bitrate uint32) {
	out := cmd.OutOrStdout()
	btr0, btr1 := t.Registers()
	actual := t.Bitrate(clock)
	rate := green("%d", actual)
	if actual != bitrate {
		rate = yellow("%d (requested %d)", actual, bitrate)
	}
	sp := t.SamplePoint()
	fmt.Fprintf(out, "clock:        %d Hz\n", clock)
	fmt.Fprintf(out, "bitrate:      %s bit/s\n", rate)
	fmt.Fprintf(out, "BRP=%d SJW=%d TSEG1=%d TSEG2=%d SPL=%t\n", t.BRP, t.SJW, t.TSeg1, t.TSeg2, t.SPL)
	fmt.Fprintf(out, "sample point: %d.%d%%\n", sp/10, sp%10)
	fmt.Fprintf(out, "BTR0=%s BTR1=%s\n", cyan("0x%02x", btr0), cyan("0x%02x", btr1))
}
