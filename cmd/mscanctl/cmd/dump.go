package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "print the controller registers and message objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _, err := fetch(cmd.Context(), "/debug/mscan")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			sc := bufio.NewScanner(strings.NewReader(body))
			for sc.Scan() {
				line := sc.Text()
				switch {
				case strings.HasPrefix(line, "MSCAN"), strings.HasPrefix(line, "MESSAGE"):
					fmt.Fprintln(out, cyan("%s", line))
				case strings.Contains(line, "enabled=false"):
					fmt.Fprintln(out, red("%s", line))
				default:
					fmt.Fprintln(out, line)
				}
			}
			return sc.Err()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "report gateway readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, code, err := fetch(cmd.Context(), "/ready")
			if err != nil && code == 0 {
				return err
			}
			out := cmd.OutOrStdout()
			if code != http.StatusOK {
				fmt.Fprintf(out, "%s %s\n", addr, red("NOT READY"))
				return fmt.Errorf("gateway not ready (HTTP %d)", code)
			}
			fmt.Fprintf(out, "%s %s\n", addr, green("READY"))
			return nil
		},
	}
}

// fetch GETs path from the metrics server. A non-200 answer is returned
// as an error together with its status code.
func fetch(ctx context.Context, path string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return string(b), resp.StatusCode, fmt.Errorf("fetch %s: %s", path, resp.Status)
	}
	return string(b), resp.StatusCode, nil
}
