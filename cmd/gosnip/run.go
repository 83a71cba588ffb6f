package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caffeineduck/gosnip/executor"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Compile and run a snippet",
	Long: `Compile a Go snippet to WebAssembly and run it once.

Code can be provided via:
  - File argument: gosnip run snippet.go
  - Inline flag: gosnip run -c 'println(1+1)'
  - Stdin: echo 'println(1+1)' | gosnip run

The report is printed to stdout. The exit status is 1 unless the snippet
compiled and ran successfully.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	addExecutionFlags(cmd)
}

func addExecutionFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 5*time.Second, "Execution timeout, compile included")
	cmd.Flags().Int("memory", 50, "Memory ceiling as a percent (1-90) of the maximum heap")
	cmd.Flags().String("heap", "", "Artifact memory cap: 16mb, 64mb, 256mb, 1gb")
}

// executionLimits returns the timeout and memory percent, preferring flags
// the user actually set over the config file.
func executionLimits(cmd *cobra.Command) (int64, int) {
	timeout := cfg.Timeout()
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	percent := cfg.Execution.MemoryPercent
	if cmd.Flags().Changed("memory") {
		percent, _ = cmd.Flags().GetInt("memory")
	}
	return timeout.Milliseconds(), percent
}

func readSource(cmd *cobra.Command, args []string) (string, error) {
	code, _ := cmd.Flags().GetString("code")

	switch {
	case code != "":
		return code, nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		in := cmd.InOrStdin()
		// Check if stdin has data (not a terminal)
		if f, ok := in.(*os.File); ok {
			stat, err := f.Stat()
			if err == nil && (stat.Mode()&os.ModeCharDevice) != 0 {
				return "", nil
			}
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	source, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(source) == "" {
		return cmd.Help()
	}

	timeoutMs, percent := executionLimits(cmd)
	heap, _ := cmd.Flags().GetString("heap")

	gov, cleanup, err := buildGovernor(parseMemoryLimit(heap))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := gov.Run(ctx, source, timeoutMs, percent)
	printReport(cmd.OutOrStdout(), out.Report())

	if out.Kind != executor.KindSuccess {
		return errFailed
	}
	return nil
}

func printReport(w io.Writer, report string) {
	fmt.Fprint(w, report)
	if !strings.HasSuffix(report, "\n") {
		fmt.Fprintln(w)
	}
}
