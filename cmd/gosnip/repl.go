package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/gosnip/executor"
	"github.com/caffeineduck/gosnip/language/golang"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive snippet prompt",
	Long: `Start an interactive prompt that compiles and runs each entry.

Each entry is an independent snippet: nothing carries over between entries.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - :wrapped prints the program generated for the previous entry

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	RunE: runRepl,
}

func init() {
	addExecutionFlags(replCmd)
	replCmd.Flags().String("history", "", "History file path (default: ~/.gosnip_history)")
	rootCmd.AddCommand(replCmd)
}

// lineReader is the part of readline the prompt loop needs.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".gosnip_history")
	}

	timeoutMs, percent := executionLimits(cmd)
	heap, _ := cmd.Flags().GetString("heap")

	gov, cleanup, err := buildGovernor(parseMemoryLimit(heap))
	if err != nil {
		return err
	}
	defer cleanup()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "gosnip REPL (type 'exit' to quit, Ctrl+D to exit)\n")

	replLoop(rl, gov, cmd.OutOrStdout(), cmd.ErrOrStderr(), timeoutMs, percent)
	return nil
}

func replLoop(rl lineReader, gov *executor.Governor, out, errOut io.Writer, timeoutMs int64, percent int) {
	var multiLine strings.Builder
	inMultiLine := false
	last := ""

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(out)
				return
			}
			fmt.Fprintf(errOut, "Error reading input: %v\n", err)
			return
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return
		case ":wrapped":
			if last == "" {
				fmt.Fprintln(errOut, "nothing entered yet")
				continue
			}
			printReport(out, golang.Wrap(last))
			continue
		}

		last = line
		result := gov.Run(context.Background(), line, timeoutMs, percent)
		printReport(out, result.Report())
	}
}
