package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/evalbox/executor"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive prompt, one sandbox per entry",
	Long: `Start an interactive prompt.

Every entry is evaluated in a fresh sandbox: nothing defined in one entry
is visible to the next. The value of each entry is printed after its
output.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	RunE: runRepl,
}

func init() {
	addLimitFlags(replCmd)
	replCmd.Flags().String("history", "", "History file path (default: ~/.evalbox_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	langFlag, _ := cmd.Flags().GetString("lang")
	historyFile, _ := cmd.Flags().GetString("history")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".evalbox_history")
	}

	language, err := getLanguage(langFlag, "")
	if err != nil {
		return err
	}
	opts, err := runOptions(cmd)
	if err != nil {
		return err
	}

	exec, err := newExecutor(language)
	if err != nil {
		return err
	}
	defer exec.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "evalbox %s (type 'exit' to quit, Ctrl+D to exit)\n", language.Name())

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				multiLine.Reset()
				inMultiLine = false
				rl.SetPrompt(">>> ")
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

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

		if strings.TrimSpace(line) == "" {
			continue
		}
		if t := strings.TrimSpace(line); t == "exit" || t == "quit" {
			return nil
		}

		res := exec.Run(cmd.Context(), language, line, opts...)
		printEntry(cmd, res)
	}
}

func printEntry(cmd *cobra.Command, res executor.Result) {
	out := cmd.OutOrStdout()
	if res.Output != "" {
		fmt.Fprint(out, res.Output)
		if !strings.HasSuffix(res.Output, "\n") {
			fmt.Fprintln(out)
		}
	}
	if res.Error != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", res.Error)
		return
	}
	if !res.Value.IsNull() {
		fmt.Fprintln(out, res.Value)
	}
}
