package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/evalbox/executor"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Evaluate a program and print its value",
	Long: `Evaluate Python or JavaScript code in a fresh sandbox.

Code can be provided via:
  - File argument: evalbox run script.py
  - Inline flag: evalbox run -l python -c '1 + 1'
  - Stdin: echo '1 + 1' | evalbox run -l python

Exit status is 0 when a value was produced, 1 for a guest error,
2 when a budget was exceeded, 3 when the language module could not be
loaded and 4 for a host fault.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	addLimitFlags(cmd)
	cmd.Flags().StringP("format", "f", "text", "Output format: text, json, yaml")
}

func addLimitFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("time-budget", 0, "Time budget per evaluation (default from config, 30s)")
	cmd.Flags().String("memory", "", "Memory budget, e.g. 64MiB (default from config, 256MiB)")
	cmd.Flags().String("output-limit", "", "Captured output cap, e.g. 1MiB")
}

// runOptions turns the limit flags into per-run options.
func runOptions(cmd *cobra.Command) ([]executor.Option, error) {
	var opts []executor.Option

	if d, _ := cmd.Flags().GetDuration("time-budget"); d > 0 {
		opts = append(opts, executor.WithTimeBudget(d))
	}
	if s, _ := cmd.Flags().GetString("memory"); s != "" {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --memory %q: %w", s, err)
		}
		opts = append(opts, executor.WithMemoryBudget(n))
	}
	if s, _ := cmd.Flags().GetString("output-limit"); s != "" {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --output-limit %q: %w", s, err)
		}
		opts = append(opts, executor.WithOutputLimit(int(n)))
	}
	return opts, nil
}

func readSource(cmd *cobra.Command, args []string) (source, filename string, err error) {
	code, _ := cmd.Flags().GetString("code")

	switch {
	case code != "":
		return code, "", nil
	case len(args) > 0 && args[0] != "-":
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("reading file: %w", err)
		}
		return string(data), args[0], nil
	default:
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok && len(args) == 0 {
			if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
				return "", "", fmt.Errorf("no code provided: use -c, a file argument, or pipe to stdin")
			}
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), "", nil
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	source, filename, err := readSource(cmd, args)
	if err != nil {
		return err
	}

	langFlag, _ := cmd.Flags().GetString("lang")
	language, err := getLanguage(langFlag, filename)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}
	opts, err := runOptions(cmd)
	if err != nil {
		return err
	}

	exec, err := newExecutor()
	if err != nil {
		return err
	}
	defer exec.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res := exec.Run(ctx, language, source, opts...)
	if err := writeResult(cmd.OutOrStdout(), format, language.Name(), res); err != nil {
		return err
	}
	if res.Truncated && (format == "" || format == "text") {
		fmt.Fprintln(cmd.ErrOrStderr(), "[output truncated]")
	}
	if res.Error != nil {
		return &runError{outcome: res.Outcome(), err: res.Error}
	}
	return nil
}
