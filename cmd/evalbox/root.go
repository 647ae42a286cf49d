package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/evalbox/executor"
	"github.com/caffeineduck/evalbox/internal/config"
	"github.com/caffeineduck/evalbox/language/javascript"
	"github.com/caffeineduck/evalbox/language/python"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "evalbox [file]",
	Short: "WASM evaluation sandbox for Python and JavaScript",
	Long: `evalbox - Evaluate untrusted Python and JavaScript safely using WebAssembly.

Each evaluation runs in a fresh sandbox with a time and memory budget.
The value of the program's last expression is printed; anything the
program writes goes to the captured output. Guests have no access to the
filesystem, network, clock or host environment.`,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runRun, // Default to run command behavior
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("lang", "l", "", "Language: python, js (default: auto-detect)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./evalbox.yaml, ~/.config/evalbox/evalbox.yaml)")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable compilation cache")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	addRunFlags(rootCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if _, err := config.ParseLevel(level); err != nil {
			return err
		}
		c.LogLevel = level
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		c.DiskCache = false
	}
	cfg = c
	logger = c.Logger(cmd.ErrOrStderr())
	return nil
}

// getLanguage resolves the --lang flag, falling back to the file extension.
func getLanguage(langFlag string, filename string) (executor.Language, error) {
	lang := langFlag

	if lang == "" && filename != "" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".py":
			lang = "python"
		case ".js", ".mjs":
			lang = "js"
		}
	}

	if lang == "" {
		return nil, fmt.Errorf("language required: use --lang python or --lang js")
	}

	switch lang {
	case "js", "javascript":
		return javascript.New(javascript.WithModulePath(modulePath("javascript"))), nil
	case "python", "py":
		return python.New(python.WithModulePath(modulePath("python"))), nil
	default:
		return nil, fmt.Errorf("unknown language %q: use python or js", lang)
	}
}

// languages returns every language evalbox knows about.
func languages() []executor.Language {
	js, _ := getLanguage("javascript", "")
	py, _ := getLanguage("python", "")
	return []executor.Language{py, js}
}

func modulePath(name string) string {
	if cfg == nil {
		return ""
	}
	return cfg.ModulePath(name)
}

func newExecutor(precompile ...executor.Language) (*executor.Executor, error) {
	opts := cfg.ExecutorOptions(logger)
	if len(precompile) > 0 {
		opts = append(opts, executor.WithPrecompile(precompile...))
	}
	return executor.New(opts...)
}
