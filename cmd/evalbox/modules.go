package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/evalbox/executor"
	"github.com/caffeineduck/evalbox/internal/modstore"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Manage the interpreter modules guests run on",
	Long: `Fetch, list and verify the WebAssembly interpreter modules.

Modules live in the module directory (module_dir in evalbox.yaml,
default ~/.local/share/evalbox/modules) as <language>.wasm. Download
locations and checksums come from the modules section of the config:

  modules:
    python:
      url: https://example.org/python.wasm
      sha256: 3f2a...`,
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed modules",
	RunE:  runModulesList,
}

var modulesFetchCmd = &cobra.Command{
	Use:   "fetch [languages...]",
	Short: "Download modules listed in the config",
	RunE:  runModulesFetch,
}

var modulesVerifyCmd = &cobra.Command{
	Use:   "verify [languages...]",
	Short: "Check module checksums and that they load",
	RunE:  runModulesVerify,
}

func init() {
	modulesFetchCmd.Flags().String("url", "", "Download from this URL instead of the config (single language only)")
	modulesFetchCmd.Flags().String("sha256", "", "Expected checksum when --url is used")

	modulesCmd.AddCommand(modulesListCmd)
	modulesCmd.AddCommand(modulesFetchCmd)
	modulesCmd.AddCommand(modulesVerifyCmd)
	rootCmd.AddCommand(modulesCmd)
}

func runModulesList(cmd *cobra.Command, args []string) error {
	store := cfg.Store()
	entries, err := store.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "No modules installed in %s\n", store.Dir)
		return nil
	}

	fmt.Fprintf(out, "Modules in %s:\n", store.Dir)
	for _, e := range entries {
		fmt.Fprintf(out, "  %-12s %10s  %s\n", e.Name, humanize.IBytes(uint64(e.Size)), e.SHA256[:12])
	}
	return nil
}

// targets resolves the languages a modules subcommand acts on.
func targets(args []string) []string {
	if len(args) > 0 {
		return args
	}
	var names []string
	for _, l := range languages() {
		names = append(names, l.Name())
	}
	return names
}

func runModulesFetch(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	sum, _ := cmd.Flags().GetString("sha256")
	if url != "" && len(args) != 1 {
		return fmt.Errorf("--url requires exactly one language")
	}

	store := cfg.Store()
	var errs []error
	for _, name := range targets(args) {
		src := cfg.Modules[name]
		if url != "" {
			src.URL, src.SHA256 = url, sum
		}
		if src.URL == "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: no url configured\n", name)
			continue
		}

		entry, err := store.Fetch(cmd.Context(), name, src.URL, modstore.FetchOptions{
			SHA256:   src.SHA256,
			Progress: cmd.ErrOrStderr(),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "fetched %s (%s) sha256:%s\n", entry.Name, humanize.IBytes(uint64(entry.Size)), entry.SHA256)
	}
	return errors.Join(errs...)
}

func runModulesVerify(cmd *cobra.Command, args []string) error {
	exec, err := newExecutor()
	if err != nil {
		return err
	}
	defer exec.Close()

	out := cmd.OutOrStdout()
	failed := 0
	for _, name := range targets(args) {
		if msg := verifyModule(cmd, exec, name); msg != "" {
			failed++
			fmt.Fprintf(out, "FAIL %s: %s\n", name, msg)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d module(s) failed verification", failed)
	}
	return nil
}

func verifyModule(cmd *cobra.Command, exec *executor.Executor, name string) string {
	lang, err := getLanguage(name, "")
	if err != nil {
		return err.Error()
	}
	path := cfg.ModulePath(lang.Name())

	entry, err := modstore.Describe(path)
	if errors.Is(err, os.ErrNotExist) {
		return "not installed (run: evalbox modules fetch " + lang.Name() + ")"
	}
	if err != nil {
		return err.Error()
	}
	if want := cfg.Modules[lang.Name()].SHA256; want != "" && !strings.EqualFold(want, entry.SHA256) {
		return fmt.Sprintf("checksum %s, want %s", entry.SHA256, want)
	}
	if _, err := exec.Load(cmd.Context(), lang); err != nil {
		return err.Error()
	}
	return ""
}
