// Command download fetches a guest interpreter module into a module
// directory. It is used by build scripts that cannot rely on an installed
// evalbox binary.
//
//	go run ./internal/tools/download <name> <url> [sha256] [dir]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/caffeineduck/evalbox/internal/modstore"
)

func main() {
	if len(os.Args) < 3 || len(os.Args) > 5 {
		fmt.Fprintln(os.Stderr, "usage: download <name> <url> [sha256] [dir]")
		os.Exit(1)
	}

	name, url := os.Args[1], os.Args[2]
	var opts modstore.FetchOptions
	if len(os.Args) > 3 {
		opts.SHA256 = os.Args[3]
	}
	store := modstore.Default()
	if len(os.Args) > 4 {
		store = &modstore.Store{Dir: os.Args[4]}
	}

	// Already present and matching: nothing to do.
	if e, err := modstore.Describe(store.Path(name)); err == nil && (opts.SHA256 == "" || opts.SHA256 == e.SHA256) {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts.Progress = os.Stderr
	entry, err := store.Fetch(ctx, name, url, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s %s\n", entry.SHA256, entry.Path)
}
