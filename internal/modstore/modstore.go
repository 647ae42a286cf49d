// Package modstore keeps guest interpreter modules on disk.
package modstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// Ext is the file extension of stored modules.
const Ext = ".wasm"

// ErrChecksum is returned when fetched bytes do not match the expected digest.
var ErrChecksum = errors.New("checksum mismatch")

// Store is a directory of <name>.wasm files.
type Store struct {
	Dir string
}

// DefaultDir is $XDG_DATA_HOME/evalbox/modules, falling back to
// ~/.local/share/evalbox/modules.
func DefaultDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "evalbox", "modules")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "evalbox", "modules")
	}
	return filepath.Join(os.TempDir(), "evalbox-modules")
}

// Default returns the store at DefaultDir.
func Default() *Store {
	return &Store{Dir: DefaultDir()}
}

// Path returns where the module called name lives.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, name+Ext)
}

// Entry describes a stored module.
type Entry struct {
	Name   string
	Path   string
	Size   int64
	SHA256 string
}

// List returns the stored modules sorted by name. A missing directory is an
// empty store.
func (s *Store) List() ([]Entry, error) {
	files, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), Ext) {
			continue
		}
		path := filepath.Join(s.Dir, f.Name())
		e, err := Describe(path)
		if err != nil {
			return nil, err
		}
		e.Name = strings.TrimSuffix(f.Name(), Ext)
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Describe stats and hashes the file at path.
func Describe(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Entry{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return Entry{
		Name:   strings.TrimSuffix(filepath.Base(path), Ext),
		Path:   path,
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// FetchOptions controls Fetch.
type FetchOptions struct {
	// SHA256 is the expected hex digest. Empty skips verification.
	SHA256 string
	// Progress receives a progress bar when set.
	Progress io.Writer
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Fetch downloads url into the module called name. The file is written
// atomically; on a checksum mismatch nothing is stored.
func (s *Store) Fetch(ctx context.Context, name, url string, opts FetchOptions) (Entry, error) {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("fetch %s: %w", name, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("fetch %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Entry{}, fmt.Errorf("fetch %s: HTTP %d", name, resp.StatusCode)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Entry{}, err
	}
	tmp, err := os.CreateTemp(s.Dir, name+".*.part")
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	var reader io.Reader = resp.Body
	if opts.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("Fetching "+name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		reader = io.TeeReader(resp.Body, bar)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Entry{}, fmt.Errorf("fetch %s: %w", name, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if opts.SHA256 != "" && !strings.EqualFold(opts.SHA256, sum) {
		return Entry{}, fmt.Errorf("fetch %s: %w: got %s, want %s", name, ErrChecksum, sum, opts.SHA256)
	}

	dest := s.Path(name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Path: dest, Size: n, SHA256: sum}, nil
}
