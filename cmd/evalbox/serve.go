package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/evalbox/executor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for code evaluation",
	Long: `Start an HTTP server that evaluates code on request.

Endpoints:
  POST /run         Evaluate {"language","code","time_budget","memory_budget","output_limit"}
  GET  /languages   Languages and whether their modules load
  GET  /health      Health check

Every request runs in a fresh sandbox. Guest errors and exceeded budgets
are reported with status 200 and an "outcome" field; a module that cannot
be loaded answers 503 and a host fault 500.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:8080)")
	serveCmd.Flags().Int("max-concurrent", 0, "Maximum concurrent evaluations (default from config, 16)")
	rootCmd.AddCommand(serveCmd)
}

type runRequest struct {
	Language     string `json:"language"`
	Code         string `json:"code"`
	TimeBudget   string `json:"time_budget,omitempty"`
	MemoryBudget string `json:"memory_budget,omitempty"`
	OutputLimit  string `json:"output_limit,omitempty"`
}

type languageInfo struct {
	Name  string `json:"name"`
	ABI   string `json:"abi"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// server exposes an Executor over HTTP.
type server struct {
	exec          *executor.Executor
	langs         map[string]executor.Language
	aliases       map[string]string
	logger        *slog.Logger
	maxConcurrent int
	maxBody       int64
}

func newServer(exec *executor.Executor, langs []executor.Language, logger *slog.Logger) *server {
	s := &server{
		exec:          exec,
		langs:         make(map[string]executor.Language, len(langs)),
		aliases:       map[string]string{"js": "javascript", "py": "python"},
		logger:        logger,
		maxConcurrent: 16,
		maxBody:       1 << 20,
	}
	for _, l := range langs {
		s.langs[l.Name()] = l
	}
	return s
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)
		r.Get("/languages", s.handleLanguages)
		r.With(middleware.Throttle(s.maxConcurrent)).Post("/run", s.handleRun)
	})

	return r
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *server) lookup(name string) (executor.Language, bool) {
	if alias, ok := s.aliases[name]; ok {
		name = alias
	}
	l, ok := s.langs[name]
	return l, ok
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	lang, ok := s.lookup(req.Language)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown language %q", req.Language))
		return
	}

	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.exec.Run(r.Context(), lang, req.Code, opts...)
	s.logger.Info("run",
		"request_id", middleware.GetReqID(r.Context()),
		"run_id", res.ID,
		"language", lang.Name(),
		"outcome", res.Outcome(),
		"duration", res.Duration,
	)

	status := http.StatusOK
	switch res.Outcome() {
	case executor.OutcomeLoadError:
		status = http.StatusServiceUnavailable
	case executor.OutcomeHostFault:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, newRunResponse(lang.Name(), res))
}

func (req runRequest) options() ([]executor.Option, error) {
	var opts []executor.Option
	if req.TimeBudget != "" {
		d, err := time.ParseDuration(req.TimeBudget)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid time_budget %q", req.TimeBudget)
		}
		opts = append(opts, executor.WithTimeBudget(d))
	}
	if req.MemoryBudget != "" {
		n, err := humanize.ParseBytes(req.MemoryBudget)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid memory_budget %q", req.MemoryBudget)
		}
		opts = append(opts, executor.WithMemoryBudget(n))
	}
	if req.OutputLimit != "" {
		n, err := humanize.ParseBytes(req.OutputLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid output_limit %q", req.OutputLimit)
		}
		opts = append(opts, executor.WithOutputLimit(int(n)))
	}
	return opts, nil
}

func (s *server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	infos := make([]languageInfo, 0, len(s.langs))
	for _, l := range s.langs {
		info := languageInfo{Name: l.Name(), ABI: l.ABI().String(), Ready: true}
		if _, err := s.exec.Load(r.Context(), l); err != nil {
			info.Ready = false
			info.Error = err.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
	if maxConcurrent <= 0 {
		maxConcurrent = cfg.Server.MaxConcurrent
	}

	// Modules that fail to load are reported by /languages, not fatal here.
	exec, err := newExecutor()
	if err != nil {
		return err
	}
	defer exec.Close()

	srv := newServer(exec, languages(), logger)
	srv.maxConcurrent = maxConcurrent
	if cfg.Server.MaxBodyBytes > 0 {
		srv.maxBody = cfg.Server.MaxBodyBytes
	}
	for _, l := range languages() {
		if _, err := exec.Load(cmd.Context(), l); err != nil {
			logger.Warn("language unavailable", "language", l.Name(), "error", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.ErrOrStderr(), "evalbox server listening on %s\n", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
