package main

// cmd/learndbd is the trivial HTTP/JSON wrapper over store.Store:
//   GET  /get?key=<k>             — fetch a value
//   POST /put?key=<k>&value=<v>   — insert (ack=true waits for fsync)
//   GET  /debug/learndb/snapshot  — JSON diagnostics for learndb-inspect
//   GET  /metrics                 — Prometheus metrics
//
// Flag parsing uses spf13/pflag rather than the standard flag package,
// matching the pack's command-line tooling convention; structured logging
// uses zap's production config (json, info level, stderr), passed to the
// store via store.WithLogger in place of its default no-op logger.
//
// © 2025 learndb authors. MIT License.

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/learndb/learndb/store"
)

func main() {
	var (
		workspace   = flag.String("workspace", "./learndb-data", "directory log files and side-cars live under")
		addr        = flag.String("addr", ":6380", "HTTP listen address")
		maxFileSize = flag.Uint32("max-file-size", 1<<20, "log rotation threshold in bytes")
		maxFileNum  = flag.Int("max-file-num", 10, "sealed-plus-active file count before reclamation")
		fillFactor  = flag.Uint64("rehash-fill-factor", 0, "index fill ratio that triggers a rehash (0: default)")
		growthFactor = flag.Uint64("rehash-growth-factor", 0, "successor shard count per live key on rehash (0: default)")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(*workspace, 0o755); err != nil {
		logger.Fatal("create workspace", zap.Error(err))
	}

	reg := prometheus.NewRegistry()

	s, err := store.Open(store.Config{
		Workspace:   *workspace,
		MaxFileSize: *maxFileSize,
		MaxFileNum:  *maxFileNum,
	},
		store.WithLogger(logger),
		store.WithMetrics(reg),
		store.WithRehashTuning(*fillFactor, *growthFactor),
	)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer s.Close()

	mux := http.NewServeMux()

	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		val, ok := s.Find(key)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(val))
	})

	mux.HandleFunc("/put", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := r.URL.Query().Get("key")
		val := r.URL.Query().Get("value")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var submitErr error
		if r.URL.Query().Get("ack") == "true" {
			submitErr = s.PutAcknowledged(ctx, key, val)
		} else {
			submitErr = s.Put(ctx, key, val)
		}
		if submitErr != nil {
			http.Error(w, submitErr.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/debug/learndb/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snap := map[string]any{
			"workspace": *workspace,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: *addr, Handler: mux}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("learndbd: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logger.Info("learndbd: listening", zap.String("addr", *addr), zap.String("workspace", *workspace))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("serve", zap.Error(err))
	}
}
