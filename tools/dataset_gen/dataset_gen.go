package main

// dataset_gen.go seeds a learndb workspace with a deterministic dataset, for
// standalone benchmarking outside `go test` or for reproducing a particular
// key-distribution shape when hunting performance regressions. It reuses
// the same key-distribution generators a flat-file key dumper would use,
// but drives real store.Put calls against a workspace instead of writing a
// plain list of numbers, since learndb's core is reached through a store.
//
// Usage:
//
//	go run ./tools/dataset_gen -workspace ./seeded -n 1000000 -dist=zipf -seed=42
//
// Flags:
//
//	-workspace  target workspace directory, created if absent
//	-n          number of keys to write (default 1e6)
//	-dist       distribution: "uniform" or "zipf" (default uniform)
//	-zipfs      Zipf s parameter (>1)  (default 1.2)
//	-zipfv      Zipf v parameter (>=1) (default 1.0)
//	-seed       PRNG seed (default current time)
//	-value-size bytes per generated value (default 64)
//
// © 2025 learndb authors. MIT License.

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/learndb/learndb/store"
)

func main() {
	var (
		workspace = flag.String("workspace", "./learndb-dataset", "target workspace directory")
		n         = flag.Int("n", 1_000_000, "number of keys to generate")
		dist      = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS     = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV     = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		seedVal   = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		valueSize = flag.Int("value-size", 64, "bytes per generated value")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	if err := os.MkdirAll(*workspace, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "cannot create workspace:", err)
		os.Exit(1)
	}

	s, err := store.Open(store.Config{
		Workspace:   *workspace,
		MaxFileSize: 64 << 20,
		MaxFileNum:  50,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "store open:", err)
		os.Exit(1)
	}

	value := make([]byte, *valueSize)
	ctx := context.Background()
	for i := 0; i < *n; i++ {
		rnd.Read(value)
		key := fmt.Sprintf("%d", gen())
		if err := s.Put(ctx, key, string(value)); err != nil {
			fmt.Fprintln(os.Stderr, "put:", err)
			os.Exit(1)
		}
		if i%100000 == 0 && i > 0 {
			fmt.Fprintf(os.Stderr, "seeded %d/%d keys\n", i, *n)
		}
	}

	if err := s.PutAcknowledged(ctx, "__dataset_gen_barrier__", "done"); err != nil {
		fmt.Fprintln(os.Stderr, "final barrier:", err)
		os.Exit(1)
	}
	if err := s.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close:", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d keys into %s\n", *n, *workspace)
}
