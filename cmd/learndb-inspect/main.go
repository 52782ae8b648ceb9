package main

// cmd/learndb-inspect is the diagnostics CLI for a running learndbd: it
// polls /debug/learndb/snapshot and prints it as pretty text or JSON, with
// an optional watch mode and a value lookup convenience flag.
//
// © 2025 learndb authors. MIT License.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
)

var version = "dev"

func main() {
	var (
		target   = flag.String("target", "http://localhost:6380", "learndbd base URL")
		jsonOut  = flag.Bool("json", false, "emit raw JSON instead of a pretty summary")
		watch    = flag.Bool("watch", false, "poll repeatedly instead of a single snapshot")
		interval = flag.Duration("interval", 2*time.Second, "poll interval in watch mode")
		lookup   = flag.String("get", "", "print the value for this key instead of a snapshot")
		showVer  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if *lookup != "" {
		if err := printValue(ctx, *target, *lookup); err != nil {
			fatal(err)
		}
		return
	}

	if *watch {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, *target, *jsonOut); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, *target, *jsonOut); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, base string, asJSON bool) error {
	snap, err := fetchSnapshot(ctx, base)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/debug/learndb/snapshot", nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func printValue(ctx context.Context, base, key string) error {
	u := base + "/get?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		fmt.Println("(not found)")
		return nil
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Workspace: %v\n", data["workspace"])
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "learndb-inspect:", err)
	os.Exit(1)
}
