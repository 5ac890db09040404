// Command vagasbot drives the orchestrator over a list of seed target URLs,
// exposing optional metrics and health HTTP endpoints.
//
// Grounded in the teacher's cli/cmd/ariadne/main.go: flag-driven seed
// gathering, a double-signal graceful shutdown, and metrics/health
// endpoints behind optional flags.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/edukz/vagas-scrapy-sub001/config"
	"github.com/edukz/vagas-scrapy-sub001/fetcher"
	"github.com/edukz/vagas-scrapy-sub001/orchestrator"
)

func main() {
	var (
		seedList    string
		seedFile    string
		configPath  string
		metricsAddr string
		healthAddr  string
		userAgent   string
		showVersion bool
	)
	flag.StringVar(&seedList, "seeds", "", "Comma separated list of seed listing URLs")
	flag.StringVar(&seedFile, "seed-file", "", "Path to file containing one seed URL per line")
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (see config.Config)")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose Prometheus metrics on address (e.g. :9090); requires metrics.prometheus_bridge: true")
	flag.StringVar(&healthAddr, "health", "", "Expose a health JSON endpoint on address (e.g. :9091)")
	flag.StringVar(&userAgent, "user-agent", "vagasbot/1.0", "User-Agent sent by the reference Colly-backed fetcher")
	flag.BoolVar(&showVersion, "version", false, "Show version info and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("vagasbot – resilient job-listing scraper")
		return
	}

	seeds, err := gatherSeeds(seedList, seedFile)
	if err != nil {
		log.Fatalf("collect seeds: %v", err)
	}
	if len(seeds) == 0 {
		fmt.Println("No seeds provided. Use -seeds or -seed-file.")
		os.Exit(1)
	}

	cfg := *config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = *loaded
	}

	f := fetcher.NewCollyFetcher(userAgent)
	extractor := orchestrator.DefaultExtractor()

	o, err := orchestrator.New(cfg, f, extractor, orchestrator.ContainerSelector(), orchestrator.DefaultContainerKind())
	if err != nil {
		log.Fatalf("build orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if metricsAddr != "" {
		if h := o.MetricsHandler(); h != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()
			go func() {
				log.Printf("metrics listening on %s", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("metrics server: %v", err)
				}
			}()
		} else {
			log.Printf("metrics endpoint requested but metrics.prometheus_bridge is disabled in config")
		}
	}

	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			snap := o.HealthSnapshot(r.Context())
			_ = json.NewEncoder(w).Encode(snap)
		})
		srv := &http.Server{Addr: healthAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		go func() {
			log.Printf("health endpoint listening on %s", healthAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("health server: %v", err)
			}
		}()
	}

	targets := make([]orchestrator.Target, len(seeds))
	for i, s := range seeds {
		targets[i] = orchestrator.Target{URL: s}
	}

	summary, err := o.Run(ctx, targets)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(summary); err != nil {
		log.Printf("encode summary: %v", err)
	}
	fmt.Fprintf(os.Stderr, "\n=== DONE: %d jobs collected from %d target(s) ===\n", summary.Metadata.Total, len(targets))
}

func gatherSeeds(seedList, seedFile string) ([]string, error) {
	seeds := []string{}
	if seedList != "" {
		for _, s := range strings.Split(seedList, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				seeds = append(seeds, s)
			}
		}
	}
	if seedFile != "" {
		f, err := os.Open(seedFile)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				seeds = append(seeds, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]struct{}, len(seeds))
	out := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
