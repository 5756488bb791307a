package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/herald/internal/api"
	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/delivery"
	"github.com/mattjoyce/herald/internal/engine"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/queue"
	"github.com/mattjoyce/herald/internal/rule"
	"github.com/mattjoyce/herald/internal/storage"
	"github.com/mattjoyce/herald/internal/tui/watch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "system":
		os.Exit(runSystemNoun(args))
	case "queue":
		os.Exit(runQueueNoun(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("herald version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`herald - Rule-based marketplace automation & delivery engine

Usage:
  herald <noun> <action> [flags]

System Commands:
  system start      Start the engine in foreground

Queue Commands:
  queue stats       Show aggregate queue counts via the API

General:
  watch             Live operator view of engine activity
  version           Show version information
  help              Show this help message
`)
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: herald system start [--config PATH]")
		return 1
	}

	switch args[0] {
	case "start":
		return runStart(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("system start", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("starting herald", "version", version, "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store queue.Store = queue.NewMemory()
	if cfg.Queue.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Queue.Path)
		if err != nil {
			logger.Error("failed to open queue database", "error", err.Error())
			return 1
		}
		defer db.Close()
		store = storage.NewQueueStore(db)
		logger.Info("using sqlite queue store", "path", cfg.Queue.Path)
	}

	eng := engine.New(engine.Options{
		Config: cfg,
		Store:  store,
		Client: delivery.LogSender{},
	})

	if cfg.Rules.Path != "" {
		rules := rule.NewStore()
		n, err := rule.LoadFile(cfg.Rules.Path, rules)
		if err != nil {
			logger.Error("failed to load rules", "path", cfg.Rules.Path, "error", err.Error())
			return 1
		}
		for _, r := range rules.All() {
			if err := eng.RegisterRule(r); err != nil {
				logger.Error("failed to register rule", "rule_id", r.ID, "error", err.Error())
				return 1
			}
		}
		logger.Info("rules loaded", "path", cfg.Rules.Path, "count", n)
	}

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err.Error())
		return 1
	}
	defer eng.Stop()

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API, eng)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("api server failed", "error", err.Error())
				cancel()
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api shutdown incomplete", "error", err.Error())
		}
	}
	return 0
}

func runQueueNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: herald queue stats [--api-url URL] [--api-key KEY]")
		return 1
	}

	switch args[0] {
	case "stats":
		return runQueueStats(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown queue action: %s\n", args[0])
		return 1
	}
}

func runQueueStats(args []string) int {
	fs := flag.NewFlagSet("queue stats", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "API base URL")
	apiKey := fs.String("api-key", os.Getenv("HERALD_API_KEY"), "API bearer token")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest("GET", *apiURL+"/v1/queue/stats", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build request: %v\n", err)
		return 1
	}
	req.Header.Set("Authorization", "Bearer "+*apiKey)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "API error (%d): %s\n", resp.StatusCode, body)
		return 1
	}

	var stats queue.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse response: %v\n", err)
		return 1
	}

	fmt.Printf("total:   %d\npending: %d\nsent:    %d\nfailed:  %d\n",
		stats.Total, stats.Pending, stats.Sent, stats.Failed)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "API base URL")
	apiKey := fs.String("api-key", os.Getenv("HERALD_API_KEY"), "API bearer token")
	_ = fs.Parse(args)

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}
