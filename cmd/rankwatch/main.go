package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/RankWatch/internal/config"
)

var (
	cfgFile  string
	verbose  bool
	stateDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rankwatch",
		Short: "RankWatch: rank-drop detection and competitor content analysis",
		Long: `RankWatch explains why a page lost search positions.

It detects the drop from search-console data, picks the keywords worth
defending, finds who outranks the page for them, scrapes those articles and
diffs their structure and content against yours.

The analysis runs as three resumable steps (step1, step2, step3) whose state
is written to --state-dir, or end to end with run.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory for step state files (default from config)")

	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(step1Cmd())
	rootCmd.AddCommand(step2Cmd())
	rootCmd.AddCommand(step3Cmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(trialCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if stateDir != "" {
		cfg.Pipeline.StateDir = stateDir
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, setupLogger(&cfg.Logging), nil
}

// setupLogger creates a structured logger on stderr; stdout carries results.
func setupLogger(cfg *config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// printJSON writes v to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("RankWatch %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Search Console:\n")
			fmt.Printf("  Endpoint:          %s\n", cfg.GSC.Endpoint)
			fmt.Printf("  Token set:         %v\n", cfg.GSC.AccessToken != "")
			fmt.Printf("  Lag Days:          %d\n", cfg.GSC.LagDays)
			fmt.Printf("\nDetector:\n")
			fmt.Printf("  Comparison Days:   %d\n", cfg.Detector.ComparisonDays)
			fmt.Printf("  Drop Threshold:    %.1f\n", cfg.Detector.DropThreshold)
			fmt.Printf("  Keyword Threshold: %.1f\n", cfg.Detector.KeywordDropThreshold)
			fmt.Printf("\nKeywords:\n")
			fmt.Printf("  Max Keywords:      %d\n", cfg.Keywords.MaxKeywords)
			fmt.Printf("\nSearch:\n")
			fmt.Printf("  API Endpoint:      %s\n", cfg.Search.APIEndpoint)
			fmt.Printf("  Browser Fallback:  %v\n", cfg.Search.EnableBrowser)
			fmt.Printf("  Prefer Fast:       %v\n", cfg.Search.PreferFast)
			fmt.Printf("  Max Competitors:   %d\n", cfg.Search.MaxCompetitors)
			fmt.Printf("\nScraper:\n")
			fmt.Printf("  Concurrency:       %d\n", cfg.Scraper.Concurrency)
			fmt.Printf("  Browser Enabled:   %v\n", cfg.Browser.Enabled)
			fmt.Printf("  Proxies:           %d\n", len(cfg.Fetcher.Proxies))
			fmt.Printf("\nAI:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.AI.Enabled)
			fmt.Printf("  Provider:          %s\n", cfg.AI.Provider)
			fmt.Printf("  Model:             %s\n", cfg.AI.Model)
			fmt.Printf("\nPipeline:\n")
			fmt.Printf("  Deadline:          %s (reserve %s)\n", cfg.Pipeline.Deadline, cfg.Pipeline.Reserve)
			fmt.Printf("  State Dir:         %s\n", cfg.Pipeline.StateDir)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:              %s\n", cfg.Storage.Type)
			fmt.Printf("  Output Path:       %s\n", cfg.Storage.OutputPath)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Addr:              %s\n", cfg.API.Addr)
			fmt.Printf("  Metrics:           %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Path)
			return nil
		},
	}
}
