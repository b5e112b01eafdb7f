package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/simulate"
	"github.com/okian/duel/pkg/logger"
)

// Default configuration constants.
const (
	defaultImages      = 2000
	defaultOwners      = 500
	defaultBattles     = 20000
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
	defaultCorrelation = 0.7
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		images      = flag.Int("images", defaultImages, "Number of images to seed")
		owners      = flag.Int("owners", defaultOwners, "Number of distinct owners")
		battles     = flag.Int("battles", defaultBattles, "Number of battles to submit")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		gender      = flag.String("gender", "", "Restrict candidates to male or female")
		board       = flag.String("leaderboard", "top-all", "Leaderboard key to verify")
		noise       = flag.Float64("noise", 0, "Logistic noise on outcomes; 0 is deterministic")
		correlation = flag.Float64("min-correlation", defaultCorrelation, "Minimum Spearman correlation to pass")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		prefix      = flag.String("prefix", "", "Image id prefix (default: sim-TIMESTAMP-)")
		format      = flag.String("log-format", "text", "Log format: text or json")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(logger.WithFormat(*format)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}
	if *prefix == "" {
		*prefix = "sim-" + time.Now().Format("20060102150405") + "-"
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:        *baseURL,
		Images:         *images,
		Owners:         *owners,
		Battles:        *battles,
		Workers:        *workers,
		Timeout:        *timeout,
		Gender:         model.Gender(*gender),
		Leaderboard:    *board,
		Noise:          *noise,
		MinCorrelation: *correlation,
		Seed:           *seed,
		Prefix:         *prefix,
	}

	if _, err := simulate.Run(ctx, cfg, logger.Named("simulate")); err != nil {
		os.Stderr.WriteString("simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
