package simulate

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
)

type regenerateResponse struct {
	Success  bool                 `json:"success"`
	Metadata model.GlobalMetadata `json:"metadata"`
	Error    string               `json:"error"`
}

// Run executes a complete simulation against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (Report, error) {
	if log == nil {
		log = logger.OrNop().Named("simulate")
	}
	report := Report{StartTime: time.Now()}
	if err := cfg.Validate(); err != nil {
		return report, err
	}

	log.Info(ctx, "starting simulation",
		logger.String("base_url", cfg.BaseURL),
		logger.Int("images", cfg.Images),
		logger.Int("owners", cfg.Owners),
		logger.Int("battles", cfg.Battles),
		logger.Int("workers", cfg.Workers),
		logger.String("leaderboard", cfg.Leaderboard))

	c := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := checkHealth(ctx, c); err != nil {
		return report, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible qualities
	images := generateImages(cfg, rng)
	seeded, err := seedImages(ctx, c, images, log)
	report.ImagesSeeded = seeded
	if err != nil {
		return report, fmt.Errorf("seed images: %w", err)
	}

	d := decider{quality: make(map[string]float64, len(images)), noise: cfg.Noise}
	for _, img := range images {
		d.quality[img.ID] = img.Quality
	}
	driveBattles(ctx, cfg, c, d, &report, log)
	if report.BattlesSuccessful == 0 {
		return report, ErrNoBattles
	}

	doc, err := regenerateAndFetch(ctx, c, cfg.Leaderboard)
	if err != nil {
		return report, err
	}
	report.LeaderboardSize = len(doc.Entries)
	if err := verifyOrdering(doc); err != nil {
		return report, err
	}

	corr, n := qualityCorrelation(doc, d.quality)
	report.Correlation = corr
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	logReport(ctx, log, report, n)

	if corr < cfg.MinCorrelation {
		return report, fmt.Errorf("%w: spearman %.3f over %d images, want >= %.3f",
			ErrLowCorrelation, corr, n, cfg.MinCorrelation)
	}
	return report, nil
}

func checkHealth(ctx context.Context, c *Client) error {
	status, err := c.Get(ctx, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, status)
	}
	return nil
}

func regenerateAndFetch(ctx context.Context, c *Client, key string) (model.LeaderboardDocument, error) {
	var regen regenerateResponse
	status, err := c.Post(ctx, "/leaderboards/regenerate", struct{}{}, &regen)
	if err != nil {
		return model.LeaderboardDocument{}, fmt.Errorf("regenerate: %w", err)
	}
	if status != http.StatusOK || !regen.Success {
		return model.LeaderboardDocument{}, fmt.Errorf("%w: regenerate status %d: %s", ErrStatus, status, regen.Error)
	}

	var doc model.LeaderboardDocument
	status, err = c.Get(ctx, "/leaderboards/"+url.PathEscape(key), &doc)
	if err != nil {
		return doc, fmt.Errorf("fetch leaderboard %s: %w", key, err)
	}
	if status != http.StatusOK {
		return doc, fmt.Errorf("%w: leaderboard %s: %d", ErrStatus, key, status)
	}
	return doc, nil
}

func logReport(ctx context.Context, log logger.Logger, r Report, compared int) {
	var perSecond float64
	if r.Duration > 0 {
		perSecond = float64(r.BattlesSubmitted) / r.Duration.Seconds()
	}
	log.Info(ctx, "simulation finished",
		logger.Int("images_seeded", r.ImagesSeeded),
		logger.Int("battles_submitted", r.BattlesSubmitted),
		logger.Int("battles_successful", r.BattlesSuccessful),
		logger.Int("battles_failed", r.BattlesFailed),
		logger.Int("insufficient", r.Insufficient),
		logger.Int("leaderboard_size", r.LeaderboardSize),
		logger.Int("compared", compared),
		logger.Float64("spearman", r.Correlation),
		logger.Float64("battles_per_second", perSecond),
		logger.Duration("duration", r.Duration))
}
