// Package leaderboard regenerates ranked leaderboard documents from the
// image store. Each criterion is written on its own; a run is summarized in
// one global metadata document.
package leaderboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

// SchemaVersion is bumped whenever the document layout changes.
const SchemaVersion = 1

const (
	defaultInterval          = time.Hour
	defaultVersionTag        = "v1"
	defaultHighUncertaintyRD = 200.0
	fingerprintLen           = 12
)

// Store is the persistence the aggregator reads ranked images from and
// writes documents to.
type Store interface {
	QueryRanked(ctx context.Context, gender model.Gender, dir model.Direction, limit int) ([]model.ImageRecord, error)
	GetLeaderboard(ctx context.Context, key string) (model.LeaderboardDocument, error)
	PutLeaderboard(ctx context.Context, doc model.LeaderboardDocument) error
	GetMetadata(ctx context.Context) (model.GlobalMetadata, error)
	PutMetadata(ctx context.Context, meta model.GlobalMetadata) error
}

// Aggregator owns the leaderboard and metadata documents.
type Aggregator struct {
	store   Store
	configs []model.LeaderboardConfig
	byKey   map[string]model.LeaderboardConfig
	version string

	interval          time.Duration
	versionTag        string
	highUncertaintyRD float64
	logger            logger.Logger
	now               func() time.Time

	running atomic.Bool
}

// New validates configs and creates an Aggregator.
func New(store Store, configs []model.LeaderboardConfig, opts ...Option) (*Aggregator, error) {
	a := &Aggregator{
		store:             store,
		interval:          defaultInterval,
		versionTag:        defaultVersionTag,
		highUncertaintyRD: defaultHighUncertaintyRD,
		logger:            logger.OrNop().Named("leaderboard"),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no criteria configured", ErrInvalidConfig)
	}
	a.byKey = make(map[string]model.LeaderboardConfig, len(configs))
	for _, c := range configs {
		if err := validateConfig(c); err != nil {
			return nil, err
		}
		if _, dup := a.byKey[c.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidConfig, c.Key)
		}
		a.byKey[c.Key] = c
	}
	a.configs = append([]model.LeaderboardConfig(nil), configs...)

	fp, err := fingerprint(a.configs)
	if err != nil {
		return nil, err
	}
	a.version = fmt.Sprintf("%s+s%d+%s", a.versionTag, SchemaVersion, fp)
	return a, nil
}

func validateConfig(c model.LeaderboardConfig) error {
	switch {
	case c.Key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidConfig)
	case !c.Direction.Valid():
		return fmt.Errorf("%w: %s: unknown direction %q", ErrInvalidConfig, c.Key, c.Direction)
	case c.Gender != "" && !c.Gender.Valid():
		return fmt.Errorf("%w: %s: unknown gender %q", ErrInvalidConfig, c.Key, c.Gender)
	case c.Limit < 1:
		return fmt.Errorf("%w: %s: limit %d", ErrInvalidConfig, c.Key, c.Limit)
	}
	return nil
}

func fingerprint(configs []model.LeaderboardConfig) (string, error) {
	raw, err := json.Marshal(configs)
	if err != nil {
		return "", fmt.Errorf("fingerprint configs: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:fingerprintLen], nil
}

// ConfigVersion is the version stamped on every document this aggregator writes.
func (a *Aggregator) ConfigVersion() string {
	return a.version
}

// Configs returns the configured criteria in order.
func (a *Aggregator) Configs() []model.LeaderboardConfig {
	return append([]model.LeaderboardConfig(nil), a.configs...)
}

// NeedsRegeneration reports whether metadata is missing, older than the
// interval, or stamped with a different config version.
func (a *Aggregator) NeedsRegeneration(ctx context.Context) (bool, error) {
	meta, err := a.store.GetMetadata(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read metadata: %w", err)
	}
	if a.now().Sub(meta.LastGeneratedAt) > a.interval {
		return true, nil
	}
	return meta.ConfigVersion != a.version, nil
}

// MaybeRegenerate runs RegenerateAll when NeedsRegeneration says so.
func (a *Aggregator) MaybeRegenerate(ctx context.Context) (bool, error) {
	stale, err := a.NeedsRegeneration(ctx)
	if err != nil || !stale {
		return false, err
	}
	_, err = a.RegenerateAll(ctx)
	if errors.Is(err, ErrRegenerationInProgress) {
		return false, nil
	}
	return true, err
}

// RegenerateAll rebuilds every criterion. A failing criterion does not stop
// the others; the outcome is written to the global metadata and, when any
// criterion failed, the returned error wraps model.ErrPartialAggregation.
// A call made while another run is active returns ErrRegenerationInProgress.
func (a *Aggregator) RegenerateAll(ctx context.Context) (meta model.GlobalMetadata, err error) {
	if !a.running.CompareAndSwap(false, true) {
		return model.GlobalMetadata{}, ErrRegenerationInProgress
	}
	defer a.running.Store(false)

	ctx, end := tracing.StartSpan(ctx, "leaderboard.regenerate_all",
		attribute.Int("criteria", len(a.configs)),
		attribute.String("config_version", a.version))
	defer func() { end(err) }()

	start := a.now()
	meta = model.GlobalMetadata{
		ConfigVersion: a.version,
		Leaderboards:  make([]string, 0, len(a.configs)),
	}
	var lastErr error
	for _, cfg := range a.configs {
		if err := a.regenerate(ctx, cfg, start); err != nil {
			meta.Failed++
			lastErr = err
			metrics.RecordLeaderboardCriterionFailure(cfg.Key)
			a.logger.Error(ctx, "leaderboard criterion failed",
				logger.String("criterion", cfg.Key),
				logger.Error(err))
			continue
		}
		meta.Processed++
		meta.Leaderboards = append(meta.Leaderboards, cfg.Key)
	}

	meta.LastGeneratedAt = a.now().UTC()
	switch {
	case meta.Failed == 0:
		meta.LastRunStatus = model.RunSuccess
	case meta.Processed == 0:
		meta.LastRunStatus = model.RunFailed
	default:
		meta.LastRunStatus = model.RunPartial
	}
	if lastErr != nil {
		meta.LastError = lastErr.Error()
	}

	if err := a.store.PutMetadata(ctx, meta); err != nil {
		metrics.RecordLeaderboardRegeneration(model.RunFailed, msSince(start, a.now()), 0)
		return meta, fmt.Errorf("write metadata: %w", err)
	}
	metrics.RecordLeaderboardRegeneration(meta.LastRunStatus, msSince(start, a.now()), meta.LastGeneratedAt.Unix())

	a.logger.Info(ctx, "leaderboards regenerated",
		logger.String("status", meta.LastRunStatus),
		logger.Int("processed", meta.Processed),
		logger.Int("failed", meta.Failed),
		logger.String("config_version", a.version))

	if meta.Failed > 0 {
		return meta, fmt.Errorf("%w: %d of %d criteria failed: %w",
			model.ErrPartialAggregation, meta.Failed, len(a.configs), lastErr)
	}
	return meta, nil
}

// regenerate replaces the document of one criterion.
func (a *Aggregator) regenerate(ctx context.Context, cfg model.LeaderboardConfig, runAt time.Time) (err error) {
	ctx, end := tracing.StartSpan(ctx, "leaderboard.criterion", attribute.String("criterion", cfg.Key))
	defer func() { end(err) }()

	prior, err := a.store.GetLeaderboard(ctx, cfg.Key)
	switch {
	case errors.Is(err, model.ErrNotFound):
		prior = model.LeaderboardDocument{}
	case err != nil:
		return fmt.Errorf("read prior %s: %w", cfg.Key, err)
	}

	images, err := a.store.QueryRanked(ctx, cfg.Gender, cfg.Direction, cfg.Limit)
	if err != nil {
		return fmt.Errorf("query %s: %w", cfg.Key, err)
	}
	if len(images) > cfg.Limit {
		images = images[:cfg.Limit]
	}

	doc := a.build(cfg, images, runAt.UTC())
	doc.FirstGeneratedAt = doc.GeneratedAt
	if !prior.FirstGeneratedAt.IsZero() {
		doc.FirstGeneratedAt = prior.FirstGeneratedAt
	}
	doc.UpdateCount = prior.UpdateCount + 1

	if err := a.store.PutLeaderboard(ctx, doc); err != nil {
		return fmt.Errorf("write %s: %w", cfg.Key, err)
	}
	return nil
}

func (a *Aggregator) build(cfg model.LeaderboardConfig, images []model.ImageRecord, at time.Time) model.LeaderboardDocument {
	doc := model.LeaderboardDocument{
		Key:           cfg.Key,
		Config:        cfg,
		Entries:       make([]model.LeaderboardEntry, len(images)),
		GeneratedAt:   at,
		ConfigVersion: a.version,
	}
	var sum float64
	for i, img := range images {
		r := img.Rating.Rating
		doc.Entries[i] = model.LeaderboardEntry{
			Rank:    i + 1,
			ImageID: img.ID,
			OwnerID: img.OwnerID,
			Rating:  r,
			RD:      img.Rating.RD,
			Battles: img.Battles,
			Wins:    img.Wins,
			Losses:  img.Losses,
		}
		sum += r
		if i == 0 || r < doc.Stats.Min {
			doc.Stats.Min = r
		}
		if i == 0 || r > doc.Stats.Max {
			doc.Stats.Max = r
		}
		if img.Rating.RD >= a.highUncertaintyRD {
			doc.Quality.HighUncertainty++
		}
	}
	doc.Stats.Count = len(images)
	if len(images) > 0 {
		doc.Stats.Mean = sum / float64(len(images))
	}
	doc.Quality.Underfilled = len(images) < cfg.Limit
	return doc
}

// GetLeaderboard returns the stored document of a configured criterion.
func (a *Aggregator) GetLeaderboard(ctx context.Context, key string) (model.LeaderboardDocument, error) {
	if _, ok := a.byKey[key]; !ok {
		return model.LeaderboardDocument{}, fmt.Errorf("%w: %q", ErrUnknownLeaderboard, key)
	}
	return a.store.GetLeaderboard(ctx, key)
}

// GetGlobalMetadata returns the summary of the last run.
func (a *Aggregator) GetGlobalMetadata(ctx context.Context) (model.GlobalMetadata, error) {
	return a.store.GetMetadata(ctx)
}

func msSince(start, end time.Time) float64 {
	return float64(end.Sub(start).Milliseconds())
}
