// Package service wires the rating, selection, ledger and leaderboard
// components into the operations the HTTP API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/okian/duel/internal/adapters/counters"
	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/adapters/scheduler"
	"github.com/okian/duel/internal/config"
	"github.com/okian/duel/internal/domain/leaderboard"
	"github.com/okian/duel/internal/domain/ledger"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/internal/domain/selection"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
)

// Request bounds.
const (
	MaxCandidates   = 10
	MaxImportBatch  = 1000
	stalenessJobKey = "leaderboard-staleness"
)

// Service owns one instance of every core component. Nothing is global:
// handlers reach the cache, ledger and aggregator only through it.
type Service struct {
	mu sync.RWMutex

	cfg    config.Config
	logger logger.Logger
	now    func() time.Time
	seed   *int64

	rngMu sync.Mutex
	rng   *rand.Rand

	store      repository.Store
	counters   counters.Counters
	engine     *rating.Engine
	cache      *selection.Cache
	refresher  *selection.Refresher
	ledger     *ledger.Ledger
	aggregator *leaderboard.Aggregator
	scheduler  *scheduler.Scheduler

	started bool
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    *config.New(),
		logger: logger.OrNop().Named("service"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the component graph and loads the selection cache once.
// A failed first refresh is logged; the refresher retries on its interval.
// On error, backends opened by Start itself are closed; injected ones are kept.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	var ownStore, ownCounters bool
	defer func() {
		if err == nil {
			return
		}
		if ownCounters {
			if cerr := s.counters.Close(); cerr != nil {
				s.logger.Warn(ctx, "counters close after failed start", logger.Error(cerr))
			}
			s.counters = nil
		}
		if ownStore {
			if cerr := s.store.Close(); cerr != nil {
				s.logger.Warn(ctx, "store close after failed start", logger.Error(cerr))
			}
			s.store = nil
		}
	}()
	cfg := s.cfg
	s.logger.Info(ctx, "starting duel service", logger.String("store", cfg.StoreBackend))

	seed := time.Now().UnixNano()
	if s.seed != nil {
		seed = *s.seed
	}
	s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // sampling and pool seeds need no crypto strength

	if s.store == nil {
		store, err := repository.Open(ctx, cfg.StoreBackend,
			repository.WithMaxRetries(cfg.TxMaxRetries),
			repository.WithBadgerPath(cfg.BadgerPath),
			repository.WithPostgresDSN(cfg.PostgresDSN),
			repository.WithSeed(seed),
			repository.WithLogger(s.logger.Named("repository")))
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
		}
		s.store = store
		ownStore = true
	}

	if s.counters == nil {
		if cfg.RedisAddr != "" {
			c, err := counters.NewRedis(ctx, cfg.RedisAddr)
			if err != nil {
				return fmt.Errorf("connect counters: %w", err)
			}
			s.counters = c
		} else {
			s.counters = counters.NewMemory()
		}
		ownCounters = true
	}

	s.engine = rating.New(
		rating.WithTau(cfg.RatingTau),
		rating.WithEpsilon(cfg.RatingEpsilon),
		rating.WithDefaultVolatility(cfg.RatingDefaultVolatility),
		rating.WithRDBounds(cfg.RatingMinRD, cfg.RatingMaxRD),
		rating.WithMaxIterations(cfg.RatingMaxIterations),
		rating.WithClock(s.now))

	s.cache = selection.NewCache(
		selection.WithMaxSize(cfg.CacheMaxSize),
		selection.WithRandom(rand.New(rand.NewSource(seed+1)))) //nolint:gosec // see above
	s.refresher = selection.NewRefresher(s.cache, s.store,
		selection.WithBatchSize(cfg.RefreshBatchSize),
		selection.WithInterval(cfg.RefreshInterval),
		selection.WithBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
		selection.WithRefresherRandom(rand.New(rand.NewSource(seed+2))), //nolint:gosec // see above
		selection.WithLogger(s.logger.Named("refresher")))

	s.ledger = ledger.New(ledgerStore{store: s.store}, s.engine,
		ledger.WithClock(s.now),
		ledger.WithLogger(s.logger.Named("ledger")))

	agg, err := leaderboard.New(s.store, cfg.Leaderboards,
		leaderboard.WithInterval(cfg.LeaderboardInterval),
		leaderboard.WithVersionTag(cfg.LeaderboardVersion),
		leaderboard.WithClock(s.now),
		leaderboard.WithLogger(s.logger.Named("leaderboard")))
	if err != nil {
		return fmt.Errorf("leaderboard aggregator: %w", err)
	}
	s.aggregator = agg

	s.scheduler = scheduler.New(scheduler.WithLogger(s.logger.Named("scheduler")))
	if err := s.scheduler.Add(stalenessJobKey, cfg.LeaderboardSchedule, func(ctx context.Context) error {
		_, err := s.aggregator.MaybeRegenerate(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("schedule leaderboard staleness: %w", err)
	}

	if _, err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Warn(ctx, "initial cache refresh failed", logger.Error(err))
	}

	s.started = true
	s.logger.Info(ctx, "duel service started",
		logger.Int("cache_size", s.cache.Size()),
		logger.Int("leaderboards", len(cfg.Leaderboards)),
		logger.String("config_version", agg.ConfigVersion()))
	return nil
}

// BackgroundServices returns the periodic jobs for the supervisor: the
// cache refresher and the leaderboard scheduler.
func (s *Service) BackgroundServices() []suture.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil
	}
	return []suture.Service{s.refresher, s.scheduler}
}

// Stop releases the store and counters.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping duel service")

	s.refresher.Stop()
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}
	if err := s.counters.Close(); err != nil {
		s.logger.Warn(ctx, "counters close failed", logger.Error(err))
	}
	s.started = false
	s.logger.Info(ctx, "duel service stopped")
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// SelectCandidates draws count images of distinct owners from the cache,
// optionally restricted to one gender. It never touches the store.
func (s *Service) SelectCandidates(ctx context.Context, count int, gender model.Gender) ([]model.ImageRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if count < 1 || count > MaxCandidates {
		return nil, fmt.Errorf("%w: %d not in [1,%d]", ErrInvalidCount, count, MaxCandidates)
	}
	if gender != "" && !gender.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGender, gender)
	}

	var pred selection.Predicate
	if gender != "" {
		pred = func(img model.ImageRecord) bool { return img.Gender == gender }
	}
	images, err := s.cache.WeightedSample(count, pred)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientCandidates) {
			s.logger.Debug(ctx, "not enough candidates",
				logger.Int("count", count),
				logger.String("gender", string(gender)),
				logger.Int("cache_size", s.cache.Size()))
		}
		return nil, err
	}
	return images, nil
}

// SubmitBattle resolves one battle.
func (s *Service) SubmitBattle(ctx context.Context, winnerID, loserID, voterID string) (model.BattleRecord, error) {
	if err := s.ready(); err != nil {
		return model.BattleRecord{}, err
	}
	return s.ledger.Resolve(ctx, winnerID, loserID, voterID)
}

// GetLeaderboard returns the stored document of a configured criterion.
func (s *Service) GetLeaderboard(ctx context.Context, key string) (model.LeaderboardDocument, error) {
	if err := s.ready(); err != nil {
		return model.LeaderboardDocument{}, err
	}
	return s.aggregator.GetLeaderboard(ctx, key)
}

// LeaderboardListing is the configured criteria plus the last run summary,
// which is nil before the first regeneration.
type LeaderboardListing struct {
	Leaderboards []model.LeaderboardConfig `json:"leaderboards"`
	Metadata     *model.GlobalMetadata     `json:"metadata,omitempty"`
}

// ListLeaderboards returns the configured criteria and the last run summary.
func (s *Service) ListLeaderboards(ctx context.Context) (LeaderboardListing, error) {
	if err := s.ready(); err != nil {
		return LeaderboardListing{}, err
	}
	out := LeaderboardListing{Leaderboards: s.aggregator.Configs()}
	meta, err := s.aggregator.GetGlobalMetadata(ctx)
	switch {
	case err == nil:
		out.Metadata = &meta
	case !errors.Is(err, model.ErrNotFound):
		return LeaderboardListing{}, err
	}
	return out, nil
}

// ForceRegenerate rebuilds every leaderboard now, regardless of staleness.
func (s *Service) ForceRegenerate(ctx context.Context) (model.GlobalMetadata, error) {
	if err := s.ready(); err != nil {
		return model.GlobalMetadata{}, err
	}
	return s.aggregator.RegenerateAll(ctx)
}

// RefreshCache reloads the selection cache now.
func (s *Service) RefreshCache(ctx context.Context) (selection.RefreshResult, error) {
	if err := s.ready(); err != nil {
		return selection.RefreshResult{}, err
	}
	return s.refresher.Refresh(ctx)
}

// ledgerStore exposes a repository.Store as a ledger.Store.
type ledgerStore struct {
	store repository.Store
}

func (l ledgerStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return l.store.Update(ctx, func(tx repository.Tx) error {
		return fn(tx)
	})
}

// Stats is a point-in-time view for monitoring.
type Stats struct {
	Started       bool                  `json:"started"`
	StoreBackend  string                `json:"store_backend"`
	CacheSize     int                   `json:"cache_size"`
	CacheMaxSize  int                   `json:"cache_max_size"`
	PoolSize      int                   `json:"pool_size"`
	TotalImages   int64                 `json:"total_images"`
	ConfigVersion string                `json:"config_version,omitempty"`
	LastRun       *model.GlobalMetadata `json:"last_run,omitempty"`
}

// GetStats reports cache, pool and leaderboard state and refreshes the
// matching gauges.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	st := Stats{Started: started, StoreBackend: s.cfg.StoreBackend, CacheMaxSize: s.cfg.CacheMaxSize}
	if !started {
		return st, nil
	}

	st.CacheSize = s.cache.Size()
	st.ConfigVersion = s.aggregator.ConfigVersion()

	pool, err := s.store.CountPool(ctx)
	if err != nil {
		return st, fmt.Errorf("count pool: %w", err)
	}
	st.PoolSize = pool

	total, err := s.counters.Get(ctx, counters.TotalImages)
	if err != nil {
		return st, fmt.Errorf("read counters: %w", err)
	}
	st.TotalImages = total

	meta, err := s.aggregator.GetGlobalMetadata(ctx)
	if err == nil {
		st.LastRun = &meta
	} else if !errors.Is(err, model.ErrNotFound) {
		return st, err
	}

	metrics.UpdateCacheSize(st.CacheSize)
	metrics.UpdatePoolSize(st.PoolSize)
	metrics.UpdateTotalImages(int(st.TotalImages))
	return st, nil
}
