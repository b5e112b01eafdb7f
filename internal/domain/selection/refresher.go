package selection

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

// Default refresher configuration constants.
const (
	defaultBatchSize       = 500
	defaultProgressEvery   = 10_000
	defaultInterval        = 5 * time.Minute
	defaultBreakerFailures = 3
	defaultBreakerTimeout  = 30 * time.Second
	breakerName            = "selection-refresh"
)

// Source is the slice of the persistent store the refresher reads.
type Source interface {
	// CountPool returns the number of pool-eligible images.
	CountPool(ctx context.Context) (int, error)
	// ScanPool returns up to limit eligible images strictly after the
	// cursor in (RandomSeed, ID) order.
	ScanPool(ctx context.Context, after model.PoolCursor, limit int) ([]model.ImageRecord, error)
}

// RefreshResult describes one Refresh call.
type RefreshResult struct {
	Skipped  bool
	Target   int
	Loaded   int
	Duration time.Duration
}

// Refresher rebuilds the cache from the store off to the side and swaps the
// result in. Overlapping refreshes are skipped, not queued.
type Refresher struct {
	cache  *Cache
	source Source
	logger logger.Logger
	random func() float64

	batchSize       int
	progressEvery   int
	interval        time.Duration
	breakerFailures uint32
	breakerTimeout  time.Duration
	breaker         *gobreaker.CircuitBreaker[RefreshResult]

	running atomic.Bool

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRefresher creates a refresher feeding cache from source.
func NewRefresher(cache *Cache, source Source, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		cache:           cache,
		source:          source,
		logger:          logger.OrNop().Named("refresher"),
		random:          rand.Float64,
		batchSize:       defaultBatchSize,
		progressEvery:   defaultProgressEvery,
		interval:        defaultInterval,
		breakerFailures: defaultBreakerFailures,
		breakerTimeout:  defaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.breaker = gobreaker.NewCircuitBreaker[RefreshResult](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     r.breakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= r.breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateCircuitBreakerState(name, int(to))
			r.logger.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return r
}

// Refresh reloads the cache. A call made while another is running returns
// a Skipped result immediately.
func (r *Refresher) Refresh(ctx context.Context) (res RefreshResult, err error) {
	if !r.running.CompareAndSwap(false, true) {
		metrics.RecordCacheRefresh("skipped", 0, 0)
		return RefreshResult{Skipped: true}, nil
	}
	defer r.running.Store(false)

	ctx, end := tracing.StartSpan(ctx, "selection.refresh", attribute.Int("batch_size", r.batchSize))
	defer func() { end(err) }()

	start := time.Now()
	res, err = r.breaker.Execute(func() (RefreshResult, error) {
		return r.load(ctx)
	})
	res.Duration = time.Since(start)
	ms := float64(res.Duration.Milliseconds())

	if err != nil {
		metrics.RecordCacheRefresh("failed", ms, 0)
		metrics.RecordErrorByComponent("refresher", "load")
		r.logger.Error(ctx, "cache refresh failed",
			logger.Duration("elapsed", res.Duration),
			logger.Error(err))
		return res, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	metrics.RecordCacheRefresh("success", ms, res.Loaded)
	r.logger.Info(ctx, "cache refreshed",
		logger.Int("target", res.Target),
		logger.Int("loaded", res.Loaded),
		logger.Int("cached", r.cache.Size()),
		logger.Duration("elapsed", res.Duration))
	return res, nil
}

// load streams the pool in random-seed order from a random cursor, wrapping
// around once, into a fresh builder, then publishes it.
func (r *Refresher) load(ctx context.Context) (RefreshResult, error) {
	pool, err := r.source.CountPool(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("count pool: %w", err)
	}
	metrics.UpdatePoolSize(pool)

	res := RefreshResult{Target: min(pool, r.cache.MaxSize())}
	b := r.cache.NewBuilder()

	start := model.PoolCursor{Seed: r.random()}
	cursor := start
	wrapped := false
	nextLog := r.progressEvery

	for res.Loaded < res.Target {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("refresh interrupted: %w", err)
		}

		limit := min(r.batchSize, res.Target-res.Loaded)
		batch, err := r.source.ScanPool(ctx, cursor, limit)
		if err != nil {
			return res, fmt.Errorf("scan pool after seed %.6f: %w", cursor.Seed, err)
		}
		full := len(batch) == limit

		if wrapped {
			// Second lap stops where the first one began.
			n := 0
			for n < len(batch) && !start.Before(batch[n].RandomSeed, batch[n].ID) {
				n++
			}
			if n < len(batch) {
				batch, full = batch[:n], false
			}
		}

		entries := make([]Entry, 0, len(batch))
		for _, img := range batch {
			if img.Eligible() {
				entries = append(entries, NewEntry(img))
			}
		}
		b.AddMultiple(entries)
		res.Loaded += len(batch)

		if res.Loaded >= nextLog {
			r.logger.Info(ctx, "cache refresh progress",
				logger.Int("loaded", res.Loaded),
				logger.Int("target", res.Target))
			nextLog += r.progressEvery
		}

		if !full {
			if wrapped {
				break
			}
			wrapped = true
			cursor = model.StartCursor
			continue
		}
		last := batch[len(batch)-1]
		cursor = model.PoolCursor{Seed: last.RandomSeed, ID: last.ID}
	}

	r.cache.Replace(b)
	return res, nil
}

// Start runs Refresh every interval in a background goroutine until Stop.
func (r *Refresher) Start(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopChan != nil {
		return
	}
	if interval <= 0 {
		interval = r.interval
	}
	stop := make(chan struct{})
	r.stopChan = stop

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx, interval, stop)
	}()
}

// Stop halts the background loop started by Start and waits for it.
func (r *Refresher) Stop() {
	r.mu.Lock()
	stop := r.stopChan
	r.stopChan = nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	r.wg.Wait()
}

// Serve implements suture.Service: it refreshes every configured interval
// until ctx is cancelled.
func (r *Refresher) Serve(ctx context.Context) error {
	r.loop(ctx, r.interval, nil)
	return ctx.Err()
}

// String names the service in supervisor logs.
func (r *Refresher) String() string {
	return breakerName
}

func (r *Refresher) loop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			// Failures are logged by Refresh; the next tick retries.
			_, _ = r.Refresh(ctx)
		}
	}
}
