package selection

import (
	"math/rand"
	"sync"
	"time"

	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithMaxSize sets the cache capacity.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithRandom sets the random source used by WeightedSample.
func WithRandom(r *rand.Rand) Option {
	return func(c *Cache) {
		if r != nil {
			c.random = lockedFloat64(r)
		}
	}
}

// RefresherOption applies a configuration option to the Refresher.
type RefresherOption func(*Refresher)

// WithBatchSize sets how many records each store read returns.
func WithBatchSize(n int) RefresherOption {
	return func(r *Refresher) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithProgressEvery sets how many loaded records pass between progress logs.
func WithProgressEvery(n int) RefresherOption {
	return func(r *Refresher) {
		if n > 0 {
			r.progressEvery = n
		}
	}
}

// WithInterval sets the period used by Serve.
func WithInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBreaker configures the circuit breaker around store reads: it opens
// after failures consecutive failed refreshes and probes again after timeout.
func WithBreaker(failures uint32, timeout time.Duration) RefresherOption {
	return func(r *Refresher) {
		if failures > 0 {
			r.breakerFailures = failures
		}
		if timeout > 0 {
			r.breakerTimeout = timeout
		}
	}
}

// WithRefresherRandom sets the source of the starting cursor.
func WithRefresherRandom(rng *rand.Rand) RefresherOption {
	return func(r *Refresher) {
		if rng != nil {
			r.random = lockedFloat64(rng)
		}
	}
}

// WithLogger sets the refresher logger.
func WithLogger(l logger.Logger) RefresherOption {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

// lockedFloat64 serializes access to a *rand.Rand, which is not goroutine safe.
func lockedFloat64(r *rand.Rand) func() float64 {
	var mu sync.Mutex
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64()
	}
}
