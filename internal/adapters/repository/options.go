package repository

import (
	"time"

	"github.com/okian/duel/pkg/logger"
)

// Default store configuration constants.
const (
	defaultMaxRetries  = 5
	defaultBaseBackoff = 2 * time.Millisecond
)

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	maxRetries  int
	baseBackoff time.Duration
	logger      logger.Logger
	badgerPath  string
	postgresDSN string
	seed        int64
}

func newOptions(opts []Option) options {
	o := options{
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		logger:      logger.OrNop().Named("repository"),
		seed:        time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMaxRetries sets how many times a conflicting transaction is retried.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay between conflict retries.
func WithBackoff(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.baseBackoff = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBadgerPath sets the badger data directory. Empty runs in memory.
func WithBadgerPath(path string) Option {
	return func(o *options) {
		o.badgerPath = path
	}
}

// WithPostgresDSN sets the postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *options) {
		o.postgresDSN = dsn
	}
}

// WithSeed fixes the seed of the memory store's treap priorities.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}
