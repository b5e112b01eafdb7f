package leaderboard

import (
	"time"

	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithInterval sets the maximum age of the last run before it is stale.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithVersionTag sets the operator-controlled part of the config version.
// Changing it forces the next staleness check to regenerate.
func WithVersionTag(tag string) Option {
	return func(a *Aggregator) {
		if tag != "" {
			a.versionTag = tag
		}
	}
}

// WithHighUncertaintyRD sets the RD at or above which an entry counts as
// high uncertainty in the data-quality flags.
func WithHighUncertaintyRD(rd float64) Option {
	return func(a *Aggregator) {
		if rd > 0 {
			a.highUncertaintyRD = rd
		}
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}
