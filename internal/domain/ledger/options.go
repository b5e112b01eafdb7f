package ledger

import (
	"time"

	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(l logger.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithClock overrides the battle timestamp source.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		if now != nil {
			lg.now = now
		}
	}
}

// WithIDGenerator overrides how battle ids are minted.
func WithIDGenerator(next func() string) Option {
	return func(lg *Ledger) {
		if next != nil {
			lg.newID = next
		}
	}
}
