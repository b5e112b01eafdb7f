package service

import (
	"time"

	"github.com/okian/duel/internal/adapters/counters"
	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/config"
	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig copies the tunables of cfg into the service.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = *cfg
		}
	}
}

// WithStore injects an already opened store instead of opening the
// configured backend. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithCounters injects metadata counters instead of building them from
// the configured redis address.
func WithCounters(c counters.Counters) Option {
	return func(s *Service) {
		if c != nil {
			s.counters = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for new images and leaderboards.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandomSeed makes image seeds and cache sampling reproducible.
func WithRandomSeed(seed int64) Option {
	return func(s *Service) {
		s.seed = &seed
	}
}
