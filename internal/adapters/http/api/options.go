package api

import (
	"time"

	"github.com/okian/duel/pkg/logger"
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithBattleRateLimit caps battle submissions per client IP per window.
// Zero disables the limit.
func WithBattleRateLimit(requests int, window time.Duration) Option {
	return func(s *Server) {
		if requests >= 0 {
			s.battleRateLimit = requests
		}
		if window > 0 {
			s.rateWindow = window
		}
	}
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
