package rating

import "time"

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithTau sets the system constant constraining volatility change.
func WithTau(tau float64) Option {
	return func(e *Engine) {
		if tau > 0 {
			e.tau = tau
		}
	}
}

// WithEpsilon sets the convergence tolerance of the volatility solve.
func WithEpsilon(epsilon float64) Option {
	return func(e *Engine) {
		if epsilon > 0 {
			e.epsilon = epsilon
		}
	}
}

// WithDefaultVolatility sets the volatility assigned on initialization.
func WithDefaultVolatility(sigma float64) Option {
	return func(e *Engine) {
		if sigma > 0 {
			e.defaultVolatility = sigma
		}
	}
}

// WithRDBounds sets the clamp applied to every updated RD.
func WithRDBounds(minRD, maxRD float64) Option {
	return func(e *Engine) {
		if minRD > 0 && maxRD > minRD {
			e.minRD = minRD
			e.maxRD = maxRD
		}
	}
}

// WithRDTable replaces the initialization table. Thresholds are sorted
// by MinBattles descending before use.
func WithRDTable(table []Threshold) Option {
	return func(e *Engine) {
		if len(table) > 0 {
			e.table = sortedTable(table)
		}
	}
}

// WithMaxIterations caps both the bracket search and the Illinois loop.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithClock sets the time source used to stamp updated states.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
