package rating

import "errors"

// Error constants.
var (
	ErrNoConvergence = errors.New("volatility solve did not converge")
	ErrInvalidState  = errors.New("invalid rating state")
)
