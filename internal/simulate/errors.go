package simulate

import "errors"

// Error constants.
var (
	ErrConfig         = errors.New("invalid simulation config")
	ErrUnhealthy      = errors.New("service is not healthy")
	ErrStatus         = errors.New("unexpected response status")
	ErrNoBattles      = errors.New("no battle was recorded")
	ErrUnsorted       = errors.New("leaderboard is not sorted")
	ErrLowCorrelation = errors.New("ratings do not follow hidden quality")
)
