package leaderboard

import (
	"errors"
	"fmt"

	"github.com/okian/duel/internal/domain/model"
)

// Error constants.
var (
	ErrInvalidConfig          = fmt.Errorf("%w: invalid leaderboard config", model.ErrValidation)
	ErrUnknownLeaderboard     = fmt.Errorf("unknown leaderboard: %w", model.ErrNotFound)
	ErrRegenerationInProgress = errors.New("leaderboard regeneration already running")
)
