package ledger

import (
	"fmt"

	"github.com/okian/duel/internal/domain/model"
)

var (
	ErrMissingImageID = fmt.Errorf("%w: winner and loser ids are required", model.ErrValidation)
	ErrSameImage      = fmt.Errorf("%w: an image cannot battle itself", model.ErrValidation)
)
