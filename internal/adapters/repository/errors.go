package repository

import (
	"errors"
	"fmt"

	"github.com/okian/duel/internal/domain/model"
)

// Sentinel kinds for store errors. ErrNotFound and ErrConflict also match
// the domain errors model.ErrNotFound and model.ErrTxConflict.
var (
	ErrNotFound       = fmt.Errorf("repository: %w", model.ErrNotFound)
	ErrConflict       = fmt.Errorf("repository: %w", model.ErrTxConflict)
	ErrInvalidLimit   = errors.New("invalid limit")
	ErrInvalidQuery   = errors.New("invalid rank query")
	ErrInvalidImage   = errors.New("invalid image record")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrClosed         = errors.New("store closed")
)
