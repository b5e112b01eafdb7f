package service

import (
	"errors"
	"fmt"

	"github.com/okian/duel/internal/domain/model"
)

// Error constants.
var (
	ErrNotStarted    = errors.New("service not started")
	ErrInvalidCount  = fmt.Errorf("%w: candidate count out of range", model.ErrValidation)
	ErrInvalidGender = fmt.Errorf("%w: unknown gender", model.ErrValidation)
	ErrInvalidImport = fmt.Errorf("%w: invalid image", model.ErrValidation)
	ErrTooManyImages = fmt.Errorf("%w: too many images in one import", model.ErrValidation)
)
