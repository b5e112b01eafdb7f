package model

import "errors"

// Error taxonomy shared by the core. Callers match with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientCandidates = errors.New("insufficient candidates")
	ErrTxConflict             = errors.New("transaction conflict")
	ErrPartialAggregation     = errors.New("leaderboard aggregation partially failed")
)
