package selection

import "errors"

// Error constants.
var (
	ErrInvalidCount  = errors.New("sample count must be positive")
	ErrRefreshFailed = errors.New("selection cache refresh failed")
)
