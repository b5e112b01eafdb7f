package repository

import (
	"context"
	"fmt"
)

// Open builds the Store named by backend.
func Open(ctx context.Context, backend string, opts ...Option) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(opts...), nil
	case BackendBadger:
		return NewBadgerStore(opts...)
	case BackendPostgres:
		return NewPostgresStore(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
