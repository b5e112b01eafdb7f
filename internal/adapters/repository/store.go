// Package repository persists images, battle history and leaderboard
// documents behind a backend-neutral Store.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/duel/internal/domain/model"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Store is the persistent image store.
type Store interface {
	// GetImage returns ErrNotFound when id is unknown.
	GetImage(ctx context.Context, id string) (model.ImageRecord, error)
	// PutImage inserts or replaces an image and maintains its indexes.
	PutImage(ctx context.Context, img model.ImageRecord) error

	// Update runs fn in one serializable read-modify-write transaction.
	// Nothing fn writes is visible unless it returns nil and the commit
	// succeeds. Conflicting commits are retried; exhausting retries
	// returns an error wrapping ErrConflict.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// ScanPool returns up to limit eligible images strictly after the
	// cursor in (RandomSeed, ID) order.
	ScanPool(ctx context.Context, after model.PoolCursor, limit int) ([]model.ImageRecord, error)
	// CountPool returns the number of eligible images.
	CountPool(ctx context.Context) (int, error)
	// QueryRanked returns up to limit eligible images ordered by rating.
	// Ties follow the direction on image id, so top is (rating, id)
	// descending and bottom is (rating, id) ascending. An empty gender
	// ranks the whole pool.
	QueryRanked(ctx context.Context, gender model.Gender, dir model.Direction, limit int) ([]model.ImageRecord, error)

	// ListBattles returns up to limit battles in commit order; limit <= 0 means all.
	ListBattles(ctx context.Context, limit int) ([]model.BattleRecord, error)

	GetLeaderboard(ctx context.Context, key string) (model.LeaderboardDocument, error)
	// PutLeaderboard replaces the document stored under doc.Key.
	PutLeaderboard(ctx context.Context, doc model.LeaderboardDocument) error
	GetMetadata(ctx context.Context) (model.GlobalMetadata, error)
	PutMetadata(ctx context.Context, meta model.GlobalMetadata) error

	Close() error
}

// Tx is the view of the store inside Update.
type Tx interface {
	GetImage(ctx context.Context, id string) (model.ImageRecord, error)
	PutImage(ctx context.Context, img model.ImageRecord) error
	AppendBattle(ctx context.Context, b model.BattleRecord) error
}

// validateImage checks the fields every backend relies on for indexing.
func validateImage(img model.ImageRecord) error {
	switch {
	case img.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidImage)
	case img.OwnerID == "":
		return fmt.Errorf("%w: image %s has no owner", ErrInvalidImage, img.ID)
	case img.RandomSeed < 0 || img.RandomSeed >= 1:
		return fmt.Errorf("%w: image %s random seed %g outside [0,1)", ErrInvalidImage, img.ID, img.RandomSeed)
	case img.InPool && !img.Gender.Valid():
		return fmt.Errorf("%w: pooled image %s needs a gender", ErrInvalidImage, img.ID)
	}
	return nil
}

func validateRankQuery(gender model.Gender, dir model.Direction, limit int) error {
	if limit < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if !dir.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidQuery, dir)
	}
	if gender != "" && !gender.Valid() {
		return fmt.Errorf("%w: unknown gender %q", ErrInvalidQuery, gender)
	}
	return nil
}
