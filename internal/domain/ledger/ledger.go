// Package ledger resolves battles: both image records and the history entry
// are written in one store transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/rating"
	"github.com/okian/duel/pkg/logger"
	"github.com/okian/duel/pkg/metrics"
	"github.com/okian/duel/pkg/tracing"
)

// Tx is the transactional view the ledger reads and writes through.
type Tx interface {
	GetImage(ctx context.Context, id string) (model.ImageRecord, error)
	PutImage(ctx context.Context, img model.ImageRecord) error
	AppendBattle(ctx context.Context, b model.BattleRecord) error
}

// Store runs fn atomically. It owns conflict detection and retries.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Rater computes post-battle rating states.
type Rater interface {
	Update(winner, loser model.RatingState) (model.RatingState, model.RatingState, error)
	Version() string
}

// Ledger resolves battles. It holds no locks of its own.
type Ledger struct {
	store  Store
	rater  Rater
	logger logger.Logger
	now    func() time.Time
	newID  func() string
}

// New creates a Ledger.
func New(store Store, rater Rater, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		rater:  rater,
		logger: logger.OrNop().Named("ledger"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve records that winnerID beat loserID. It is not idempotent: every
// call creates a new battle. Nothing is written unless every step succeeds.
func (l *Ledger) Resolve(ctx context.Context, winnerID, loserID, voterID string) (rec model.BattleRecord, err error) {
	start := time.Now()
	switch {
	case winnerID == "" || loserID == "":
		l.fail(ctx, "validation", winnerID, loserID, ErrMissingImageID)
		return model.BattleRecord{}, ErrMissingImageID
	case winnerID == loserID:
		l.fail(ctx, "validation", winnerID, loserID, ErrSameImage)
		return model.BattleRecord{}, ErrSameImage
	}

	ctx, end := tracing.StartSpan(ctx, "ledger.resolve",
		attribute.String("winner_id", winnerID),
		attribute.String("loser_id", loserID))
	defer func() { end(err) }()

	var gender model.Gender
	err = l.store.Update(ctx, func(tx Tx) error {
		var txErr error
		rec, gender, txErr = l.apply(ctx, tx, winnerID, loserID, voterID)
		return txErr
	})
	if err != nil {
		l.fail(ctx, failureReason(err), winnerID, loserID, err)
		return model.BattleRecord{}, fmt.Errorf("resolve %s over %s: %w", winnerID, loserID, err)
	}

	metrics.RecordBattleResolved(string(gender))
	metrics.RecordBattleLatency(float64(time.Since(start).Milliseconds()))
	metrics.RecordRatingChange(math.Abs(rec.WinnerDelta()))
	metrics.RecordRatingChange(math.Abs(rec.LoserDelta()))
	l.logger.Debug(ctx, "battle resolved",
		logger.String("battle_id", rec.ID),
		logger.String("winner_id", winnerID),
		logger.String("loser_id", loserID),
		logger.Float64("winner_delta", rec.WinnerDelta()),
		logger.Float64("loser_delta", rec.LoserDelta()))
	return rec, nil
}

// apply runs inside the transaction and may be invoked more than once when
// the store retries a conflict.
func (l *Ledger) apply(ctx context.Context, tx Tx, winnerID, loserID, voterID string) (model.BattleRecord, model.Gender, error) {
	winner, err := tx.GetImage(ctx, winnerID)
	if err != nil {
		return model.BattleRecord{}, "", fmt.Errorf("winner: %w", err)
	}
	loser, err := tx.GetImage(ctx, loserID)
	if err != nil {
		return model.BattleRecord{}, "", fmt.Errorf("loser: %w", err)
	}

	winnerAfter, loserAfter, err := l.rater.Update(winner.Rating, loser.Rating)
	if err != nil {
		return model.BattleRecord{}, "", fmt.Errorf("rating update: %w", err)
	}

	now := l.now().UTC()
	rec := model.BattleRecord{
		ID:               l.newID(),
		WinnerImageID:    winner.ID,
		LoserImageID:     loser.ID,
		WinnerOwnerID:    winner.OwnerID,
		LoserOwnerID:     loser.OwnerID,
		WinnerBefore:     winner.Rating,
		WinnerAfter:      winnerAfter,
		LoserBefore:      loser.Rating,
		LoserAfter:       loserAfter,
		VoterID:          voterID,
		CreatedAt:        now,
		AlgorithmVersion: l.rater.Version(),
	}
	if err := tx.AppendBattle(ctx, rec); err != nil {
		return model.BattleRecord{}, "", fmt.Errorf("append battle: %w", err)
	}

	winner.Battles++
	winner.Wins++
	winner.Rating = winnerAfter
	winner.UpdatedAt = now
	if err := tx.PutImage(ctx, winner); err != nil {
		return model.BattleRecord{}, "", fmt.Errorf("write winner: %w", err)
	}

	loser.Battles++
	loser.Losses++
	loser.Rating = loserAfter
	loser.UpdatedAt = now
	if err := tx.PutImage(ctx, loser); err != nil {
		return model.BattleRecord{}, "", fmt.Errorf("write loser: %w", err)
	}
	return rec, winner.Gender, nil
}

func (l *Ledger) fail(ctx context.Context, reason, winnerID, loserID string, err error) {
	metrics.RecordBattleFailure(reason)
	metrics.RecordErrorByComponent("ledger", reason)
	log := l.logger.Error
	if reason == "validation" || reason == "not_found" {
		log = l.logger.Warn
	}
	log(ctx, "battle resolution failed",
		logger.String("reason", reason),
		logger.String("winner_id", winnerID),
		logger.String("loser_id", loserID),
		logger.Error(err))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrTxConflict):
		return "conflict"
	case errors.Is(err, rating.ErrNoConvergence), errors.Is(err, rating.ErrInvalidState):
		return "rating"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "store"
	}
}
