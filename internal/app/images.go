package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/duel/internal/adapters/counters"
	"github.com/okian/duel/internal/adapters/repository"
	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/internal/domain/selection"
	"github.com/okian/duel/pkg/logger"
)

// ImageUpsert is what the upload pipeline knows about an image. Ratings are
// owned by the battle ledger and are only seeded from the prior on create.
type ImageUpsert struct {
	ID           string            `json:"id" validate:"required,max=128"`
	OwnerID      string            `json:"owner_id" validate:"required,max=128"`
	Gender       model.Gender      `json:"gender" validate:"omitempty,oneof=male female"`
	InPool       bool              `json:"in_pool"`
	Status       model.ImageStatus `json:"status" validate:"omitempty,oneof=pending active"`
	PriorRating  float64           `json:"prior_rating" validate:"omitempty,min=0,max=4000"`
	PriorBattles int               `json:"prior_battles" validate:"min=0"`
}

// ImportResult counts what UpsertImages did.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

func (u ImageUpsert) validate() error {
	switch {
	case u.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidImport)
	case u.OwnerID == "":
		return fmt.Errorf("%w: image %s has no owner", ErrInvalidImport, u.ID)
	case u.Gender != "" && !u.Gender.Valid():
		return fmt.Errorf("%w: image %s: %q", ErrInvalidGender, u.ID, u.Gender)
	case u.InPool && u.Gender == "":
		return fmt.Errorf("%w: pooled image %s needs a gender", ErrInvalidImport, u.ID)
	case u.PriorBattles < 0:
		return fmt.Errorf("%w: image %s has negative prior battles", ErrInvalidImport, u.ID)
	}
	return nil
}

// UpsertImages creates or updates images one transaction per image. New
// images get a rating from the prior and a random pool position; existing
// images keep their rating, counters and position. Pool and total counters
// follow eligibility transitions, and so does the selection cache: images
// that became eligible join it at once and images that left the pool leave it.
func (s *Service) UpsertImages(ctx context.Context, images []ImageUpsert) (ImportResult, error) {
	if err := s.ready(); err != nil {
		return ImportResult{}, err
	}
	if len(images) > MaxImportBatch {
		return ImportResult{}, fmt.Errorf("%w: %d > %d", ErrTooManyImages, len(images), MaxImportBatch)
	}
	for _, u := range images {
		if err := u.validate(); err != nil {
			return ImportResult{}, err
		}
	}

	var (
		res     ImportResult
		changes cacheChanges
	)
	for _, u := range images {
		img, created, poolDelta, err := s.upsertOne(ctx, u)
		if err != nil {
			s.logger.Error(ctx, "image upsert failed", logger.String("image_id", u.ID), logger.Error(err))
			changes.apply(s.cache)
			return res, fmt.Errorf("upsert image %s: %w", u.ID, err)
		}
		if created {
			res.Created++
			s.bumpCounter(ctx, counters.TotalImages, 1)
		} else {
			res.Updated++
		}
		if poolDelta != 0 {
			s.bumpCounter(ctx, counters.PoolSize, poolDelta)
		}
		changes.record(img, poolDelta)
	}
	changes.apply(s.cache)

	s.logger.Info(ctx, "images upserted",
		logger.Int("created", res.Created),
		logger.Int("updated", res.Updated))
	return res, nil
}

func (s *Service) upsertOne(ctx context.Context, u ImageUpsert) (saved model.ImageRecord, created bool, poolDelta int64, err error) {
	status := u.Status
	if status == "" {
		status = model.StatusActive
	}
	seed := s.randomSeed()

	err = s.store.Update(ctx, func(tx repository.Tx) error {
		now := s.now()
		img, err := tx.GetImage(ctx, u.ID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			created = true
			img = model.ImageRecord{
				ID:         u.ID,
				Battles:    u.PriorBattles,
				Rating:     s.engine.Initialize(u.PriorRating, u.PriorBattles),
				RandomSeed: seed,
				CreatedAt:  now,
			}
		case err != nil:
			return err
		default:
			created = false
		}

		wasEligible := !created && img.Eligible()
		img.OwnerID = u.OwnerID
		img.Gender = u.Gender
		img.InPool = u.InPool
		img.Status = status
		img.UpdatedAt = now

		poolDelta = 0
		switch {
		case img.Eligible() && !wasEligible:
			poolDelta = 1
		case !img.Eligible() && wasEligible:
			poolDelta = -1
		}
		saved = img
		return tx.PutImage(ctx, img)
	})
	return saved, created, poolDelta, err
}

// cacheChanges collects the eligibility transitions of one import so the
// cache is rewritten once. The last transition of an image wins.
type cacheChanges struct {
	order []string
	final map[string]*selection.Entry
}

func (c *cacheChanges) record(img model.ImageRecord, poolDelta int64) {
	if poolDelta == 0 {
		return
	}
	if c.final == nil {
		c.final = make(map[string]*selection.Entry)
	}
	if _, seen := c.final[img.ID]; !seen {
		c.order = append(c.order, img.ID)
	}
	var e *selection.Entry
	if poolDelta > 0 {
		entry := selection.NewEntry(img)
		e = &entry
	}
	c.final[img.ID] = e
}

func (c *cacheChanges) apply(cache *selection.Cache) {
	var (
		gone  []string
		fresh []selection.Entry
	)
	for _, id := range c.order {
		if e := c.final[id]; e != nil {
			fresh = append(fresh, *e)
		} else {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		cache.Remove(gone...)
	}
	if len(fresh) > 0 {
		cache.AddMultiple(fresh)
	}
}

func (s *Service) randomSeed() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

// bumpCounter only logs failures; the image write has already committed.
func (s *Service) bumpCounter(ctx context.Context, name string, delta int64) {
	if _, err := s.counters.Add(ctx, name, delta); err != nil {
		s.logger.Warn(ctx, "counter update failed",
			logger.String("counter", name),
			logger.Int64("delta", delta),
			logger.Error(err))
	}
}
