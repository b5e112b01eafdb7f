// Package selection serves battle candidates from an in-memory, score-weighted
// snapshot of the pool and keeps that snapshot fresh from the store.
package selection

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/duel/internal/domain/model"
	"github.com/okian/duel/pkg/metrics"
)

// Predicate filters candidates, e.g. by gender.
type Predicate func(model.ImageRecord) bool

// snapshot is an immutable, score-descending entry list.
type snapshot struct {
	entries []Entry
}

// Cache holds the active selection snapshot. Reads never block: they load
// the current snapshot pointer. Writers build a new snapshot and swap it in.
type Cache struct {
	maxSize int
	random  func() float64

	active atomic.Pointer[snapshot]
	// writeMu serializes writers so copy-and-swap updates are not lost.
	writeMu sync.Mutex
}

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		maxSize: DefaultMaxSize,
		random:  rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.active.Store(&snapshot{})
	return c
}

// MaxSize returns the cache capacity.
func (c *Cache) MaxSize() int {
	return c.maxSize
}

// NewBuilder returns an empty builder sized for this cache. Fill it and hand
// it to Replace to publish it as the next snapshot.
func (c *Cache) NewBuilder() *Builder {
	return NewBuilder(c.maxSize)
}

// Replace atomically publishes the builder's entries as the active snapshot.
// The builder must not be used afterwards.
func (c *Cache) Replace(b *Builder) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.publish(b)
}

func (c *Cache) publish(b *Builder) {
	c.active.Store(&snapshot{entries: b.entries})
	b.entries = nil
	metrics.UpdateCacheSize(len(c.active.Load().entries))
}

// mutate applies fn to a copy of the active snapshot and publishes the result.
func (c *Cache) mutate(fn func(b *Builder)) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur := c.active.Load().entries
	b := &Builder{maxSize: c.maxSize, entries: make([]Entry, len(cur), len(cur)+1)}
	copy(b.entries, cur)
	fn(b)
	c.publish(b)
}

// Add inserts one entry, replacing any entry for the same image, and
// reports whether it survived eviction.
func (c *Cache) Add(e Entry) bool {
	var kept bool
	c.mutate(func(b *Builder) {
		b.Remove(e.Image.ID)
		kept = b.Add(e)
	})
	return kept
}

// AddMultiple inserts entries in order and returns how many were kept.
// An image already cached is replaced rather than duplicated.
func (c *Cache) AddMultiple(entries []Entry) int {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Image.ID
	}
	var kept int
	c.mutate(func(b *Builder) {
		b.Remove(ids...)
		kept = b.AddMultiple(entries)
	})
	return kept
}

// Remove drops the given images from the active snapshot.
func (c *Cache) Remove(ids ...string) int {
	var removed int
	c.mutate(func(b *Builder) { removed = b.Remove(ids...) })
	return removed
}

// Size returns the number of entries in the active snapshot.
func (c *Cache) Size() int {
	return len(c.active.Load().entries)
}

// Clear publishes an empty snapshot.
func (c *Cache) Clear() {
	c.Replace(c.NewBuilder())
}

// Entries returns a copy of the active snapshot in score order.
func (c *Cache) Entries() []Entry {
	cur := c.active.Load().entries
	out := make([]Entry, len(cur))
	copy(out, cur)
	return out
}

// WeightedSample draws count images with probability proportional to score,
// never returning two images of the same owner. Once an owner is drawn all of
// that owner's weight leaves the pool for the rest of the call. If the
// filtered population runs out first, ErrInsufficientCandidates is returned.
func (c *Cache) WeightedSample(count int, pred Predicate) ([]model.ImageRecord, error) {
	start := time.Now()
	if count <= 0 {
		metrics.RecordSelection("invalid", 0)
		return nil, fmt.Errorf("%w: %w", model.ErrValidation, ErrInvalidCount)
	}

	entries := c.active.Load().entries
	candidates := make([]Entry, 0, len(entries))
	ownerWeight := make(map[string]float64)
	total := 0.0
	for _, e := range entries {
		if pred != nil && !pred(e.Image) {
			continue
		}
		candidates = append(candidates, e)
		ownerWeight[e.Image.OwnerID] += e.Score
		total += e.Score
	}

	used := make(map[string]struct{}, count)
	out := make([]model.ImageRecord, 0, count)
	for len(out) < count {
		r := c.random() * total
		pick, last := -1, -1
		cum := 0.0
		for i := range candidates {
			if _, ok := used[candidates[i].Image.OwnerID]; ok {
				continue
			}
			last = i
			cum += candidates[i].Score
			if cum >= r {
				pick = i
				break
			}
		}
		if pick < 0 {
			// Rounding can leave r just above the final cumulative sum.
			pick = last
		}
		if pick < 0 {
			break
		}

		img := candidates[pick].Image
		out = append(out, img)
		used[img.OwnerID] = struct{}{}
		total -= ownerWeight[img.OwnerID]
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if len(out) < count {
		metrics.RecordSelection("insufficient", elapsed)
		return nil, fmt.Errorf("%w: wanted %d, found %d distinct owners", model.ErrInsufficientCandidates, count, len(out))
	}
	metrics.RecordSelection("ok", elapsed)
	return out, nil
}
