package repository

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/okian/duel/internal/domain/model"
)

// rankAll indexes every eligible image regardless of gender.
const rankAll model.Gender = ""

// MemoryStore is an in-process Store. Transactions hold the write lock for
// their whole duration, so they are serializable and never conflict.
type MemoryStore struct {
	mu     sync.RWMutex
	opts   options
	closed bool

	images map[string]model.ImageRecord
	bySeed *treap
	// byRating holds one index per gender plus rankAll.
	byRating map[model.Gender]*treap

	battles      []model.BattleRecord
	leaderboards map[string]model.LeaderboardDocument
	meta         *model.GlobalMetadata
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := newOptions(opts)
	rng := rand.New(rand.NewSource(o.seed)) //nolint:gosec // treap priorities need no crypto strength
	return &MemoryStore{
		opts:   o,
		images: make(map[string]model.ImageRecord),
		bySeed: newTreap(rng),
		byRating: map[model.Gender]*treap{
			rankAll:            newTreap(rng),
			model.GenderMale:   newTreap(rng),
			model.GenderFemale: newTreap(rng),
		},
		leaderboards: make(map[string]model.LeaderboardDocument),
	}
}

// GetImage implements Store.
func (s *MemoryStore) GetImage(_ context.Context, id string) (model.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.ImageRecord{}, ErrClosed
	}
	img, ok := s.images[id]
	if !ok {
		return model.ImageRecord{}, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	return img, nil
}

// PutImage implements Store.
func (s *MemoryStore) PutImage(_ context.Context, img model.ImageRecord) error {
	if err := validateImage(img); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.putLocked(img)
	return nil
}

// putLocked replaces an image and its index entries. Caller holds mu.
func (s *MemoryStore) putLocked(img model.ImageRecord) {
	if old, ok := s.images[img.ID]; ok && old.Eligible() {
		s.bySeed.Delete(old.RandomSeed, old.ID)
		for _, t := range s.ratingIndexes(old.Gender) {
			t.Delete(old.Rating.Rating, old.ID)
		}
	}
	s.images[img.ID] = img
	if img.Eligible() {
		s.bySeed.Insert(img.RandomSeed, img.ID)
		for _, t := range s.ratingIndexes(img.Gender) {
			t.Insert(img.Rating.Rating, img.ID)
		}
	}
}

func (s *MemoryStore) ratingIndexes(g model.Gender) []*treap {
	if t, ok := s.byRating[g]; ok && g != rankAll {
		return []*treap{s.byRating[rankAll], t}
	}
	return []*treap{s.byRating[rankAll]}
}

// Update implements Store. Writes are staged and applied only when fn succeeds.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memoryTx{store: s, staged: make(map[string]model.ImageRecord)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit aborted: %w", err)
	}

	for _, img := range tx.order {
		s.putLocked(tx.staged[img])
	}
	s.battles = append(s.battles, tx.battles...)
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	staged  map[string]model.ImageRecord
	order   []string
	battles []model.BattleRecord
}

func (t *memoryTx) GetImage(_ context.Context, id string) (model.ImageRecord, error) {
	if img, ok := t.staged[id]; ok {
		return img, nil
	}
	img, ok := t.store.images[id]
	if !ok {
		return model.ImageRecord{}, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	return img, nil
}

func (t *memoryTx) PutImage(_ context.Context, img model.ImageRecord) error {
	if err := validateImage(img); err != nil {
		return err
	}
	if _, ok := t.staged[img.ID]; !ok {
		t.order = append(t.order, img.ID)
	}
	t.staged[img.ID] = img
	return nil
}

func (t *memoryTx) AppendBattle(_ context.Context, b model.BattleRecord) error {
	if b.ID == "" {
		return fmt.Errorf("%w: battle without id", ErrInvalidImage)
	}
	t.battles = append(t.battles, b)
	return nil
}

// ScanPool implements Store.
func (s *MemoryStore) ScanPool(_ context.Context, after model.PoolCursor, limit int) ([]model.ImageRecord, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]model.ImageRecord, 0, min(limit, s.bySeed.Len()))
	s.bySeed.AscendAfter(after.Seed, after.ID, func(id string) bool {
		out = append(out, s.images[id])
		return len(out) < limit
	})
	return out, nil
}

// CountPool implements Store.
func (s *MemoryStore) CountPool(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.bySeed.Len(), nil
}

// QueryRanked implements Store.
func (s *MemoryStore) QueryRanked(_ context.Context, gender model.Gender, dir model.Direction, limit int) ([]model.ImageRecord, error) {
	if err := validateRankQuery(gender, dir, limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	idx := s.byRating[gender]
	out := make([]model.ImageRecord, 0, min(limit, idx.Len()))
	visit := func(id string) bool {
		out = append(out, s.images[id])
		return len(out) < limit
	}
	if dir == model.DirectionTop {
		idx.Descend(visit)
	} else {
		idx.Ascend(visit)
	}
	return out, nil
}

// ListBattles implements Store.
func (s *MemoryStore) ListBattles(_ context.Context, limit int) ([]model.BattleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := len(s.battles)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.BattleRecord, n)
	copy(out, s.battles[:n])
	return out, nil
}

// GetLeaderboard implements Store.
func (s *MemoryStore) GetLeaderboard(_ context.Context, key string) (model.LeaderboardDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.leaderboards[key]
	if !ok {
		return model.LeaderboardDocument{}, fmt.Errorf("leaderboard %s: %w", key, ErrNotFound)
	}
	return doc, nil
}

// PutLeaderboard implements Store.
func (s *MemoryStore) PutLeaderboard(_ context.Context, doc model.LeaderboardDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	entries := make([]model.LeaderboardEntry, len(doc.Entries))
	copy(entries, doc.Entries)
	doc.Entries = entries
	s.leaderboards[doc.Key] = doc
	return nil
}

// GetMetadata implements Store.
func (s *MemoryStore) GetMetadata(_ context.Context) (model.GlobalMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return model.GlobalMetadata{}, fmt.Errorf("global metadata: %w", ErrNotFound)
	}
	return *s.meta, nil
}

// PutMetadata implements Store.
func (s *MemoryStore) PutMetadata(_ context.Context, meta model.GlobalMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.meta = &meta
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
