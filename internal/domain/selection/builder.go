package selection

import (
	"sort"

	"github.com/okian/duel/internal/domain/model"
)

const (
	// DefaultMaxSize bounds the number of cached entries.
	DefaultMaxSize = 100_000

	maxScore = 100
	minScore = 1
)

// Entry pairs an image with its sampling weight.
type Entry struct {
	Image model.ImageRecord
	Score float64
}

// Score is the sampling weight of an image with the given battle count.
// Fresh images are favoured; the floor keeps veterans in rotation.
func Score(battles int) float64 {
	return float64(max(maxScore-battles, minScore))
}

// NewEntry builds an entry scored from the image's battle count.
func NewEntry(img model.ImageRecord) Entry {
	return Entry{Image: img, Score: Score(img.Battles)}
}

// Builder accumulates a bounded, score-descending entry list.
// It is not safe for concurrent use; the Cache publishes finished builders.
type Builder struct {
	maxSize int
	entries []Entry
}

// NewBuilder creates an empty builder holding at most maxSize entries.
func NewBuilder(maxSize int) *Builder {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Builder{maxSize: maxSize}
}

// Add inserts e keeping entries sorted by score descending. An existing
// entry stays ahead of e only if its score is strictly greater. When the
// builder overflows, the lowest-score entry is dropped. Add reports whether
// e is still present afterwards.
func (b *Builder) Add(e Entry) bool {
	idx := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].Score <= e.Score
	})

	b.entries = append(b.entries, Entry{})
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = e

	if len(b.entries) > b.maxSize {
		b.entries[len(b.entries)-1] = Entry{}
		b.entries = b.entries[:b.maxSize]
	}
	return idx < b.maxSize
}

// AddMultiple inserts entries in order and returns how many were kept.
func (b *Builder) AddMultiple(entries []Entry) int {
	kept := 0
	for _, e := range entries {
		if b.Add(e) {
			kept++
		}
	}
	return kept
}

// Remove drops every entry whose image id is in ids and returns how many
// were dropped. Score order is preserved.
func (b *Builder) Remove(ids ...string) int {
	if len(ids) == 0 || len(b.entries) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := b.entries[:0]
	for _, e := range b.entries {
		if _, ok := drop[e.Image.ID]; !ok {
			kept = append(kept, e)
		}
	}
	removed := len(b.entries) - len(kept)
	clear(b.entries[len(kept):])
	b.entries = kept
	return removed
}

// Size returns the number of entries.
func (b *Builder) Size() int {
	return len(b.entries)
}

// MaxSize returns the capacity.
func (b *Builder) MaxSize() int {
	return b.maxSize
}

// Clear removes all entries.
func (b *Builder) Clear() {
	b.entries = nil
}

// Entries returns a copy of the entries in score order.
func (b *Builder) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}
