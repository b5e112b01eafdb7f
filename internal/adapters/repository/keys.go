package repository

import (
	"encoding/binary"
	"math"

	"github.com/okian/duel/internal/domain/model"
)

// Key layout shared by key-value backends.
const (
	prefixImage       = "img/"
	prefixSeed        = "seed/"
	prefixRating      = "rating/"
	prefixBattle      = "battle/"
	prefixLeaderboard = "lb/"
	keyMetadata       = "meta/global"

	ratingAll = "all"
	floatLen  = 8
)

// sortableFloat encodes f so that byte order matches numeric order.
func sortableFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	var b [floatLen]byte
	binary.BigEndian.PutUint64(b[:], bits)
	return b[:]
}

func imageKey(id string) []byte {
	return []byte(prefixImage + id)
}

func seedKey(seed float64, id string) []byte {
	k := make([]byte, 0, len(prefixSeed)+floatLen+len(id))
	k = append(k, prefixSeed...)
	k = append(k, sortableFloat(seed)...)
	return append(k, id...)
}

func ratingPrefix(g model.Gender) []byte {
	part := string(g)
	if part == "" {
		part = ratingAll
	}
	return []byte(prefixRating + part + "/")
}

func ratingKey(g model.Gender, rating float64, id string) []byte {
	p := ratingPrefix(g)
	k := make([]byte, 0, len(p)+floatLen+len(id))
	k = append(k, p...)
	k = append(k, sortableFloat(rating)...)
	return append(k, id...)
}

// indexKeys lists the secondary index keys an eligible image occupies.
func indexKeys(img model.ImageRecord) [][]byte {
	if !img.Eligible() {
		return nil
	}
	keys := [][]byte{
		seedKey(img.RandomSeed, img.ID),
		ratingKey("", img.Rating.Rating, img.ID),
	}
	if img.Gender != "" {
		keys = append(keys, ratingKey(img.Gender, img.Rating.Rating, img.ID))
	}
	return keys
}

// battleKey orders battles by commit sequence.
func battleKey(seq uint64, id string) []byte {
	k := make([]byte, 0, len(prefixBattle)+8+len(id))
	k = append(k, prefixBattle...)
	k = binary.BigEndian.AppendUint64(k, seq)
	return append(k, id...)
}

func leaderboardKey(key string) []byte {
	return []byte(prefixLeaderboard + key)
}

// idFromIndexKey strips the prefix and encoded float from an index key.
func idFromIndexKey(key []byte, prefixLen int) string {
	return string(key[prefixLen+floatLen:])
}
