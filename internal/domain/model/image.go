// Package model contains domain models passed between layers.
package model

import (
	"time"
)

// Scale conversion constants between the display rating scale and the
// internal Glicko-2 scale.
const (
	RatingScale   = 173.7178
	DefaultRating = 1500.0
)

// Gender is the pool partition an image competes in.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Valid reports whether g is a known gender.
func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// ImageStatus is the moderation status set upstream.
type ImageStatus string

const (
	StatusPending ImageStatus = "pending"
	StatusActive  ImageStatus = "active"
)

// RatingState is the Glicko-2 state of one image.
// Mu and Phi always mirror Rating and RD on the internal scale.
type RatingState struct {
	Rating       float64   `json:"rating"`
	RD           float64   `json:"rd"`
	Volatility   float64   `json:"volatility"`
	Mu           float64   `json:"mu"`
	Phi          float64   `json:"phi"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// NewRatingState builds a state from display-scale values and derives mu/phi.
func NewRatingState(rating, rd, volatility float64, at time.Time) RatingState {
	return RatingState{
		Rating:       rating,
		RD:           rd,
		Volatility:   volatility,
		Mu:           (rating - DefaultRating) / RatingScale,
		Phi:          rd / RatingScale,
		LastUpdateAt: at,
	}
}

// ImageRecord is the persistent record of one battling image.
type ImageRecord struct {
	ID         string      `json:"id"`
	OwnerID    string      `json:"owner_id"`
	Gender     Gender      `json:"gender"`
	Battles    int         `json:"battles"`
	Wins       int         `json:"wins"`
	Losses     int         `json:"losses"`
	Draws      int         `json:"draws"`
	Rating     RatingState `json:"rating"`
	InPool     bool        `json:"in_pool"`
	RandomSeed float64     `json:"random_seed"`
	Status     ImageStatus `json:"status,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Eligible reports whether the image may be offered for battles.
func (r ImageRecord) Eligible() bool {
	return r.InPool && r.Status != StatusPending
}

// PoolCursor is a position in the (RandomSeed, ID) ordering of pool images.
// The zero cursor with Seed < 0 sorts before every image.
type PoolCursor struct {
	Seed float64
	ID   string
}

// Before reports whether c sorts strictly before the image position (seed, id).
func (c PoolCursor) Before(seed float64, id string) bool {
	if c.Seed != seed {
		return c.Seed < seed
	}
	return c.ID < id
}

// StartCursor sorts before every pool image.
var StartCursor = PoolCursor{Seed: -1}
