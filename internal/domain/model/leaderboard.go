package model

import "time"

// Direction selects the rating order of a leaderboard.
type Direction string

const (
	DirectionTop    Direction = "top"
	DirectionBottom Direction = "bottom"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionTop || d == DirectionBottom
}

// Run status values stored in GlobalMetadata.
const (
	RunSuccess = "success"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// LeaderboardConfig is one configured criterion. An empty Gender ranks the whole pool.
type LeaderboardConfig struct {
	Key       string    `json:"key" koanf:"key" validate:"required"`
	Gender    Gender    `json:"gender,omitempty" koanf:"gender" validate:"omitempty,oneof=male female"`
	Direction Direction `json:"direction" koanf:"direction" validate:"required,oneof=top bottom"`
	Limit     int       `json:"limit" koanf:"limit" validate:"min=1,max=1000"`
}

// LeaderboardEntry is one ranked image.
type LeaderboardEntry struct {
	Rank    int     `json:"rank"`
	ImageID string  `json:"image_id"`
	OwnerID string  `json:"owner_id"`
	Rating  float64 `json:"rating"`
	RD      float64 `json:"rd"`
	Battles int     `json:"battles"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
}

// LeaderboardStats summarizes the ratings of the ranked set.
type LeaderboardStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// DataQuality flags conditions a consumer may want to surface.
type DataQuality struct {
	Underfilled     bool `json:"underfilled"`
	HighUncertainty int  `json:"high_uncertainty"`
}

// LeaderboardDocument is a derived snapshot, replaced wholesale on each regeneration.
type LeaderboardDocument struct {
	Key              string             `json:"key"`
	Config           LeaderboardConfig  `json:"config"`
	Entries          []LeaderboardEntry `json:"entries"`
	Stats            LeaderboardStats   `json:"stats"`
	Quality          DataQuality        `json:"quality"`
	GeneratedAt      time.Time          `json:"generated_at"`
	FirstGeneratedAt time.Time          `json:"first_generated_at"`
	UpdateCount      int                `json:"update_count"`
	ConfigVersion    string             `json:"config_version"`
}

// GlobalMetadata summarizes the most recent regeneration run.
type GlobalMetadata struct {
	LastGeneratedAt time.Time `json:"last_generated_at"`
	ConfigVersion   string    `json:"config_version"`
	LastRunStatus   string    `json:"last_run_status"`
	Processed       int       `json:"processed"`
	Failed          int       `json:"failed"`
	LastError       string    `json:"last_error,omitempty"`
	Leaderboards    []string  `json:"leaderboards"`
}
