// Package simulate drives a running duel service over HTTP with images of a
// known hidden quality and checks that the ratings recover that order.
package simulate

import (
	"fmt"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Images         int           // Number of images to seed
	Owners         int           // Number of distinct owners the images are spread over
	Battles        int           // Number of battles to submit
	Workers        int           // Number of concurrent workers
	Timeout        time.Duration // HTTP request timeout
	Gender         model.Gender  // Restrict candidates to one gender; empty mixes both
	Leaderboard    string        // Leaderboard key to verify
	Noise          float64       // Logistic noise on outcomes; 0 means the better image always wins
	MinCorrelation float64       // Minimum Spearman correlation between rating and quality
	Seed           int64         // Seed for qualities and outcomes
	Prefix         string        // Image id prefix, to keep runs apart
}

// Validate checks the configuration before any request is sent.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrConfig)
	case c.Images < 2:
		return fmt.Errorf("%w: need at least 2 images", ErrConfig)
	case c.Owners < 2 || c.Owners > c.Images:
		return fmt.Errorf("%w: owners must be in [2,%d]", ErrConfig, c.Images)
	case c.Battles < 1:
		return fmt.Errorf("%w: need at least 1 battle", ErrConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: need at least 1 worker", ErrConfig)
	case c.Gender != "" && !c.Gender.Valid():
		return fmt.Errorf("%w: unknown gender %q", ErrConfig, c.Gender)
	case c.Leaderboard == "":
		return fmt.Errorf("%w: leaderboard key is required", ErrConfig)
	case c.Noise < 0:
		return fmt.Errorf("%w: noise must not be negative", ErrConfig)
	case c.MinCorrelation < -1 || c.MinCorrelation > 1:
		return fmt.Errorf("%w: min correlation must be in [-1,1]", ErrConfig)
	}
	return nil
}

// Report holds run statistics.
type Report struct {
	ImagesSeeded      int
	BattlesSubmitted  int
	BattlesSuccessful int
	BattlesFailed     int
	Insufficient      int
	RateLimited       int
	LeaderboardSize   int
	Correlation       float64
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
