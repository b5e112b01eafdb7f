package model

import "time"

// BattleRecord is the immutable history entry for one resolved battle.
type BattleRecord struct {
	ID               string      `json:"id"`
	WinnerImageID    string      `json:"winner_image_id"`
	LoserImageID     string      `json:"loser_image_id"`
	WinnerOwnerID    string      `json:"winner_owner_id"`
	LoserOwnerID     string      `json:"loser_owner_id"`
	WinnerBefore     RatingState `json:"winner_before"`
	WinnerAfter      RatingState `json:"winner_after"`
	LoserBefore      RatingState `json:"loser_before"`
	LoserAfter       RatingState `json:"loser_after"`
	VoterID          string      `json:"voter_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	AlgorithmVersion string      `json:"algorithm_version"`
}

// WinnerDelta is the rating change applied to the winner.
func (b BattleRecord) WinnerDelta() float64 {
	return b.WinnerAfter.Rating - b.WinnerBefore.Rating
}

// LoserDelta is the rating change applied to the loser.
func (b BattleRecord) LoserDelta() float64 {
	return b.LoserAfter.Rating - b.LoserBefore.Rating
}
