package models

// LiveRace links a racetime.gg room to the async races that were attached to
// it. Status mirrors the saved room state, not the remote one.
type LiveRace struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"index;not null"`
	PermalinkID  string `json:"permalink_id" gorm:"index;not null"`
	RacetimeSlug string `json:"racetime_slug" gorm:"uniqueIndex;not null"`
	Status       string `json:"status" gorm:"default:in_progress"`

	Races []Race `json:"races,omitempty" gorm:"foreignKey:LiveRaceID"`

	Timestamps
}
