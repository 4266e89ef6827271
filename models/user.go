package models

// User is a known runner. Rows are created lazily on first contact from the
// chat transport and enriched as external identities get linked.
type User struct {
	ID            string  `json:"id" gorm:"primaryKey"`
	DiscordUserID string  `json:"discord_user_id" gorm:"uniqueIndex;not null"`
	DisplayName   string  `json:"display_name"`
	RacetimeID    *string `json:"rtgg_id,omitempty" gorm:"index"`
	TwitchName    string  `json:"twitch_name,omitempty"`

	Timestamps
}
