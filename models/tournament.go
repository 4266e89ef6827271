package models

// Tournament is an asynchronous qualifier bound to a single Discord channel.
// It is never physically deleted; closing a tournament flips Active to false.
type Tournament struct {
	ID              string `json:"id" gorm:"primaryKey"`
	Name            string `json:"name" gorm:"not null"`
	Active          bool   `json:"active" gorm:"default:true"`
	GuildID         string `json:"guild_id" gorm:"index"`
	ChannelID       string `json:"channel_id" gorm:"uniqueIndex;not null"`
	ReportChannelID string `json:"report_channel_id,omitempty"`
	OwnerID         string `json:"owner_id" gorm:"not null"` // Discord user id of the operator who created it

	// Customization selects alternate runner-facing messaging (e.g. IGT-based events).
	Customization     string `json:"customization,omitempty"`
	RunsPerPool       int    `json:"runs_per_pool" gorm:"default:1"`
	AllowedReattempts int    `json:"allowed_reattempts" gorm:"default:1"`

	Pools []PermalinkPool `json:"pools,omitempty" gorm:"foreignKey:TournamentID"`
	Races []Race          `json:"races,omitempty" gorm:"foreignKey:TournamentID"`

	Timestamps
}

// PermalinkPool is a named group of interchangeable seed permalinks.
// Pool names are unique within a tournament.
type PermalinkPool struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"not null;index;uniqueIndex:idx_pool_tournament_name"`
	Name         string `json:"name" gorm:"not null;uniqueIndex:idx_pool_tournament_name"`
	Preset       string `json:"preset"`

	Permalinks []Permalink `json:"permalinks,omitempty" gorm:"foreignKey:PoolID"`

	Timestamps
}

// Permalink is a single opaque reference to one generated game seed.
type Permalink struct {
	ID     string `json:"id" gorm:"primaryKey"`
	PoolID string `json:"pool_id" gorm:"not null;index"`
	URL    string `json:"url" gorm:"not null"`
	Notes  string `json:"notes,omitempty"`
	// LiveRace marks permalinks sourced from a real-time qualifier rather
	// than pre-generated for async play.
	LiveRace bool `json:"live_race" gorm:"default:false"`

	Pool  PermalinkPool `json:"pool,omitempty" gorm:"foreignKey:PoolID"`
	Races []Race        `json:"races,omitempty" gorm:"foreignKey:PermalinkID"`

	Timestamps
}

// Permission grants a user admin or mod capabilities for one tournament.
type Permission struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"not null;index;uniqueIndex:idx_perm_triple"`
	UserID       string `json:"user_id" gorm:"not null;index;uniqueIndex:idx_perm_triple"`
	Role         string `json:"role" gorm:"not null;uniqueIndex:idx_perm_triple"` // admin, mod

	Timestamps
}

const (
	RoleAdmin = "admin"
	RoleMod   = "mod"
)

// WhitelistEntry is an early-access grant bypassing the account-age gate.
type WhitelistEntry struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"not null;index;uniqueIndex:idx_whitelist_pair"`
	UserID       string `json:"user_id" gorm:"not null;uniqueIndex:idx_whitelist_pair"`

	Timestamps
}
