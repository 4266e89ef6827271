package storage

import (
	"errors"

	"async-tournament-system/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrStaleTransition is returned by TransitionRace when the race is no
	// longer in one of the allowed source states.
	ErrStaleTransition = errors.New("storage: stale transition")
)

// Store is the persistence boundary for the tournament engine. The gorm
// implementation backs production, the memory implementation backs tests.
type Store interface {
	// Tournaments
	CreateTournament(t *models.Tournament) error
	GetTournament(id string) (*models.Tournament, error)
	GetTournamentByChannel(channelID string) (*models.Tournament, error)
	UpdateTournament(t *models.Tournament) error
	ListActiveTournaments() ([]models.Tournament, error)

	// Pools and permalinks
	CreatePool(p *models.PermalinkPool) error
	AddPermalinks(links []models.Permalink) error

	// Users
	GetUser(id string) (*models.User, error)
	GetOrCreateUserByDiscordID(discordID, displayName string) (*models.User, error)
	GetUserByRacetimeID(racetimeID string) (*models.User, error)
	UpdateUser(u *models.User) error

	// Races
	CreateRace(r *models.Race) error
	GetRace(id string) (*models.Race, error)
	GetRaceByThread(threadID string) (*models.Race, error)
	ListRacesByUser(tournamentID, userID string) ([]models.Race, error)
	ListRacesForTournament(tournamentID string) ([]models.Race, error)
	ListRacesWithStatus(status models.RaceStatus) ([]models.Race, error)
	UpdateRace(r *models.Race) error

	// TransitionRace atomically moves a race between lifecycle states. The
	// race must currently be in one of allowedFrom or ErrStaleTransition is
	// returned and nothing is written. apply mutates the row inside the
	// transaction and may abort it by returning an error.
	TransitionRace(id string, allowedFrom []models.RaceStatus, apply func(r *models.Race) error) (*models.Race, error)

	// Live races
	CreateLiveRace(lr *models.LiveRace) error
	GetLiveRaceBySlug(slug string) (*models.LiveRace, error)
	UpdateLiveRace(lr *models.LiveRace) error
	ListRacesByLiveRace(liveRaceID string) ([]models.Race, error)

	// Permissions and whitelist
	GrantPermission(p *models.Permission) error
	HasPermission(tournamentID, userID string, roles ...string) (bool, error)
	AddWhitelistEntry(w *models.WhitelistEntry) error
	IsWhitelisted(tournamentID, userID string) (bool, error)

	// Audit trail
	AppendAudit(entry *models.AuditLog) error
	ListAudit(tournamentID string, limit int) ([]models.AuditLog, error)
}

func statusAllowed(current models.RaceStatus, allowed []models.RaceStatus) bool {
	for _, s := range allowed {
		if current == s {
			return true
		}
	}
	return false
}
