package storage

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"async-tournament-system/models"
)

// Postgres unique_violation.
const pgUniqueViolation = "23505"

// GormStore persists everything in Postgres.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) CreateTournament(t *models.Tournament) error {
	return translate(s.DB.Create(t).Error)
}

func (s *GormStore) GetTournament(id string) (*models.Tournament, error) {
	var t models.Tournament
	err := s.DB.Preload("Pools.Permalinks", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	}).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) GetTournamentByChannel(channelID string) (*models.Tournament, error) {
	var t models.Tournament
	err := s.DB.Preload("Pools.Permalinks", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	}).Where("channel_id = ?", channelID).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *GormStore) UpdateTournament(t *models.Tournament) error {
	return s.DB.Save(t).Error
}

func (s *GormStore) ListActiveTournaments() ([]models.Tournament, error) {
	var out []models.Tournament
	err := s.DB.Preload("Pools.Permalinks", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	}).Where("active = ?", true).Find(&out).Error
	return out, err
}

func (s *GormStore) CreatePool(p *models.PermalinkPool) error {
	return s.DB.Create(p).Error
}

func (s *GormStore) AddPermalinks(links []models.Permalink) error {
	if len(links) == 0 {
		return nil
	}
	return s.DB.Create(&links).Error
}

func (s *GormStore) GetUser(id string) (*models.User, error) {
	var u models.User
	if err := s.DB.Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) GetOrCreateUserByDiscordID(discordID, displayName string) (*models.User, error) {
	var u models.User
	err := s.DB.Where("discord_user_id = ?", discordID).First(&u).Error
	if err == nil {
		if displayName != "" && u.DisplayName != displayName {
			u.DisplayName = displayName
			if err := s.DB.Save(&u).Error; err != nil {
				return nil, err
			}
		}
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	u = models.User{
		ID:            uuid.NewString(),
		DiscordUserID: discordID,
		DisplayName:   displayName,
	}
	if err := s.DB.Create(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) GetUserByRacetimeID(racetimeID string) (*models.User, error) {
	var u models.User
	if err := s.DB.Where("racetime_id = ?", racetimeID).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) UpdateUser(u *models.User) error {
	return s.DB.Save(u).Error
}

func (s *GormStore) CreateRace(r *models.Race) error {
	return s.DB.Create(r).Error
}

func (s *GormStore) GetRace(id string) (*models.Race, error) {
	var r models.Race
	err := s.DB.Preload("User").Preload("Permalink").Where("id = ?", id).First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *GormStore) GetRaceByThread(threadID string) (*models.Race, error) {
	var r models.Race
	err := s.DB.Preload("User").Preload("Permalink").Where("thread_id = ?", threadID).First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *GormStore) ListRacesByUser(tournamentID, userID string) ([]models.Race, error) {
	var out []models.Race
	err := s.DB.Preload("Permalink").
		Where("tournament_id = ? AND user_id = ?", tournamentID, userID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListRacesForTournament(tournamentID string) ([]models.Race, error) {
	var out []models.Race
	err := s.DB.Preload("User").Preload("Permalink").
		Where("tournament_id = ?", tournamentID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListRacesWithStatus(status models.RaceStatus) ([]models.Race, error) {
	var out []models.Race
	err := s.DB.Preload("Tournament").Preload("User").
		Where("status = ?", status).
		Find(&out).Error
	return out, err
}

func (s *GormStore) UpdateRace(r *models.Race) error {
	return s.DB.Save(r).Error
}

func (s *GormStore) TransitionRace(id string, allowedFrom []models.RaceStatus, apply func(r *models.Race) error) (*models.Race, error) {
	var out *models.Race
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var r models.Race
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&r).Error
		if err != nil {
			return translate(err)
		}
		if !statusAllowed(r.Status, allowedFrom) {
			return ErrStaleTransition
		}
		if err := apply(&r); err != nil {
			return err
		}
		if err := tx.Save(&r).Error; err != nil {
			return err
		}
		out = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) CreateLiveRace(lr *models.LiveRace) error {
	return translate(s.DB.Create(lr).Error)
}

func (s *GormStore) GetLiveRaceBySlug(slug string) (*models.LiveRace, error) {
	var lr models.LiveRace
	if err := s.DB.Where("racetime_slug = ?", slug).First(&lr).Error; err != nil {
		return nil, translate(err)
	}
	return &lr, nil
}

func (s *GormStore) UpdateLiveRace(lr *models.LiveRace) error {
	return s.DB.Save(lr).Error
}

func (s *GormStore) ListRacesByLiveRace(liveRaceID string) ([]models.Race, error) {
	var out []models.Race
	err := s.DB.Preload("User").Where("live_race_id = ?", liveRaceID).Find(&out).Error
	return out, err
}

func (s *GormStore) GrantPermission(p *models.Permission) error {
	return translate(s.DB.Create(p).Error)
}

func (s *GormStore) HasPermission(tournamentID, userID string, roles ...string) (bool, error) {
	var count int64
	err := s.DB.Model(&models.Permission{}).
		Where("tournament_id = ? AND user_id = ? AND role IN ?", tournamentID, userID, roles).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) AddWhitelistEntry(w *models.WhitelistEntry) error {
	return translate(s.DB.Create(w).Error)
}

func (s *GormStore) IsWhitelisted(tournamentID, userID string) (bool, error) {
	var count int64
	err := s.DB.Model(&models.WhitelistEntry{}).
		Where("tournament_id = ? AND user_id = ?", tournamentID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) AppendAudit(entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return s.DB.Create(entry).Error
}

func (s *GormStore) ListAudit(tournamentID string, limit int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	q := s.DB.Where("tournament_id = ?", tournamentID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
