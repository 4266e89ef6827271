// services/query_service.go
package services

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"async-tournament-system/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// QueryService is the read-only JSON API consumed by the website and the
// bot's slash commands. It reads the database directly.
type QueryService struct {
	DB      *gorm.DB
	Scoring *ScoringService
}

func NewQueryService(db *gorm.DB, scoring *ScoringService) *QueryService {
	return &QueryService{DB: db, Scoring: scoring}
}

func pagination(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(c.Query("page_size", strconv.Itoa(defaultPageSize)))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func (s *QueryService) ListTournaments(c *fiber.Ctx) error {
	q := s.DB.Model(&models.Tournament{})
	if active := c.Query("active"); active != "" {
		q = q.Where("active = ?", active == "true")
	}
	var out []models.Tournament
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list tournaments"})
	}
	return c.JSON(out)
}

func (s *QueryService) GetTournament(c *fiber.Ctx) error {
	var t models.Tournament
	err := s.DB.Preload("Pools.Permalinks").Where("id = ?", c.Params("id")).First(&t).Error
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
	}
	return c.JSON(t)
}

func (s *QueryService) ListPools(c *fiber.Ctx) error {
	var pools []models.PermalinkPool
	err := s.DB.Preload("Permalinks").
		Where("tournament_id = ?", c.Params("id")).
		Order("name ASC").
		Find(&pools).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list pools"})
	}
	return c.JSON(pools)
}

// GetPermalink returns one seed with its play history, newest score first.
func (s *QueryService) GetPermalink(c *fiber.Ctx) error {
	var p models.Permalink
	err := s.DB.Where("id = ?", c.Params("permalink_id")).First(&p).Error
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "permalink not found"})
	}
	var races []models.Race
	err = s.DB.Preload("User").
		Where("permalink_id = ? AND reattempted = ?", p.ID, false).
		Where("status IN ?", []models.RaceStatus{models.RaceStatusFinished, models.RaceStatusForfeit}).
		Order("score DESC").
		Find(&races).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list races"})
	}
	return c.JSON(fiber.Map{"permalink": p, "races": races})
}

// raceFilters are the optional query-string filters on the race listing.
type raceFilters struct {
	Status      string
	UserID      string
	PermalinkID string
	PoolID      string
}

func applyRaceFilters(q *gorm.DB, f raceFilters) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.PermalinkID != "" {
		q = q.Where("races.permalink_id = ?", f.PermalinkID)
	}
	if f.PoolID != "" {
		q = q.Joins("JOIN permalinks ON permalinks.id = races.permalink_id").
			Where("permalinks.pool_id = ?", f.PoolID)
	}
	return q
}

// ListRaces supports status, user_id, permalink_id and pool_id filters plus
// pagination.
func (s *QueryService) ListRaces(c *fiber.Ctx) error {
	page, size := pagination(c)

	q := s.DB.Model(&models.Race{}).
		Preload("User").Preload("Permalink").
		Where("tournament_id = ?", c.Params("id"))
	q = applyRaceFilters(q, raceFilters{
		Status:      c.Query("status"),
		UserID:      c.Query("user_id"),
		PermalinkID: c.Query("permalink_id"),
		PoolID:      c.Query("pool_id"),
	})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to count races"})
	}

	var races []models.Race
	err := q.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&races).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list races"})
	}

	return c.JSON(fiber.Map{
		"races":     races,
		"page":      page,
		"page_size": size,
		"total":     total,
	})
}

func (s *QueryService) GetRace(c *fiber.Ctx) error {
	var r models.Race
	err := s.DB.Preload("User").Preload("Permalink").Where("id = ?", c.Params("id")).First(&r).Error
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "race not found"})
	}
	return c.JSON(r)
}

func (s *QueryService) Leaderboard(c *fiber.Ctx) error {
	entries, err := s.Scoring.Leaderboard(c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to build leaderboard"})
	}
	return c.JSON(entries)
}

func (s *QueryService) ListAudit(c *fiber.Ctx) error {
	_, size := pagination(c)
	var out []models.AuditLog
	err := s.DB.Where("tournament_id = ?", c.Params("id")).
		Order("created_at DESC").
		Limit(size).
		Find(&out).Error
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list audit entries"})
	}
	return c.JSON(out)
}
