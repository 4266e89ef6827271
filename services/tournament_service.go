package services

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"async-tournament-system/errors"
	"async-tournament-system/models"
	"async-tournament-system/storage"
	"async-tournament-system/utils"
)

// TournamentService exposes the admin HTTP surface: creating tournaments,
// topping up seed pools, permissions, whitelist and exports.
type TournamentService struct {
	Store   storage.Store
	Seeds   SeedGenerator
	Scoring *ScoringService
}

func NewTournamentService(store storage.Store, seeds SeedGenerator, scoring *ScoringService) *TournamentService {
	return &TournamentService{Store: store, Seeds: seeds, Scoring: scoring}
}

// respondErr renders an AppError with its mapped status, anything else as a
// plain 500.
func respondErr(c *fiber.Ctx, err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return c.Status(appErr.HTTPStatus()).JSON(fiber.Map{
			"error": appErr.UserMessage(),
			"code":  appErr.Code,
		})
	}
	log.Printf("❌ Unhandled error: %v", err)
	return c.Status(500).JSON(fiber.Map{"error": "internal error"})
}

// requireOwner restricts an operation to the tournament owner.
func (s *TournamentService) requireOwner(t *models.Tournament, actor actorRequest) error {
	if t.OwnerID != actor.DiscordUserID {
		return errors.Authorization("not_owner", "only the tournament owner may do this")
	}
	return nil
}

// requireAdmin passes for the owner and anyone holding an admin grant.
func (s *TournamentService) requireAdmin(t *models.Tournament, actor actorRequest) error {
	if t.OwnerID == actor.DiscordUserID {
		return nil
	}
	user, err := s.Store.GetOrCreateUserByDiscordID(actor.DiscordUserID, actor.DisplayName)
	if err != nil {
		return err
	}
	ok, err := s.Store.HasPermission(t.ID, user.ID, models.RoleAdmin)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Authorization("not_authorized", "this action needs a tournament admin")
	}
	return nil
}

type poolRequest struct {
	Name      string `json:"name"`
	Preset    string `json:"preset"`
	SeedCount int    `json:"seed_count"`
	LiveSeed  bool   `json:"live_seed"`
}

type createTournamentRequest struct {
	Name              string        `json:"name"`
	GuildID           string        `json:"guild_id"`
	ChannelID         string        `json:"channel_id"`
	ReportChannelID   string        `json:"report_channel_id"`
	OwnerID           string        `json:"owner_id"`
	Customization     string        `json:"customization"`
	RunsPerPool       int           `json:"runs_per_pool"`
	AllowedReattempts int           `json:"allowed_reattempts"`
	Pools             []poolRequest `json:"pools"`
}

// CreateTournament rolls every seed up front and only then writes the
// tournament, so a randomizer outage never leaves a half-built tournament
// behind.
func (s *TournamentService) CreateTournament(c *fiber.Ctx) error {
	var req createTournamentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	if req.Name == "" || req.ChannelID == "" || req.OwnerID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name, channel_id and owner_id are required"})
	}
	if len(req.Pools) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "at least one pool is required"})
	}
	if req.RunsPerPool <= 0 {
		req.RunsPerPool = 1
	}
	if req.AllowedReattempts < 0 {
		req.AllowedReattempts = 0
	}

	if _, err := s.Store.GetTournamentByChannel(req.ChannelID); err == nil {
		return respondErr(c, errors.Integrity("duplicate_channel", "that channel already hosts a tournament"))
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return respondErr(c, err)
	}

	t := &models.Tournament{
		ID:                uuid.NewString(),
		Name:              req.Name,
		Active:            true,
		GuildID:           req.GuildID,
		ChannelID:         req.ChannelID,
		ReportChannelID:   req.ReportChannelID,
		OwnerID:           req.OwnerID,
		Customization:     req.Customization,
		RunsPerPool:       req.RunsPerPool,
		AllowedReattempts: req.AllowedReattempts,
	}

	for _, p := range req.Pools {
		if p.Name == "" || p.SeedCount <= 0 {
			return c.Status(400).JSON(fiber.Map{"error": "every pool needs a name and a positive seed_count"})
		}
		pool := models.PermalinkPool{
			ID:           uuid.NewString(),
			TournamentID: t.ID,
			Name:         p.Name,
			Preset:       p.Preset,
		}
		links, err := s.rollSeeds(c.Context(), pool.ID, p.Preset, p.SeedCount, p.LiveSeed)
		if err != nil {
			return respondErr(c, err)
		}
		pool.Permalinks = links
		t.Pools = append(t.Pools, pool)
	}

	if err := s.Store.CreateTournament(t); err != nil {
		return respondErr(c, err)
	}
	s.auditSystem(t.ID, models.AuditCreate, fmt.Sprintf("tournament %s", t.Name))

	log.Printf("✅ Created tournament %s (%d pools)", t.Name, len(t.Pools))
	return c.Status(201).JSON(t)
}

// rollSeeds generates count permalinks for a pool. When liveSeed is set the
// first seed is reserved for the live race and excluded from async draws.
func (s *TournamentService) rollSeeds(ctx context.Context, poolID, preset string, count int, liveSeed bool) ([]models.Permalink, error) {
	links := make([]models.Permalink, 0, count)
	for i := 0; i < count; i++ {
		url, err := s.Seeds.Generate(ctx, preset)
		if err != nil {
			return nil, errors.External("seed_generation_failed", "randomizer did not return a seed", err)
		}
		links = append(links, models.Permalink{
			ID:       uuid.NewString(),
			PoolID:   poolID,
			URL:      url,
			LiveRace: liveSeed && i == 0,
		})
	}
	return links, nil
}

// AddSeeds tops up an existing pool.
func (s *TournamentService) AddSeeds(c *fiber.Ctx) error {
	t, err := s.Store.GetTournament(c.Params("id"))
	if err != nil {
		return respondErr(c, raceErr(err))
	}

	var req struct {
		Pool  string       `json:"pool"`
		Count int          `json:"count"`
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Pool == "" || req.Count <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "pool and a positive count are required"})
	}
	if req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	if err := s.requireOwner(t, req.Actor); err != nil {
		return respondErr(c, err)
	}

	var pool *models.PermalinkPool
	for i := range t.Pools {
		if t.Pools[i].Name == req.Pool {
			pool = &t.Pools[i]
			break
		}
	}
	if pool == nil {
		return respondErr(c, errors.NotFound("pool_not_found", fmt.Sprintf("tournament has no pool %q", req.Pool)))
	}

	links, err := s.rollSeeds(c.Context(), pool.ID, pool.Preset, req.Count, false)
	if err != nil {
		return respondErr(c, err)
	}
	if err := s.Store.AddPermalinks(links); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"added": len(links)})
}

// CloseTournament deactivates the tournament. Owner only; existing races
// stay readable.
func (s *TournamentService) CloseTournament(c *fiber.Ctx) error {
	t, err := s.Store.GetTournament(c.Params("id"))
	if err != nil {
		return respondErr(c, raceErr(err))
	}
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	if err := s.requireOwner(t, req.Actor); err != nil {
		return respondErr(c, err)
	}
	if !t.Active {
		return respondErr(c, errors.StateConflict("tournament_inactive", "tournament is already closed"))
	}
	t.Active = false
	if err := s.Store.UpdateTournament(t); err != nil {
		return respondErr(c, err)
	}
	log.Printf("✅ Closed tournament %s", t.Name)
	return c.JSON(t)
}

// GrantPermission grants admin or mod on a tournament.
func (s *TournamentService) GrantPermission(c *fiber.Ctx) error {
	t, err := s.Store.GetTournament(c.Params("id"))
	if err != nil {
		return respondErr(c, raceErr(err))
	}

	var req struct {
		DiscordUserID string       `json:"discord_user_id"`
		DisplayName   string       `json:"display_name"`
		Role          string       `json:"role"`
		Actor         actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "discord_user_id is required"})
	}
	if req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	if err := s.requireOwner(t, req.Actor); err != nil {
		return respondErr(c, err)
	}
	role := strings.ToLower(req.Role)
	if role != models.RoleAdmin && role != models.RoleMod {
		return c.Status(400).JSON(fiber.Map{"error": "role must be admin or mod"})
	}

	user, err := s.Store.GetOrCreateUserByDiscordID(req.DiscordUserID, req.DisplayName)
	if err != nil {
		return respondErr(c, err)
	}
	perm := &models.Permission{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		UserID:       user.ID,
		Role:         role,
	}
	if err := s.Store.GrantPermission(perm); err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return respondErr(c, errors.Integrity("duplicate_grant", "user already holds that role"))
		}
		return respondErr(c, err)
	}
	return c.Status(201).JSON(perm)
}

// Whitelist exempts a runner from the account-age gate.
func (s *TournamentService) Whitelist(c *fiber.Ctx) error {
	t, err := s.Store.GetTournament(c.Params("id"))
	if err != nil {
		return respondErr(c, raceErr(err))
	}

	var req struct {
		DiscordUserID string       `json:"discord_user_id"`
		DisplayName   string       `json:"display_name"`
		Actor         actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "discord_user_id is required"})
	}
	if req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	if err := s.requireAdmin(t, req.Actor); err != nil {
		return respondErr(c, err)
	}

	user, err := s.Store.GetOrCreateUserByDiscordID(req.DiscordUserID, req.DisplayName)
	if err != nil {
		return respondErr(c, err)
	}
	entry := &models.WhitelistEntry{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		UserID:       user.ID,
	}
	if err := s.Store.AddWhitelistEntry(entry); err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return respondErr(c, errors.Integrity("duplicate_whitelist", "user is already whitelisted"))
		}
		return respondErr(c, err)
	}
	return c.Status(201).JSON(entry)
}

// Recalculate reruns the scoring pass for one tournament outside the hourly
// schedule. Admin only.
func (s *TournamentService) Recalculate(c *fiber.Ctx) error {
	t, err := s.Store.GetTournament(c.Params("id"))
	if err != nil {
		return respondErr(c, raceErr(err))
	}
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	if err := s.requireAdmin(t, req.Actor); err != nil {
		return respondErr(c, err)
	}
	if err := s.Scoring.CalculateTournament(t.ID); err != nil {
		return respondErr(c, err)
	}
	log.Printf("✅ Recalculated scores for %s on demand", t.Name)
	return c.JSON(fiber.Map{"recalculated": t.ID})
}

// ExportRaces renders the tournament's races as CSV and uploads it to R2,
// returning the download URL. Admin only.
func (s *TournamentService) ExportRaces(c *fiber.Ctx) error {
	t, err := s.Store.GetTournament(c.Params("id"))
	if err != nil {
		return respondErr(c, raceErr(err))
	}
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	if err := s.requireAdmin(t, req.Actor); err != nil {
		return respondErr(c, err)
	}
	if !utils.R2Enabled() {
		return respondErr(c, errors.External("export_upload_failed", "CSV exports are disabled, object storage is not configured", nil))
	}
	races, err := s.Store.ListRacesForTournament(t.ID)
	if err != nil {
		return respondErr(c, err)
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"race_id", "runner", "pool", "status", "start_time", "end_time", "elapsed", "score", "review_status", "vod_url"})
	rows := 0
	for _, r := range races {
		if r.Reattempted {
			continue
		}
		row := []string{
			r.ID,
			r.User.DisplayName,
			r.Permalink.PoolID,
			string(r.Status),
			formatTimePtr(r.StartTime),
			formatTimePtr(r.EndTime),
			models.FormatElapsed(r.Elapsed()),
			formatScore(r.Score),
			string(r.ReviewStatus),
			r.RunnerVodURL,
		}
		_ = w.Write(row)
		rows++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return respondErr(c, err)
	}

	key := fmt.Sprintf("exports/%s-%d.csv", t.ID, time.Now().Unix())
	url, err := utils.UploadBytesToR2([]byte(buf.String()), key, "text/csv")
	if err != nil {
		return respondErr(c, errors.External("export_upload_failed", "could not upload the export", err))
	}
	s.auditSystem(t.ID, models.AuditExport, fmt.Sprintf("%d race(s) to %s", rows, key))
	log.Printf("✅ Exported %d race(s) for %s", rows, t.Name)
	return c.JSON(fiber.Map{"url": url, "races": rows})
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatScore(s *float64) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%.1f", *s)
}

func (s *TournamentService) auditSystem(tournamentID, action, details string) {
	entry := &models.AuditLog{
		TournamentID: tournamentID,
		Action:       action,
		Details:      details,
	}
	if err := s.Store.AppendAudit(entry); err != nil {
		log.Printf("❌ Failed to append audit %s: %v", action, err)
	}
}
