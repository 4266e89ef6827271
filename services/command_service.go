// services/command_service.go
package services

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"async-tournament-system/models"
)

// CommandService translates bot gateway requests into race lifecycle calls.
// Every Discord slash command and thread message lands here.
type CommandService struct {
	Races   *RaceService
	Live    *LiveRaceService
	Reviews *ReviewService
}

func NewCommandService(races *RaceService, live *LiveRaceService, reviews *ReviewService) *CommandService {
	return &CommandService{Races: races, Live: live, Reviews: reviews}
}

// actorRequest is the caller identity block the gateway attaches to every
// command payload.
type actorRequest struct {
	DiscordUserID    string    `json:"discord_user_id"`
	DisplayName      string    `json:"display_name"`
	AccountCreatedAt time.Time `json:"account_created_at"`
}

func (a actorRequest) actor() Actor {
	return Actor{
		DiscordUserID:    a.DiscordUserID,
		DisplayName:      a.DisplayName,
		AccountCreatedAt: a.AccountCreatedAt,
	}
}

func (s *CommandService) ListPools(c *fiber.Ctx) error {
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	pools, err := s.Races.AvailablePools(c.Params("channel_id"), req.Actor.actor())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(pools)
}

func (s *CommandService) NewRace(c *fiber.Ctx) error {
	var req struct {
		ChannelID string       `json:"channel_id"`
		Pool      string       `json:"pool"`
		Actor     actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.ChannelID == "" || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "channel_id and actor are required"})
	}
	race, err := s.Races.RequestNewRace(req.ChannelID, req.Actor.actor(), req.Pool)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(201).JSON(race)
}

func (s *CommandService) Ready(c *fiber.Ctx) error {
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	// The countdown outlives the HTTP request, so it gets its own context.
	race, err := s.Races.MarkReady(context.Background(), c.Params("thread_id"), req.Actor.actor())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) Done(c *fiber.Ctx) error {
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	race, err := s.Races.Finish(c.Params("thread_id"), req.Actor.actor())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) Forfeit(c *fiber.Ctx) error {
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	race, err := s.Races.Forfeit(c.Params("thread_id"), req.Actor.actor())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) Timer(c *fiber.Ctx) error {
	elapsed, err := s.Races.Timer(c.Params("thread_id"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"elapsed": elapsed})
}

func (s *CommandService) RunInfo(c *fiber.Ctx) error {
	var req struct {
		Actor  actorRequest `json:"actor"`
		VodURL string       `json:"vod_url"`
		Notes  string       `json:"notes"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	race, err := s.Races.SubmitRunInfo(c.Params("thread_id"), req.Actor.actor(), req.VodURL, req.Notes)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) ExtendTimeout(c *fiber.Ctx) error {
	var req struct {
		Actor   actorRequest `json:"actor"`
		Minutes int          `json:"minutes"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	if req.Minutes <= 0 {
		req.Minutes = 10
	}
	race, err := s.Races.ExtendTimeout(c.Params("thread_id"), req.Actor.actor(), time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) Reattempt(c *fiber.Ctx) error {
	var req struct {
		Actor  actorRequest `json:"actor"`
		Reason string       `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	race, err := s.Races.MarkReattempt(c.Params("thread_id"), req.Actor.actor(), req.Reason)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) CorrectRun(c *fiber.Ctx) error {
	var req struct {
		Actor          actorRequest `json:"actor"`
		Status         *string      `json:"status"`
		ElapsedSeconds *int         `json:"elapsed_seconds"`
		VodURL         *string      `json:"vod_url"`
		Note           string       `json:"note"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	fix := RunCorrection{VodURL: req.VodURL, Note: req.Note}
	if req.Status != nil {
		status := models.RaceStatus(*req.Status)
		fix.Status = &status
	}
	if req.ElapsedSeconds != nil {
		if *req.ElapsedSeconds <= 0 {
			return c.Status(400).JSON(fiber.Map{"error": "elapsed_seconds must be positive"})
		}
		elapsed := time.Duration(*req.ElapsedSeconds) * time.Second
		fix.Elapsed = &elapsed
	}
	race, err := s.Races.AdminUpdateRun(c.Params("id"), req.Actor.actor(), fix)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) OpenLiveRace(c *fiber.Ctx) error {
	var req struct {
		ChannelID string       `json:"channel_id"`
		Pool      string       `json:"pool"`
		Slug      string       `json:"slug"`
		Actor     actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.ChannelID == "" || req.Slug == "" || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "channel_id, slug and actor are required"})
	}
	liveRace, err := s.Live.Open(req.ChannelID, req.Pool, req.Slug, req.Actor.actor())
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(201).JSON(liveRace)
}

func (s *CommandService) JoinLiveRace(c *fiber.Ctx) error {
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	race, err := s.Live.Join(c.Params("slug"), req.Actor.actor())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) RecordLiveRace(c *fiber.Ctx) error {
	var req struct {
		Force bool         `json:"force"`
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	warnings, err := s.Live.Record(c.Context(), c.Params("slug"), req.Actor.actor(), req.Force)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"warnings": warnings})
}

func (s *CommandService) ReviewQueue(c *fiber.Ctx) error {
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	races, err := s.Reviews.Queue(c.Params("channel_id"), req.Actor.actor())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(races)
}

func (s *CommandService) ClaimReview(c *fiber.Ctx) error {
	var req struct {
		Actor actorRequest `json:"actor"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	race, err := s.Reviews.Claim(c.Params("id"), req.Actor.actor())
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}

func (s *CommandService) SubmitReview(c *fiber.Ctx) error {
	var req struct {
		Actor   actorRequest `json:"actor"`
		Approve bool         `json:"approve"`
		Notes   string       `json:"notes"`
	}
	if err := c.BodyParser(&req); err != nil || req.Actor.DiscordUserID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "actor is required"})
	}
	race, err := s.Reviews.Submit(c.Params("id"), req.Actor.actor(), req.Approve, req.Notes)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(race)
}
