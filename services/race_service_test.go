package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"async-tournament-system/errors"
	"async-tournament-system/models"
	"async-tournament-system/notify"
	"async-tournament-system/storage"
)

var testNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type raceEnv struct {
	store *storage.MemoryStore
	sink  *notify.Recorder
	svc   *RaceService
}

func newRaceEnv(t *testing.T) *raceEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	sink := &notify.Recorder{}
	svc := NewRaceService(store, sink)
	svc.CountdownFrom = 2
	svc.CountdownTick = time.Millisecond
	svc.Now = func() time.Time { return testNow }
	return &raceEnv{store: store, sink: sink, svc: svc}
}

func (e *raceEnv) seedTournament(t *testing.T) *models.Tournament {
	t.Helper()
	tournament := &models.Tournament{
		ID:                "t1",
		Name:              "Spring Async",
		Active:            true,
		ChannelID:         "chan-1",
		ReportChannelID:   "report-1",
		OwnerID:           "owner-discord",
		RunsPerPool:       1,
		AllowedReattempts: 1,
		Pools: []models.PermalinkPool{
			{
				ID:           "pool-open",
				TournamentID: "t1",
				Name:         "open",
				Preset:       "open",
				Permalinks: []models.Permalink{
					{ID: "link-1", PoolID: "pool-open", URL: "https://example.com/seed/1"},
					{ID: "link-2", PoolID: "pool-open", URL: "https://example.com/seed/2"},
				},
			},
		},
	}
	require.NoError(t, e.store.CreateTournament(tournament))
	return tournament
}

func (e *raceEnv) linkedRunner(t *testing.T, discordID, name string) (*models.User, Actor) {
	t.Helper()
	user, err := e.store.GetOrCreateUserByDiscordID(discordID, name)
	require.NoError(t, err)
	rtID := "rtgg-" + discordID
	user.RacetimeID = &rtID
	require.NoError(t, e.store.UpdateUser(user))
	return user, Actor{
		DiscordUserID:    discordID,
		DisplayName:      name,
		AccountCreatedAt: testNow.Add(-2 * 365 * 24 * time.Hour),
	}
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestRequestNewRace(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)

	assert.Equal(t, models.RaceStatusPending, race.Status)
	assert.Equal(t, "link-1", race.PermalinkID)
	require.NotNil(t, race.ThreadOpenTime)
	require.NotNil(t, race.ThreadTimeoutTime)
	assert.Equal(t, testNow.Add(20*time.Minute), *race.ThreadTimeoutTime)

	require.Len(t, e.sink.Threads, 1)
	assert.Equal(t, "chan-1", e.sink.Threads[0].ChannelID)
	assert.Equal(t, "runner-one-open", e.sink.Threads[0].Name)

	msgs := e.sink.SentTo(race.ThreadID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "https://example.com/seed/1")

	assert.Contains(t, e.store.AuditActions("t1"), models.AuditCreateThread)
}

func TestRequestNewRaceUnknownChannel(t *testing.T) {
	e := newRaceEnv(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	_, err := e.svc.RequestNewRace("nope", actor, "")
	assert.Equal(t, "channel_not_configured", appCode(t, err))
}

func TestRequestNewRaceClosedTournament(t *testing.T) {
	e := newRaceEnv(t)
	tournament := e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	tournament.Active = false
	require.NoError(t, e.store.UpdateTournament(tournament))

	_, err := e.svc.RequestNewRace("chan-1", actor, "")
	assert.Equal(t, "tournament_inactive", appCode(t, err))
}

func TestRequestNewRaceAccountTooNew(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	user, actor := e.linkedRunner(t, "runner-1", "Runner One")
	actor.AccountCreatedAt = time.Now().UTC()

	_, err := e.svc.RequestNewRace("chan-1", actor, "")
	assert.Equal(t, "account_too_new", appCode(t, err))

	// A whitelist entry lifts the gate.
	require.NoError(t, e.store.AddWhitelistEntry(&models.WhitelistEntry{
		ID: "w1", TournamentID: "t1", UserID: user.ID,
	}))
	_, err = e.svc.RequestNewRace("chan-1", actor, "")
	assert.NoError(t, err)
}

func TestRequestNewRaceRequiresRacetimeLink(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, err := e.store.GetOrCreateUserByDiscordID("runner-1", "Runner One")
	require.NoError(t, err)

	actor := Actor{
		DiscordUserID:    "runner-1",
		DisplayName:      "Runner One",
		AccountCreatedAt: testNow.Add(-2 * 365 * 24 * time.Hour),
	}
	_, reqErr := e.svc.RequestNewRace("chan-1", actor, "")
	assert.Equal(t, "racetime_unlinked", appCode(t, reqErr))
}

func TestRequestNewRaceDuplicateActive(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	_, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)

	_, err = e.svc.RequestNewRace("chan-1", actor, "")
	assert.Equal(t, "duplicate_active_race", appCode(t, err))
}

func TestRequestNewRacePoolExhaustion(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)
	_, err = e.svc.Forfeit(race.ThreadID, actor)
	require.NoError(t, err)

	// RunsPerPool is 1 and the forfeited run still counts.
	_, err = e.svc.RequestNewRace("chan-1", actor, "")
	assert.Equal(t, "no_eligible_pools", appCode(t, err))
}

func TestRequestNewRaceSkipsLiveSeed(t *testing.T) {
	e := newRaceEnv(t)
	tournament := &models.Tournament{
		ID: "t1", Name: "Live Async", Active: true, ChannelID: "chan-1",
		OwnerID: "owner-discord", RunsPerPool: 1, AllowedReattempts: 0,
		Pools: []models.PermalinkPool{{
			ID: "pool-open", TournamentID: "t1", Name: "open",
			Permalinks: []models.Permalink{
				{ID: "link-live", PoolID: "pool-open", URL: "https://example.com/seed/live", LiveRace: true},
				{ID: "link-async", PoolID: "pool-open", URL: "https://example.com/seed/async"},
			},
		}},
	}
	require.NoError(t, e.store.CreateTournament(tournament))
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)
	assert.Equal(t, "link-async", race.PermalinkID)
}

func TestReadyStartsCountdownAndRace(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)

	updated, err := e.svc.MarkReady(context.Background(), race.ThreadID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusInProgress, updated.Status)

	require.Eventually(t, func() bool {
		r, err := e.store.GetRace(race.ID)
		return err == nil && r.StartTime != nil
	}, time.Second, time.Millisecond)

	msgs := e.sink.SentTo(race.ThreadID)
	assert.Contains(t, msgs, "2")
	assert.Contains(t, msgs, "1")
	assert.Contains(t, msgs, "**GO!**")

	actions := e.store.AuditActions("t1")
	assert.Contains(t, actions, models.AuditRaceReady)
	assert.Contains(t, actions, models.AuditRaceCountdown)
	assert.Contains(t, actions, models.AuditRaceStarted)
}

func TestForfeitDuringCountdownWins(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)

	// Move to in_progress without spawning the countdown goroutine, then
	// forfeit before the countdown completes.
	_, err = e.store.TransitionRace(race.ID, []models.RaceStatus{models.RaceStatusPending}, func(r *models.Race) error {
		r.Status = models.RaceStatusInProgress
		return nil
	})
	require.NoError(t, err)
	_, err = e.svc.Forfeit(race.ThreadID, actor)
	require.NoError(t, err)

	e.svc.runCountdown(context.Background(), race.ID, race.ThreadID)

	got, err := e.store.GetRace(race.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusForfeit, got.Status)
	assert.Nil(t, got.StartTime)
	assert.NotContains(t, e.sink.SentTo(race.ThreadID), "**GO!**")
	assert.NotContains(t, e.store.AuditActions("t1"), models.AuditRaceStarted)
}

func TestFinish(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)
	start := testNow.Add(-90 * time.Minute)
	_, err = e.store.TransitionRace(race.ID, []models.RaceStatus{models.RaceStatusPending}, func(r *models.Race) error {
		r.Status = models.RaceStatusInProgress
		r.StartTime = &start
		return nil
	})
	require.NoError(t, err)

	finished, err := e.svc.Finish(race.ThreadID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusFinished, finished.Status)
	require.NotNil(t, finished.EndTime)
	assert.Equal(t, testNow, *finished.EndTime)

	msgs := e.sink.SentTo(race.ThreadID)
	assert.Contains(t, msgs[len(msgs)-1], "01:30:00")
	assert.Contains(t, e.store.AuditActions("t1"), models.AuditRaceFinish)

	reports := e.sink.SentTo("report-1")
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0], "Runner One")
	assert.Contains(t, reports[0], "01:30:00")

	// Finishing twice is a state conflict.
	_, err = e.svc.Finish(race.ThreadID, actor)
	assert.Equal(t, "invalid_state", appCode(t, err))
}

func TestFinishRejectsNonOwner(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")
	_, other := e.linkedRunner(t, "runner-2", "Runner Two")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)

	_, err = e.svc.Finish(race.ThreadID, other)
	assert.Equal(t, "not_owner", appCode(t, err))
}

func TestTimer(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)

	// Pending races have no timer.
	_, err = e.svc.Timer(race.ThreadID)
	assert.Equal(t, "invalid_state", appCode(t, err))

	start := testNow.Add(-45 * time.Minute)
	_, err = e.store.TransitionRace(race.ID, []models.RaceStatus{models.RaceStatusPending}, func(r *models.Race) error {
		r.Status = models.RaceStatusInProgress
		r.StartTime = &start
		return nil
	})
	require.NoError(t, err)

	elapsed, err := e.svc.Timer(race.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "00:45:00", elapsed)
}

func TestSubmitRunInfo(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)

	_, err = e.svc.SubmitRunInfo(race.ThreadID, actor, "https://twitch.tv/vod/1", "clean run")
	assert.Equal(t, "invalid_state", appCode(t, err))

	start := testNow.Add(-time.Hour)
	end := testNow
	_, err = e.store.TransitionRace(race.ID, []models.RaceStatus{models.RaceStatusPending}, func(r *models.Race) error {
		r.Status = models.RaceStatusFinished
		r.StartTime = &start
		r.EndTime = &end
		return nil
	})
	require.NoError(t, err)

	updated, err := e.svc.SubmitRunInfo(race.ThreadID, actor, "https://twitch.tv/vod/1", "clean run")
	require.NoError(t, err)
	assert.Equal(t, "https://twitch.tv/vod/1", updated.RunnerVodURL)
	assert.Equal(t, "clean run", updated.RunnerNotes)
}

func TestExtendTimeout(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")
	owner := Actor{DiscordUserID: "owner-discord", DisplayName: "Owner"}

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)

	// The runner cannot extend their own deadline.
	_, err = e.svc.ExtendTimeout(race.ThreadID, actor, 10*time.Minute)
	assert.Equal(t, "not_authorized", appCode(t, err))

	updated, err := e.svc.ExtendTimeout(race.ThreadID, owner, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, updated.ThreadTimeoutTime)
	assert.Equal(t, testNow.Add(30*time.Minute), *updated.ThreadTimeoutTime)
	assert.Contains(t, e.store.AuditActions("t1"), models.AuditExtendTimeout)
}

func TestMarkReattempt(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	user, actor := e.linkedRunner(t, "runner-1", "Runner One")
	owner := Actor{DiscordUserID: "owner-discord", DisplayName: "Owner"}

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)
	_, err = e.svc.Forfeit(race.ThreadID, actor)
	require.NoError(t, err)

	// Only the runner can void their own race.
	_, err = e.svc.MarkReattempt(race.ThreadID, owner, "disconnect at start")
	assert.Equal(t, "not_owner", appCode(t, err))

	updated, err := e.svc.MarkReattempt(race.ThreadID, actor, "disconnect at start")
	require.NoError(t, err)
	assert.True(t, updated.Reattempted)
	assert.Equal(t, "disconnect at start", updated.ReattemptReason)

	// The voided run frees the pool slot again.
	second, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, second.UserID)

	// The allowance is one; no further reattempts.
	_, err = e.svc.Forfeit(second.ThreadID, actor)
	require.NoError(t, err)
	_, err = e.svc.MarkReattempt(second.ThreadID, actor, "again")
	assert.Equal(t, "reattempt_budget_exhausted", appCode(t, err))
}

func TestAdminUpdateRun(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")
	owner := Actor{DiscordUserID: "owner-discord", DisplayName: "Owner"}

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)
	start := testNow.Add(-time.Hour)
	end := testNow
	_, err = e.store.TransitionRace(race.ID, []models.RaceStatus{models.RaceStatusPending}, func(r *models.Race) error {
		r.Status = models.RaceStatusFinished
		r.StartTime = &start
		r.EndTime = &end
		return nil
	})
	require.NoError(t, err)

	elapsed := 30 * time.Minute
	_, err = e.svc.AdminUpdateRun(race.ID, actor, RunCorrection{Elapsed: &elapsed})
	assert.Equal(t, "not_owner", appCode(t, err))

	updated, err := e.svc.AdminUpdateRun(race.ID, owner, RunCorrection{Elapsed: &elapsed, Note: "retimed from VOD"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, updated.Elapsed())
	assert.Contains(t, updated.RunnerNotes, "retimed from VOD")
}

func TestAdminUpdateRunBypassesStateChecks(t *testing.T) {
	e := newRaceEnv(t)
	e.seedTournament(t)
	_, actor := e.linkedRunner(t, "runner-1", "Runner One")
	owner := Actor{DiscordUserID: "owner-discord", DisplayName: "Owner"}

	race, err := e.svc.RequestNewRace("chan-1", actor, "")
	require.NoError(t, err)
	_, err = e.svc.Forfeit(race.ThreadID, actor)
	require.NoError(t, err)

	// The owner can resurrect a forfeited run and hand it a time, something
	// no runner-facing transition allows.
	finished := models.RaceStatusFinished
	elapsed := 45 * time.Minute
	updated, err := e.svc.AdminUpdateRun(race.ID, owner, RunCorrection{Status: &finished, Elapsed: &elapsed})
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusFinished, updated.Status)
	assert.Equal(t, 45*time.Minute, updated.Elapsed())
	require.NotNil(t, updated.EndTime)
	assert.Equal(t, testNow, *updated.EndTime)
}
