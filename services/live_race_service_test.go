package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"async-tournament-system/models"
	"async-tournament-system/notify"
	"async-tournament-system/storage"
)

type cannedFetcher struct {
	race *RacetimeRace
	err  error
}

func (f *cannedFetcher) FetchRace(ctx context.Context, slug string) (*RacetimeRace, error) {
	return f.race, f.err
}

const liveSlug = "alttpr/cute-room-1234"

func liveEnv(t *testing.T, room *RacetimeRace) (*storage.MemoryStore, *LiveRaceService) {
	t.Helper()
	store := storage.NewMemoryStore()
	sink := &notify.Recorder{}
	races := NewRaceService(store, sink)
	races.Now = func() time.Time { return testNow }
	svc := NewLiveRaceService(store, &cannedFetcher{race: room}, sink, races)

	tournament := &models.Tournament{
		ID: "t1", Name: "Live Async", Active: true, ChannelID: "chan-1",
		OwnerID: "owner-discord", RunsPerPool: 1,
		Pools: []models.PermalinkPool{{
			ID: "pool-1", TournamentID: "t1", Name: "open",
			Permalinks: []models.Permalink{
				{ID: "link-live", PoolID: "pool-1", URL: "https://example.com/live", LiveRace: true},
			},
		}},
	}
	require.NoError(t, store.CreateTournament(tournament))
	return store, svc
}

func linkRacetimeUser(t *testing.T, store *storage.MemoryStore, discordID, rtID string) *models.User {
	t.Helper()
	user, err := store.GetOrCreateUserByDiscordID(discordID, "Runner "+discordID)
	require.NoError(t, err)
	user.RacetimeID = &rtID
	require.NoError(t, store.UpdateUser(user))
	return user
}

func joinLive(t *testing.T, svc *LiveRaceService, discordID string) *models.Race {
	t.Helper()
	race, err := svc.Join(liveSlug, Actor{DiscordUserID: discordID, DisplayName: "Runner " + discordID})
	require.NoError(t, err)
	return race
}

func finishedRoom() *RacetimeRace {
	started := testNow.Add(-2 * time.Hour)
	doneAt := testNow.Add(-30 * time.Minute)
	ended := testNow.Add(-10 * time.Minute)
	room := &RacetimeRace{
		StartedAt: &started,
		EndedAt:   &ended,
	}
	room.Status.Value = "finished"

	var done RacetimeEntrant
	done.User.ID = "rt-1"
	done.User.Name = "alpha"
	done.Status.Value = "done"
	done.FinishedAt = &doneAt

	var dnf RacetimeEntrant
	dnf.User.ID = "rt-2"
	dnf.User.Name = "bravo"
	dnf.Status.Value = "dnf"

	var dq RacetimeEntrant
	dq.User.ID = "rt-3"
	dq.User.Name = "charlie"
	dq.Status.Value = "dq"

	room.Entrants = []RacetimeEntrant{done, dnf, dq}
	return room
}

var liveOwner = Actor{DiscordUserID: "owner-discord", DisplayName: "Owner"}

func TestLiveRaceFlow(t *testing.T) {
	store, svc := liveEnv(t, finishedRoom())

	u1 := linkRacetimeUser(t, store, "d1", "rt-1")
	u2 := linkRacetimeUser(t, store, "d2", "rt-2")
	u3 := linkRacetimeUser(t, store, "d3", "rt-3")

	lr, err := svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", lr.Status)
	assert.Equal(t, "link-live", lr.PermalinkID)

	joinLive(t, svc, "d1")
	joinLive(t, svc, "d2")
	joinLive(t, svc, "d3")

	warnings, err := svc.Record(context.Background(), liveSlug, liveOwner, false)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	lr, err = store.GetLiveRaceBySlug(liveSlug)
	require.NoError(t, err)
	assert.Equal(t, "finished", lr.Status)

	attached, err := store.ListRacesByLiveRace(lr.ID)
	require.NoError(t, err)
	require.Len(t, attached, 3)

	byUser := map[string]models.Race{}
	for _, r := range attached {
		byUser[r.UserID] = r
	}

	done := byUser[u1.ID]
	assert.Equal(t, models.RaceStatusFinished, done.Status)
	require.NotNil(t, done.StartTime)
	require.NotNil(t, done.EndTime)
	assert.Equal(t, 90*time.Minute, done.Elapsed())

	dnf := byUser[u2.ID]
	assert.Equal(t, models.RaceStatusForfeit, dnf.Status)
	assert.Nil(t, dnf.EndTime)

	dq := byUser[u3.ID]
	assert.Equal(t, models.RaceStatusDisqualified, dq.Status)
	assert.NotNil(t, dq.EndTime)
}

func TestRecordLiveRacePartialThenComplete(t *testing.T) {
	room := finishedRoom()
	room.Entrants[2].Status.Value = "in_progress"
	store, svc := liveEnv(t, room)

	linkRacetimeUser(t, store, "d1", "rt-1")
	linkRacetimeUser(t, store, "d2", "rt-2")
	u3 := linkRacetimeUser(t, store, "d3", "rt-3")

	_, err := svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)
	joinLive(t, svc, "d1")
	joinLive(t, svc, "d2")
	joinLive(t, svc, "d3")

	warnings, err := svc.Record(context.Background(), liveSlug, liveOwner, false)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "charlie")
	assert.Contains(t, warnings[1], "still in progress")

	lr, err := store.GetLiveRaceBySlug(liveSlug)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", lr.Status)

	// charlie reaches a terminal state and a second pass settles everything
	// without touching the rows recorded the first time.
	room.Entrants[2].Status.Value = "dq"
	warnings, err = svc.Record(context.Background(), liveSlug, liveOwner, false)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	lr, err = store.GetLiveRaceBySlug(liveSlug)
	require.NoError(t, err)
	assert.Equal(t, "finished", lr.Status)

	attached, err := store.ListRacesByLiveRace(lr.ID)
	require.NoError(t, err)
	require.Len(t, attached, 3)
	for _, r := range attached {
		if r.UserID == u3.ID {
			assert.Equal(t, models.RaceStatusDisqualified, r.Status)
		}
	}
}

func TestRecordLiveRaceWarnsOnUnlinkedEntrant(t *testing.T) {
	store, svc := liveEnv(t, finishedRoom())
	linkRacetimeUser(t, store, "d1", "rt-1")
	// rt-2 and rt-3 have no linked account.

	_, err := svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)
	joinLive(t, svc, "d1")

	warnings, err := svc.Record(context.Background(), liveSlug, liveOwner, false)
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "bravo")
}

func TestRecordLiveRaceSkipsNonParticipants(t *testing.T) {
	store, svc := liveEnv(t, finishedRoom())
	linkRacetimeUser(t, store, "d1", "rt-1")
	linkRacetimeUser(t, store, "d2", "rt-2")
	linkRacetimeUser(t, store, "d3", "rt-3")

	_, err := svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)
	// Only d1 signed up; bravo and charlie raced for fun.
	joinLive(t, svc, "d1")

	warnings, err := svc.Record(context.Background(), liveSlug, liveOwner, false)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	lr, err := store.GetLiveRaceBySlug(liveSlug)
	require.NoError(t, err)
	attached, err := store.ListRacesByLiveRace(lr.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 1)
}

func TestRecordLiveRaceRefusesRecordedRace(t *testing.T) {
	store, svc := liveEnv(t, finishedRoom())
	linkRacetimeUser(t, store, "d1", "rt-1")

	_, err := svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)
	joinLive(t, svc, "d1")

	_, err = svc.Record(context.Background(), liveSlug, liveOwner, false)
	require.NoError(t, err)

	_, err = svc.Record(context.Background(), liveSlug, liveOwner, false)
	assert.Equal(t, "invalid_state", appCode(t, err))

	// force allows a re-record of an already closed live race.
	_, err = svc.Record(context.Background(), liveSlug, liveOwner, true)
	assert.NoError(t, err)
}

func TestRecordLiveRaceNeedsModerator(t *testing.T) {
	store, svc := liveEnv(t, finishedRoom())
	_, err := store.GetOrCreateUserByDiscordID("random", "Random")
	require.NoError(t, err)

	_, err = svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)

	_, recErr := svc.Record(context.Background(), liveSlug,
		Actor{DiscordUserID: "random", DisplayName: "Random"}, false)
	assert.Equal(t, "not_authorized", appCode(t, recErr))
}

func TestOpenLiveRaceValidation(t *testing.T) {
	_, svc := liveEnv(t, finishedRoom())

	_, err := svc.Open("chan-1", "missing", liveSlug, liveOwner)
	assert.Equal(t, "no_live_permalink", appCode(t, err))

	_, err = svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)
	_, err = svc.Open("chan-1", "open", liveSlug, liveOwner)
	assert.Equal(t, "duplicate_live_race", appCode(t, err))
}

func TestJoinLiveRace(t *testing.T) {
	store, svc := liveEnv(t, finishedRoom())
	linkRacetimeUser(t, store, "d1", "rt-1")

	_, err := svc.Join(liveSlug, Actor{DiscordUserID: "d1", DisplayName: "Runner d1"})
	assert.Equal(t, "live_race_not_found", appCode(t, err))

	_, err = svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)

	first := joinLive(t, svc, "d1")
	assert.Equal(t, models.RaceStatusInProgress, first.Status)
	require.NotNil(t, first.LiveRaceID)

	// Joining again is a no-op.
	again := joinLive(t, svc, "d1")
	assert.Equal(t, first.ID, again.ID)

	// Once recorded, the sign-up window is closed.
	_, err = svc.Record(context.Background(), liveSlug, liveOwner, false)
	require.NoError(t, err)
	linkRacetimeUser(t, store, "d2", "rt-2")
	_, err = svc.Join(liveSlug, Actor{DiscordUserID: "d2", DisplayName: "Runner d2"})
	assert.Equal(t, "invalid_state", appCode(t, err))
}

func TestJoinLiveRaceRequiresRacetimeLink(t *testing.T) {
	store, svc := liveEnv(t, finishedRoom())
	_, err := store.GetOrCreateUserByDiscordID("d9", "Runner d9")
	require.NoError(t, err)

	_, err = svc.Open("chan-1", "open", liveSlug, liveOwner)
	require.NoError(t, err)

	_, err = svc.Join(liveSlug, Actor{DiscordUserID: "d9", DisplayName: "Runner d9"})
	assert.Equal(t, "racetime_unlinked", appCode(t, err))
}
