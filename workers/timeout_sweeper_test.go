package workers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"async-tournament-system/models"
	"async-tournament-system/notify"
	"async-tournament-system/storage"
)

var sweepNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func sweeperEnv(t *testing.T) (*storage.MemoryStore, *notify.Recorder, *TimeoutSweeper) {
	t.Helper()
	store := storage.NewMemoryStore()
	sink := &notify.Recorder{}
	sweeper := NewTimeoutSweeper(store, sink)
	sweeper.Now = func() time.Time { return sweepNow }

	require.NoError(t, store.CreateTournament(&models.Tournament{
		ID: "t1", Name: "Swept Async", Active: true, ChannelID: "chan-1", OwnerID: "owner",
		Pools: []models.PermalinkPool{{
			ID: "pool-1", TournamentID: "t1", Name: "open",
			Permalinks: []models.Permalink{{ID: "link-1", PoolID: "pool-1", URL: "https://example.com/1"}},
		}},
	}))
	return store, sink, sweeper
}

func pendingRace(t *testing.T, store *storage.MemoryStore, id string, opened time.Time, deadline *time.Time) {
	t.Helper()
	require.NoError(t, store.CreateRace(&models.Race{
		ID: id, TournamentID: "t1", UserID: "u-" + id, PermalinkID: "link-1",
		ThreadID: "thread-" + id, Status: models.RaceStatusPending,
		ThreadOpenTime: &opened, ThreadTimeoutTime: deadline,
	}))
}

func TestSweepPendingForfeitsExpired(t *testing.T) {
	store, sink, sweeper := sweeperEnv(t)

	expired := sweepNow.Add(-time.Minute)
	pendingRace(t, store, "late", sweepNow.Add(-30*time.Minute), &expired)

	sweeper.SweepPending()

	got, err := store.GetRace("late")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusForfeit, got.Status)
	assert.Contains(t, store.AuditActions("t1"), models.AuditTimeoutForfeit)

	msgs := sink.SentTo("thread-late")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "forfeited")
}

func TestSweepPendingWarnsInsideWindow(t *testing.T) {
	store, sink, sweeper := sweeperEnv(t)

	soon := sweepNow.Add(5 * time.Minute)
	pendingRace(t, store, "soon", sweepNow.Add(-15*time.Minute), &soon)
	far := sweepNow.Add(15 * time.Minute)
	pendingRace(t, store, "far", sweepNow.Add(-5*time.Minute), &far)

	sweeper.SweepPending()

	soonRace, err := store.GetRace("soon")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusPending, soonRace.Status)
	require.Len(t, sink.SentTo("thread-soon"), 1)
	assert.Contains(t, sink.SentTo("thread-soon")[0], "minute(s) left")

	// Outside the warning window nothing is sent.
	assert.Empty(t, sink.SentTo("thread-far"))

	// The warning repeats on the next sweep until the runner acts.
	sweeper.SweepPending()
	assert.Len(t, sink.SentTo("thread-soon"), 2)
}

func TestSweepPendingFallsBackToOpenTime(t *testing.T) {
	store, _, sweeper := sweeperEnv(t)

	// No explicit deadline; opened 25 minutes ago with a 20 minute grace.
	pendingRace(t, store, "old", sweepNow.Add(-25*time.Minute), nil)

	sweeper.SweepPending()

	got, err := store.GetRace("old")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusForfeit, got.Status)
}

func TestSweepInProgress(t *testing.T) {
	store, _, sweeper := sweeperEnv(t)

	longStart := sweepNow.Add(-13 * time.Hour)
	require.NoError(t, store.CreateRace(&models.Race{
		ID: "marathon", TournamentID: "t1", UserID: "u1", PermalinkID: "link-1",
		ThreadID: "thread-marathon", Status: models.RaceStatusInProgress, StartTime: &longStart,
	}))
	okStart := sweepNow.Add(-2 * time.Hour)
	require.NoError(t, store.CreateRace(&models.Race{
		ID: "normal", TournamentID: "t1", UserID: "u2", PermalinkID: "link-1",
		ThreadID: "thread-normal", Status: models.RaceStatusInProgress, StartTime: &okStart,
	}))

	sweeper.SweepInProgress()

	marathon, err := store.GetRace("marathon")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusForfeit, marathon.Status)

	normal, err := store.GetRace("normal")
	require.NoError(t, err)
	assert.Equal(t, models.RaceStatusInProgress, normal.Status)
}
