// services/race_service.go
package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"async-tournament-system/errors"
	"async-tournament-system/models"
	"async-tournament-system/notify"
	"async-tournament-system/storage"
)

const (
	// Discord accounts younger than this relative to the tournament are
	// turned away unless whitelisted.
	accountAgeWindow = 7 * 24 * time.Hour

	// How long a runner has to ready up after the thread opens.
	defaultPendingTimeout = 20 * time.Minute

	maxNameLen = 20
)

// Actor identifies the runner (or moderator) behind an incoming command,
// as reported by the bot gateway.
type Actor struct {
	DiscordUserID    string
	DisplayName      string
	AccountCreatedAt time.Time
}

// RaceService drives the async race lifecycle from thread creation to finish.
type RaceService struct {
	Store storage.Store
	Sink  notify.Sink

	// Countdown configuration, overridable in tests.
	CountdownFrom  int
	CountdownTick  time.Duration
	PendingTimeout time.Duration
	Now            func() time.Time
}

func NewRaceService(store storage.Store, sink notify.Sink) *RaceService {
	return &RaceService{
		Store:          store,
		Sink:           sink,
		CountdownFrom:  10,
		CountdownTick:  time.Second,
		PendingTimeout: defaultPendingTimeout,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

func raceErr(err error) error {
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound("race_not_found", "no race found for this thread")
	}
	if stderrors.Is(err, storage.ErrStaleTransition) {
		return errors.StateConflict("invalid_state", "race is not in a state that allows this")
	}
	return err
}

// PoolAvailability reports how many runs a runner has left in a pool.
type PoolAvailability struct {
	Pool      models.PermalinkPool `json:"pool"`
	Played    int                  `json:"played"`
	Remaining int                  `json:"remaining"`
}

// AvailablePools lists the tournament's pools with the runner's remaining
// run allowance per pool. Reattempted races do not count against it.
func (s *RaceService) AvailablePools(channelID string, actor Actor) ([]PoolAvailability, error) {
	t, err := s.Store.GetTournamentByChannel(channelID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.Validation("channel_not_configured", "this channel has no async tournament attached")
		}
		return nil, err
	}
	user, err := s.Store.GetOrCreateUserByDiscordID(actor.DiscordUserID, actor.DisplayName)
	if err != nil {
		return nil, err
	}
	races, err := s.Store.ListRacesByUser(t.ID, user.ID)
	if err != nil {
		return nil, err
	}

	playedByPool := map[string]int{}
	for _, r := range races {
		if r.Reattempted {
			continue
		}
		playedByPool[r.Permalink.PoolID]++
	}

	out := make([]PoolAvailability, 0, len(t.Pools))
	for _, pool := range t.Pools {
		played := playedByPool[pool.ID]
		remaining := t.RunsPerPool - played
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, PoolAvailability{Pool: pool, Played: played, Remaining: remaining})
	}
	return out, nil
}

// RequestNewRace opens a race thread for the runner and creates the pending
// race. poolName is optional; when empty the first pool with runs remaining
// is used.
func (s *RaceService) RequestNewRace(channelID string, actor Actor, poolName string) (*models.Race, error) {
	t, err := s.Store.GetTournamentByChannel(channelID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.Validation("channel_not_configured", "this channel has no async tournament attached")
		}
		return nil, err
	}
	if !t.Active {
		return nil, errors.StateConflict("tournament_inactive", "this tournament is closed")
	}

	user, races, err := s.admitRunner(t, actor)
	if err != nil {
		return nil, err
	}

	pool, permalink, err := s.pickPermalink(t, races, poolName)
	if err != nil {
		return nil, err
	}

	name := actor.DisplayName
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	threadName := slug.Make(fmt.Sprintf("%s-%s", name, pool.Name))

	threadID, err := s.Sink.OpenThread(t.ChannelID, threadName)
	if err != nil {
		return nil, errors.External("thread_create_failed", "could not open race thread", err)
	}

	now := s.Now()
	timeout := now.Add(s.PendingTimeout)
	race := &models.Race{
		ID:                uuid.NewString(),
		TournamentID:      t.ID,
		UserID:            user.ID,
		PermalinkID:       permalink.ID,
		ThreadID:          threadID,
		Status:            models.RaceStatusPending,
		ThreadOpenTime:    &now,
		ThreadTimeoutTime: &timeout,
		ReviewStatus:      models.ReviewStatusPending,
	}
	if err := s.Store.CreateRace(race); err != nil {
		return nil, err
	}

	s.audit(t.ID, &user.ID, &race.ID, models.AuditCreateThread, fmt.Sprintf("thread %s pool %s", threadID, pool.Name))

	instructions := fmt.Sprintf(
		"Welcome, %s! Your seed for pool **%s**:\n%s\n\n"+
			"Type `ready` to start the countdown, `done` when you finish, or `ff` to forfeit.\n"+
			"You have %d minutes to ready up before this thread times out.",
		actor.DisplayName, pool.Name, permalink.URL, int(s.PendingTimeout.Minutes()),
	)
	if err := s.Sink.Send(threadID, instructions); err != nil {
		log.Printf("❌ Failed to post instructions to thread %s: %v", threadID, err)
	}

	log.Printf("✅ Opened race %s for %s in pool %s", race.ID, actor.DisplayName, pool.Name)
	return race, nil
}

// admitRunner checks the entry gates shared by async draws and live
// qualifier sign-ups, then returns the runner's prior race history.
func (s *RaceService) admitRunner(t *models.Tournament, actor Actor) (*models.User, []models.Race, error) {
	user, err := s.Store.GetOrCreateUserByDiscordID(actor.DiscordUserID, actor.DisplayName)
	if err != nil {
		return nil, nil, err
	}

	// Throwaway-account gate. Accounts created within a week of the
	// tournament itself need to be whitelisted by a moderator.
	cutoff := t.CreatedAt.Add(-accountAgeWindow)
	if actor.AccountCreatedAt.After(cutoff) {
		whitelisted, err := s.Store.IsWhitelisted(t.ID, user.ID)
		if err != nil {
			return nil, nil, err
		}
		if !whitelisted {
			return nil, nil, errors.Authorization("account_too_new", "your Discord account is too new to enter, ask a moderator to whitelist you").
				WithUserMsg("Your Discord account is too new to enter this tournament. Ask a moderator to whitelist you.")
		}
	}

	if user.RacetimeID == nil || *user.RacetimeID == "" {
		return nil, nil, errors.Validation("racetime_unlinked", "link your racetime.gg account before racing").
			WithUserMsg("You must link your racetime.gg account before entering an async. Use the link command first.")
	}

	races, err := s.Store.ListRacesByUser(t.ID, user.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range races {
		if r.Active() {
			return nil, nil, errors.StateConflict("duplicate_active_race", "you already have a race open").
				WithUserMsg("You already have an open race in this tournament. Finish or forfeit it first.")
		}
	}
	return user, races, nil
}

// pickPermalink chooses the pool and the first permalink in it the runner
// has not raced yet. Selection is deterministic so two requests in the same
// state yield the same seed.
func (s *RaceService) pickPermalink(t *models.Tournament, prior []models.Race, poolName string) (*models.PermalinkPool, *models.Permalink, error) {
	played := map[string]int{}
	raced := map[string]bool{}
	for _, r := range prior {
		if !r.Reattempted {
			played[r.Permalink.PoolID]++
			raced[r.PermalinkID] = true
		}
	}

	for i := range t.Pools {
		pool := &t.Pools[i]
		if poolName != "" && pool.Name != poolName {
			continue
		}
		if played[pool.ID] >= t.RunsPerPool {
			continue
		}
		for j := range pool.Permalinks {
			link := &pool.Permalinks[j]
			if link.LiveRace || raced[link.ID] {
				continue
			}
			return pool, link, nil
		}
	}
	return nil, nil, errors.StateConflict("no_eligible_pools", "no pools with runs remaining").
		WithUserMsg("You have no runs remaining in any pool of this tournament.")
}

// MarkReady moves the race out of pending and starts the countdown. The
// countdown runs in the background; the thread gets a tick per second and
// then the start signal.
func (s *RaceService) MarkReady(ctx context.Context, threadID string, actor Actor) (*models.Race, error) {
	race, err := s.ownRace(threadID, actor)
	if err != nil {
		return nil, err
	}

	updated, err := s.Store.TransitionRace(race.ID, []models.RaceStatus{models.RaceStatusPending}, func(r *models.Race) error {
		r.Status = models.RaceStatusInProgress
		return nil
	})
	if err != nil {
		return nil, raceErr(err)
	}

	s.audit(race.TournamentID, &race.UserID, &race.ID, models.AuditRaceReady, "")
	s.audit(race.TournamentID, &race.UserID, &race.ID, models.AuditRaceCountdown, "")

	go s.runCountdown(ctx, updated.ID, threadID)
	return updated, nil
}

// runCountdown posts the tick messages and stamps the start time. If the
// race got forfeited mid-countdown the final transition is a no-op.
func (s *RaceService) runCountdown(ctx context.Context, raceID, threadID string) {
	ticker := time.NewTicker(s.CountdownTick)
	defer ticker.Stop()

	for i := s.CountdownFrom; i > 0; i-- {
		if err := s.Sink.Send(threadID, fmt.Sprintf("%d", i)); err != nil {
			log.Printf("❌ Countdown message failed for thread %s: %v", threadID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	now := s.Now()
	race, err := s.Store.TransitionRace(raceID, []models.RaceStatus{models.RaceStatusInProgress}, func(r *models.Race) error {
		r.StartTime = &now
		return nil
	})
	if err != nil {
		// Forfeit during the countdown wins, nothing to start.
		if stderrors.Is(err, storage.ErrStaleTransition) {
			log.Printf("🚫 Countdown for race %s superseded, not starting", raceID)
			return
		}
		log.Printf("❌ Failed to start race %s: %v", raceID, err)
		return
	}

	if err := s.Sink.Send(threadID, "**GO!**"); err != nil {
		log.Printf("❌ GO message failed for thread %s: %v", threadID, err)
	}
	s.audit(race.TournamentID, &race.UserID, &race.ID, models.AuditRaceStarted, "")
}

// Finish stamps the end time and reports the elapsed run time in the thread.
func (s *RaceService) Finish(threadID string, actor Actor) (*models.Race, error) {
	race, err := s.ownRace(threadID, actor)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	updated, err := s.Store.TransitionRace(race.ID, []models.RaceStatus{models.RaceStatusInProgress}, func(r *models.Race) error {
		if r.StartTime == nil {
			return errors.StateConflict("invalid_state", "race has not started yet")
		}
		r.Status = models.RaceStatusFinished
		r.EndTime = &now
		return nil
	})
	if err != nil {
		return nil, raceErr(err)
	}

	elapsed := models.FormatElapsed(updated.Elapsed())
	s.audit(race.TournamentID, &race.UserID, &race.ID, models.AuditRaceFinish, elapsed)
	if err := s.Sink.Send(threadID, fmt.Sprintf("🏁 Finished in **%s**. Please post your VOD link and any notes here.", elapsed)); err != nil {
		log.Printf("❌ Finish message failed for thread %s: %v", threadID, err)
	}
	s.announceFinish(updated, actor, elapsed)
	return updated, nil
}

// announceFinish mirrors the run into the tournament's report channel, when
// one is configured. Failures are logged and never block the finish.
func (s *RaceService) announceFinish(race *models.Race, actor Actor, elapsed string) {
	t, err := s.Store.GetTournament(race.TournamentID)
	if err != nil {
		log.Printf("⚠️ Could not load tournament %s for finish report: %v", race.TournamentID, err)
		return
	}
	if t.ReportChannelID == "" {
		return
	}
	msg := fmt.Sprintf("🏁 **%s** finished an async run in **%s**.", actor.DisplayName, elapsed)
	if err := s.Sink.Announce(t.ReportChannelID, msg); err != nil {
		log.Printf("⚠️ Finish report to channel %s failed: %v", t.ReportChannelID, err)
	}
}

// Forfeit abandons the race. Valid from pending and in_progress, including
// mid-countdown.
func (s *RaceService) Forfeit(threadID string, actor Actor) (*models.Race, error) {
	race, err := s.ownRace(threadID, actor)
	if err != nil {
		return nil, err
	}

	updated, err := s.Store.TransitionRace(race.ID,
		[]models.RaceStatus{models.RaceStatusPending, models.RaceStatusInProgress},
		func(r *models.Race) error {
			r.Status = models.RaceStatusForfeit
			return nil
		})
	if err != nil {
		return nil, raceErr(err)
	}

	s.audit(race.TournamentID, &race.UserID, &race.ID, models.AuditRunnerForfeit, "")
	if err := s.Sink.Send(threadID, "Race forfeited."); err != nil {
		log.Printf("❌ Forfeit message failed for thread %s: %v", threadID, err)
	}
	return updated, nil
}

// Timer returns the running clock for an in-progress race, or the final
// time once finished.
func (s *RaceService) Timer(threadID string) (string, error) {
	race, err := s.Store.GetRaceByThread(threadID)
	if err != nil {
		return "", raceErr(err)
	}
	switch race.Status {
	case models.RaceStatusInProgress:
		if race.StartTime == nil {
			return "", errors.StateConflict("invalid_state", "countdown still running")
		}
		return models.FormatElapsed(race.ElapsedAt(s.Now())), nil
	case models.RaceStatusFinished, models.RaceStatusDisqualified:
		return models.FormatElapsed(race.Elapsed()), nil
	default:
		return "", errors.StateConflict("invalid_state", "race has no timer in its current state")
	}
}

// SubmitRunInfo records the runner's VOD link and notes on a finished race.
func (s *RaceService) SubmitRunInfo(threadID string, actor Actor, vodURL, notes string) (*models.Race, error) {
	race, err := s.ownRace(threadID, actor)
	if err != nil {
		return nil, err
	}
	if race.Status != models.RaceStatusFinished {
		return nil, errors.StateConflict("invalid_state", "run info can only be submitted on a finished race")
	}
	race.RunnerVodURL = vodURL
	if notes != "" {
		race.RunnerNotes = notes
	}
	if err := s.Store.UpdateRace(race); err != nil {
		return nil, err
	}
	return race, nil
}

// ExtendTimeout gives a pending runner more time before the sweep forfeits
// them. Moderator action.
func (s *RaceService) ExtendTimeout(threadID string, actor Actor, extra time.Duration) (*models.Race, error) {
	race, err := s.Store.GetRaceByThread(threadID)
	if err != nil {
		return nil, raceErr(err)
	}
	if err := s.requireModerator(race.TournamentID, actor); err != nil {
		return nil, err
	}

	updated, err := s.Store.TransitionRace(race.ID, []models.RaceStatus{models.RaceStatusPending}, func(r *models.Race) error {
		base := s.Now()
		if r.ThreadTimeoutTime != nil && r.ThreadTimeoutTime.After(base) {
			base = *r.ThreadTimeoutTime
		}
		next := base.Add(extra)
		r.ThreadTimeoutTime = &next
		return nil
	})
	if err != nil {
		return nil, raceErr(err)
	}

	s.audit(race.TournamentID, &race.UserID, &race.ID, models.AuditExtendTimeout, extra.String())
	return updated, nil
}

// MarkReattempt voids the runner's own race so they can roll a fresh seed in
// the same pool, limited by the tournament's reattempt allowance.
func (s *RaceService) MarkReattempt(threadID string, actor Actor, reason string) (*models.Race, error) {
	race, err := s.ownRace(threadID, actor)
	if err != nil {
		return nil, err
	}
	t, err := s.Store.GetTournament(race.TournamentID)
	if err != nil {
		return nil, err
	}

	prior, err := s.Store.ListRacesByUser(race.TournamentID, race.UserID)
	if err != nil {
		return nil, err
	}
	used := 0
	for _, r := range prior {
		if r.Reattempted {
			used++
		}
	}
	if used >= t.AllowedReattempts {
		return nil, errors.StateConflict("reattempt_budget_exhausted",
			fmt.Sprintf("runner already used %d of %d reattempts", used, t.AllowedReattempts))
	}

	if race.Reattempted {
		return nil, errors.StateConflict("invalid_state", "race is already marked for reattempt")
	}
	race.Reattempted = true
	race.ReattemptReason = reason
	if err := s.Store.UpdateRace(race); err != nil {
		return nil, err
	}

	s.audit(race.TournamentID, &race.UserID, &race.ID, models.AuditReattempt, reason)
	return race, nil
}

// RunCorrection is an owner-level fix for a race row. Nil fields are left
// untouched. A corrected elapsed time rebuilds start_time backwards from
// end_time so scoring picks up the new duration.
type RunCorrection struct {
	Status  *models.RaceStatus
	Elapsed *time.Duration
	VodURL  *string
	Note    string
}

// AdminUpdateRun lets the tournament owner correct a run. Corrections skip
// the normal state checks on purpose; the owner can repair rows the state
// machine cannot reach, such as a race force-forfeited by a stale sweep.
func (s *RaceService) AdminUpdateRun(raceID string, actor Actor, fix RunCorrection) (*models.Race, error) {
	race, err := s.Store.GetRace(raceID)
	if err != nil {
		return nil, raceErr(err)
	}
	t, err := s.Store.GetTournament(race.TournamentID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != actor.DiscordUserID {
		return nil, errors.Authorization("not_owner", "only the tournament owner may correct runs")
	}

	if fix.Status != nil {
		race.Status = *fix.Status
	}
	if fix.Elapsed != nil {
		if race.EndTime == nil {
			now := s.Now()
			race.EndTime = &now
		}
		start := race.EndTime.Add(-*fix.Elapsed)
		race.StartTime = &start
	}
	if fix.VodURL != nil {
		race.RunnerVodURL = *fix.VodURL
	}
	if fix.Note != "" {
		if race.RunnerNotes != "" {
			race.RunnerNotes += "\n"
		}
		race.RunnerNotes += fix.Note
	}
	if err := s.Store.UpdateRace(race); err != nil {
		return nil, err
	}
	s.audit(t.ID, nil, &race.ID, models.AuditAdminUpdate, fmt.Sprintf("owner %s corrected run", actor.DiscordUserID))
	log.Printf("✅ Owner corrected run %s", race.ID)
	return race, nil
}

// ownRace loads the thread's race and checks the actor is its runner.
func (s *RaceService) ownRace(threadID string, actor Actor) (*models.Race, error) {
	race, err := s.Store.GetRaceByThread(threadID)
	if err != nil {
		return nil, raceErr(err)
	}
	if race.User.DiscordUserID != actor.DiscordUserID {
		return nil, errors.Authorization("not_owner", "this is not your race thread")
	}
	return race, nil
}

// requireModerator passes for the tournament owner and anyone holding an
// admin or mod grant.
func (s *RaceService) requireModerator(tournamentID string, actor Actor) error {
	t, err := s.Store.GetTournament(tournamentID)
	if err != nil {
		return err
	}
	if t.OwnerID == actor.DiscordUserID {
		return nil
	}
	user, err := s.Store.GetOrCreateUserByDiscordID(actor.DiscordUserID, actor.DisplayName)
	if err != nil {
		return err
	}
	ok, err := s.Store.HasPermission(tournamentID, user.ID, models.RoleAdmin, models.RoleMod)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Authorization("not_authorized", "this action needs a tournament moderator")
	}
	return nil
}

func (s *RaceService) audit(tournamentID string, userID, raceID *string, action, details string) {
	entry := &models.AuditLog{
		TournamentID: tournamentID,
		UserID:       userID,
		RaceID:       raceID,
		Action:       action,
		Details:      details,
	}
	if err := s.Store.AppendAudit(entry); err != nil {
		log.Printf("❌ Failed to append audit %s: %v", action, err)
	}
}
