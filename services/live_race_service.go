// services/live_race_service.go
package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"async-tournament-system/errors"
	"async-tournament-system/models"
	"async-tournament-system/notify"
	"async-tournament-system/storage"
)

// LiveRaceService runs qualifiers in a real racetime.gg room instead of an
// async thread. A moderator opens the live race against a pool's live seed,
// entrants sign up while it runs, and once the room settles a moderator
// records the results back onto the attached async races.
type LiveRaceService struct {
	Store   storage.Store
	Fetcher RaceFetcher
	Sink    notify.Sink
	Races   *RaceService
}

func NewLiveRaceService(store storage.Store, fetcher RaceFetcher, sink notify.Sink, races *RaceService) *LiveRaceService {
	return &LiveRaceService{Store: store, Fetcher: fetcher, Sink: sink, Races: races}
}

// Open registers a racetime.gg room as the live qualifier for a pool's live
// seed. Moderator only.
func (s *LiveRaceService) Open(channelID, poolName, slug string, actor Actor) (*models.LiveRace, error) {
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
	if err := s.Races.requireModerator(t.ID, actor); err != nil {
		return nil, err
	}

	permalink := findLivePermalink(t, poolName)
	if permalink == nil {
		return nil, errors.Validation("no_live_permalink", fmt.Sprintf("pool %q has no live race seed", poolName))
	}

	liveRace := &models.LiveRace{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		PermalinkID:  permalink.ID,
		RacetimeSlug: slug,
		Status:       "in_progress",
	}
	if err := s.Store.CreateLiveRace(liveRace); err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return nil, errors.Integrity("duplicate_live_race", "that room is already registered")
		}
		return nil, err
	}
	log.Printf("✅ Opened live race %s for pool %s", slug, poolName)
	return liveRace, nil
}

// Join signs the actor up for a running live qualifier, creating their async
// race row attached to it. Joining twice returns the existing row.
func (s *LiveRaceService) Join(slug string, actor Actor) (*models.Race, error) {
	liveRace, err := s.Store.GetLiveRaceBySlug(slug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("live_race_not_found", "that room is not a tournament live race")
		}
		return nil, err
	}
	if liveRace.Status != "in_progress" {
		return nil, errors.StateConflict("invalid_state", "this live race is no longer open")
	}
	t, err := s.Store.GetTournament(liveRace.TournamentID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, errors.StateConflict("tournament_inactive", "this tournament is closed")
	}

	user, err := s.Store.GetOrCreateUserByDiscordID(actor.DiscordUserID, actor.DisplayName)
	if err != nil {
		return nil, err
	}
	if existing := s.findAttachedRace(liveRace.ID, user.ID); existing != nil {
		return existing, nil
	}
	if _, _, err := s.Races.admitRunner(t, actor); err != nil {
		return nil, err
	}

	race := &models.Race{
		ID:           uuid.NewString(),
		TournamentID: t.ID,
		UserID:       user.ID,
		PermalinkID:  liveRace.PermalinkID,
		LiveRaceID:   &liveRace.ID,
		Status:       models.RaceStatusInProgress,
		ReviewStatus: models.ReviewStatusPending,
	}
	if err := s.Store.CreateRace(race); err != nil {
		return nil, err
	}
	s.Races.audit(t.ID, &user.ID, &race.ID, models.AuditJoinLiveRace, fmt.Sprintf("room %s", slug))
	log.Printf("✅ %s joined live race %s", actor.DisplayName, slug)
	return race, nil
}

// Record fetches the room snapshot and writes each entrant's result onto
// their attached async race. Entrants without an attached race are not
// tournament participants and are skipped. Safe to run twice; rows already
// in a terminal state are left alone. Returned warnings never abort the
// import, they flag entrants that need another recording pass.
func (s *LiveRaceService) Record(ctx context.Context, slug string, actor Actor, force bool) ([]string, error) {
	liveRace, err := s.Store.GetLiveRaceBySlug(slug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("live_race_not_found", "that room is not a tournament live race")
		}
		return nil, err
	}
	if err := s.Races.requireModerator(liveRace.TournamentID, actor); err != nil {
		return nil, err
	}
	if liveRace.Status != "in_progress" && !force {
		return nil, errors.StateConflict("invalid_state", "this live race has already been recorded")
	}

	room, err := s.Fetcher.FetchRace(ctx, slug)
	if err != nil {
		return nil, errors.External("racetime_fetch_failed", "could not load the racetime room", err)
	}

	attached, err := s.Store.ListRacesByLiveRace(liveRace.ID)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]*models.Race, len(attached))
	for i := range attached {
		byUser[attached[i].UserID] = &attached[i]
	}

	var warnings []string
	for _, entrant := range room.Entrants {
		user, err := s.Store.GetUserByRacetimeID(entrant.User.ID)
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				warnings = append(warnings, fmt.Sprintf("entrant %s has no linked account", entrant.User.Name))
			} else {
				warnings = append(warnings, fmt.Sprintf("entrant %s lookup failed: %v", entrant.User.Name, err))
			}
			continue
		}
		race := byUser[user.ID]
		if race == nil {
			// Not everyone in the room is a tournament entrant.
			continue
		}

		status, endTime := translateEntrant(room, entrant)
		if status == "" {
			warnings = append(warnings, fmt.Sprintf("%s is not finished yet, record again once they are done", entrant.User.Name))
			continue
		}

		_, err = s.Store.TransitionRace(race.ID,
			[]models.RaceStatus{models.RaceStatusPending, models.RaceStatusInProgress},
			func(r *models.Race) error {
				r.Status = status
				if r.StartTime == nil {
					r.StartTime = room.StartedAt
				}
				r.EndTime = endTime
				return nil
			})
		if err != nil && !stderrors.Is(err, storage.ErrStaleTransition) {
			warnings = append(warnings, fmt.Sprintf("entrant %s update failed: %v", entrant.User.Name, err))
		}
		// Stale means the result was already recorded, nothing to do.
	}

	attached, err = s.Store.ListRacesByLiveRace(liveRace.ID)
	if err != nil {
		return warnings, err
	}
	open := 0
	for _, r := range attached {
		if r.Status == models.RaceStatusInProgress {
			open++
		}
	}
	if open > 0 {
		warnings = append(warnings, fmt.Sprintf("%d race(s) are still in progress, record again when they finish", open))
	} else {
		liveRace.Status = "finished"
		if err := s.Store.UpdateLiveRace(liveRace); err != nil {
			return warnings, err
		}
	}

	log.Printf("✅ Recorded live race %s: %d entrant(s), %d warning(s)", slug, len(room.Entrants), len(warnings))
	return warnings, nil
}

func findLivePermalink(t *models.Tournament, poolName string) *models.Permalink {
	for i := range t.Pools {
		pool := &t.Pools[i]
		if poolName != "" && pool.Name != poolName {
			continue
		}
		for j := range pool.Permalinks {
			if pool.Permalinks[j].LiveRace {
				return &pool.Permalinks[j]
			}
		}
	}
	return nil
}

func (s *LiveRaceService) findAttachedRace(liveRaceID, userID string) *models.Race {
	attached, err := s.Store.ListRacesByLiveRace(liveRaceID)
	if err != nil {
		return nil
	}
	for i := range attached {
		if attached[i].UserID == userID {
			return &attached[i]
		}
	}
	return nil
}

// translateEntrant maps racetime entrant statuses onto race statuses. An
// empty status means the entrant has not reached a terminal state.
func translateEntrant(room *RacetimeRace, entrant RacetimeEntrant) (models.RaceStatus, *time.Time) {
	switch entrant.Status.Value {
	case "done":
		return models.RaceStatusFinished, entrant.FinishedAt
	case "dnf":
		return models.RaceStatusForfeit, nil
	case "dq":
		return models.RaceStatusDisqualified, room.EndedAt
	default:
		return "", nil
	}
}
