// services/review_service.go
package services

import (
	stderrors "errors"

	"async-tournament-system/errors"
	"async-tournament-system/models"
	"async-tournament-system/storage"
)

// ReviewService runs the moderator review queue over finished runs.
type ReviewService struct {
	Store storage.Store
	Races *RaceService
}

func NewReviewService(store storage.Store, races *RaceService) *ReviewService {
	return &ReviewService{Store: store, Races: races}
}

// Queue lists finished, unreviewed, non-voided races. A moderator cannot
// review their own runs, so those are filtered per caller.
func (s *ReviewService) Queue(channelID string, actor Actor) ([]models.Race, error) {
	t, err := s.Store.GetTournamentByChannel(channelID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.Validation("channel_not_configured", "this channel has no async tournament attached")
		}
		return nil, err
	}
	if err := s.Races.requireModerator(t.ID, actor); err != nil {
		return nil, err
	}

	races, err := s.Store.ListRacesForTournament(t.ID)
	if err != nil {
		return nil, err
	}
	var out []models.Race
	for _, r := range races {
		if r.Status != models.RaceStatusFinished || r.Reattempted {
			continue
		}
		if r.ReviewStatus != models.ReviewStatusPending {
			continue
		}
		if r.User.DiscordUserID == actor.DiscordUserID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Claim reserves a race for the reviewer. Reclaiming your own claim is a
// no-op; stealing someone else's is refused.
func (s *ReviewService) Claim(raceID string, actor Actor) (*models.Race, error) {
	race, err := s.Store.GetRace(raceID)
	if err != nil {
		return nil, raceErr(err)
	}
	if err := s.Races.requireModerator(race.TournamentID, actor); err != nil {
		return nil, err
	}
	if race.User.DiscordUserID == actor.DiscordUserID {
		return nil, errors.Authorization("self_review", "you cannot review your own run")
	}
	if race.Status != models.RaceStatusFinished || race.Reattempted {
		return nil, errors.StateConflict("invalid_state", "only finished runs can be reviewed")
	}

	reviewer, err := s.Store.GetOrCreateUserByDiscordID(actor.DiscordUserID, actor.DisplayName)
	if err != nil {
		return nil, err
	}

	updated, err := s.Store.TransitionRace(raceID, []models.RaceStatus{models.RaceStatusFinished}, func(r *models.Race) error {
		if r.ReviewedByID != nil && *r.ReviewedByID != reviewer.ID {
			return errors.StateConflict("already_claimed", "another moderator already claimed this run")
		}
		r.ReviewedByID = &reviewer.ID
		return nil
	})
	if err != nil {
		return nil, raceErr(err)
	}
	return updated, nil
}

// Submit finalizes the review. Only the claiming moderator may submit.
func (s *ReviewService) Submit(raceID string, actor Actor, approve bool, notes string) (*models.Race, error) {
	race, err := s.Store.GetRace(raceID)
	if err != nil {
		return nil, raceErr(err)
	}
	if err := s.Races.requireModerator(race.TournamentID, actor); err != nil {
		return nil, err
	}
	reviewer, err := s.Store.GetOrCreateUserByDiscordID(actor.DiscordUserID, actor.DisplayName)
	if err != nil {
		return nil, err
	}

	updated, err := s.Store.TransitionRace(raceID, []models.RaceStatus{models.RaceStatusFinished}, func(r *models.Race) error {
		if r.ReviewedByID == nil || *r.ReviewedByID != reviewer.ID {
			return errors.Authorization("not_claimant", "claim the run before submitting a review")
		}
		if r.ReviewStatus != models.ReviewStatusPending {
			return errors.StateConflict("invalid_state", "run is already reviewed")
		}
		now := s.Races.Now()
		r.ReviewedAt = &now
		r.ReviewerNotes = notes
		if approve {
			r.ReviewStatus = models.ReviewStatusApproved
		} else {
			r.ReviewStatus = models.ReviewStatusRejected
		}
		return nil
	})
	if err != nil {
		return nil, raceErr(err)
	}
	return updated, nil
}
