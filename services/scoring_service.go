// services/scoring_service.go
package services

import (
	"log"
	"sort"
	"time"

	"async-tournament-system/models"
	"async-tournament-system/storage"
)

// Fewer finishers than this in a pool and the pool is not scored yet.
const minFinishersForPar = 5

// Which finisher's time anchors the pool's par.
const parRank = 5

// ScoringService computes pool pars and race scores. Scores are stored on
// the races themselves so the read API serves them without recomputation.
type ScoringService struct {
	Store storage.Store

	// OnlyApproved restricts scoring to runs that passed review.
	OnlyApproved bool
}

func NewScoringService(store storage.Store) *ScoringService {
	return &ScoringService{Store: store}
}

// eligible reports whether a finished race participates in par calculation
// and receives a score.
func (s *ScoringService) eligible(r *models.Race) bool {
	if r.Status != models.RaceStatusFinished || r.Reattempted {
		return false
	}
	if s.OnlyApproved && r.ReviewStatus != models.ReviewStatusApproved {
		return false
	}
	return r.StartTime != nil && r.EndTime != nil
}

// ParTime returns the pool's par duration: the elapsed time of the fifth
// fastest eligible finisher. ok is false while the pool has too few
// finishers to be scored.
func (s *ScoringService) ParTime(races []models.Race) (time.Duration, bool) {
	var times []time.Duration
	for i := range races {
		if s.eligible(&races[i]) {
			times = append(times, races[i].Elapsed())
		}
	}
	if len(times) < minFinishersForPar {
		return 0, false
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times[parRank-1], true
}

// Score maps an elapsed time onto the 0..200 scale. Running exactly at par
// scores 100, twice par or slower scores 0, and the fastest possible run
// caps at 200.
func Score(elapsed, par time.Duration) float64 {
	if par <= 0 {
		return 0
	}
	score := (2 - elapsed.Seconds()/par.Seconds()) * 100
	if score < 0 {
		return 0
	}
	if score > 200 {
		return 200
	}
	return score
}

// CalculateTournament recomputes and persists scores for every race in the
// tournament. Forfeits and disqualifications score zero, unscored pools
// leave their races without a score.
func (s *ScoringService) CalculateTournament(tournamentID string) error {
	races, err := s.Store.ListRacesForTournament(tournamentID)
	if err != nil {
		return err
	}

	byPool := map[string][]models.Race{}
	for _, r := range races {
		byPool[r.Permalink.PoolID] = append(byPool[r.Permalink.PoolID], r)
	}

	for poolID, poolRaces := range byPool {
		par, ok := s.ParTime(poolRaces)
		for i := range poolRaces {
			r := poolRaces[i]
			var score *float64
			switch {
			case r.Reattempted:
				// Voided runs never carry a score.
			case r.Status == models.RaceStatusForfeit, r.Status == models.RaceStatusDisqualified:
				zero := 0.0
				score = &zero
			case ok && s.eligible(&r):
				v := Score(r.Elapsed(), par)
				score = &v
			}

			if !scoreEqual(r.Score, score) {
				r.Score = score
				if err := s.Store.UpdateRace(&r); err != nil {
					log.Printf("❌ Failed to save score for race %s: %v", r.ID, err)
				}
			}
		}
		if !ok {
			log.Printf("[Scoring] Pool %s has too few finishers, skipped", poolID)
		}
	}
	return nil
}

// CalculateAll runs scoring across every active tournament, logging and
// continuing on individual failures.
func (s *ScoringService) CalculateAll() {
	tournaments, err := s.Store.ListActiveTournaments()
	if err != nil {
		log.Printf("[Scoring] Failed to list tournaments: %v", err)
		return
	}
	for _, t := range tournaments {
		if err := s.CalculateTournament(t.ID); err != nil {
			log.Printf("❌ Scoring failed for tournament %s: %v", t.Name, err)
			continue
		}
	}
}

func scoreEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// PoolScore is a runner's best scored attempt in one pool.
type PoolScore struct {
	PoolID string   `json:"pool_id"`
	Pool   string   `json:"pool"`
	Score  *float64 `json:"score"`
}

// LeaderboardEntry is one runner's standing.
type LeaderboardEntry struct {
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name"`
	Total       float64     `json:"total"`
	Finished    int         `json:"finished"`
	Forfeited   int         `json:"forfeited"`
	Unplayed    int         `json:"unplayed"`
	Scores      []PoolScore `json:"scores"`
}

// Leaderboard aggregates stored scores per runner. Only the best attempt in
// each pool counts toward the total, listed in pool order. Ties on total
// break by earliest finish, then display name, so the ordering is stable.
func (s *ScoringService) Leaderboard(tournamentID string) ([]LeaderboardEntry, error) {
	t, err := s.Store.GetTournament(tournamentID)
	if err != nil {
		return nil, err
	}
	races, err := s.Store.ListRacesForTournament(tournamentID)
	if err != nil {
		return nil, err
	}

	type agg struct {
		entry       LeaderboardEntry
		earliestEnd time.Time
		hasFinish   bool
		best        map[string]*float64
		played      map[string]bool
	}
	byUser := map[string]*agg{}

	for _, r := range races {
		if r.Reattempted {
			continue
		}
		a := byUser[r.UserID]
		if a == nil {
			a = &agg{
				entry:  LeaderboardEntry{UserID: r.UserID, DisplayName: r.User.DisplayName},
				best:   map[string]*float64{},
				played: map[string]bool{},
			}
			byUser[r.UserID] = a
		}
		poolID := r.Permalink.PoolID
		a.played[poolID] = true
		switch r.Status {
		case models.RaceStatusFinished:
			a.entry.Finished++
			if r.EndTime != nil && (!a.hasFinish || r.EndTime.Before(a.earliestEnd)) {
				a.earliestEnd = *r.EndTime
				a.hasFinish = true
			}
		case models.RaceStatusForfeit, models.RaceStatusDisqualified:
			a.entry.Forfeited++
		}
		if r.Score != nil {
			if cur, ok := a.best[poolID]; !ok || *r.Score > *cur {
				a.best[poolID] = r.Score
			}
		}
	}

	out := make([]LeaderboardEntry, 0, len(byUser))
	ends := make(map[string]time.Time, len(byUser))
	for _, a := range byUser {
		for _, pool := range t.Pools {
			if sc, ok := a.best[pool.ID]; ok {
				a.entry.Total += *sc
				a.entry.Scores = append(a.entry.Scores, PoolScore{PoolID: pool.ID, Pool: pool.Name, Score: sc})
			}
		}
		a.entry.Unplayed = len(t.Pools) - len(a.played)
		out = append(out, a.entry)
		if a.hasFinish {
			ends[a.entry.UserID] = a.earliestEnd
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		ei, iok := ends[out[i].UserID]
		ej, jok := ends[out[j].UserID]
		if iok && jok && !ei.Equal(ej) {
			return ei.Before(ej)
		}
		if iok != jok {
			return iok
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out, nil
}
