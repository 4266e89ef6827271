// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartScoringScheduler recomputes pars and scores for every active
// tournament on an interval.
func (s *ScoringService) StartScoringScheduler(interval time.Duration) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			log.Println("[Scheduler] Recomputing tournament scores")
			s.CalculateAll()
		}),
	)
}
