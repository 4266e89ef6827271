// workers/timeout_sweeper.go
package workers

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"async-tournament-system/models"
	"async-tournament-system/notify"
	"async-tournament-system/storage"
)

// TimeoutSweeper forfeits races whose runners went silent: pending races
// past their ready deadline and in-progress races running absurdly long.
type TimeoutSweeper struct {
	Store storage.Store
	Sink  notify.Sink
	Now   func() time.Time

	// Pending runners get warned once per sweep inside this window before
	// the deadline.
	WarningWindow   time.Duration
	InProgressLimit time.Duration
	PendingGrace    time.Duration
}

func NewTimeoutSweeper(store storage.Store, sink notify.Sink) *TimeoutSweeper {
	return &TimeoutSweeper{
		Store:           store,
		Sink:            sink,
		Now:             func() time.Time { return time.Now().UTC() },
		WarningWindow:   10 * time.Minute,
		InProgressLimit: 12 * time.Hour,
		PendingGrace:    20 * time.Minute,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (w *TimeoutSweeper) Run(ctx context.Context, interval time.Duration) {
	log.Println("Starting race timeout sweeper...")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Race timeout sweeper stopped.")
			return
		case <-ticker.C:
			w.SweepPending()
			w.SweepInProgress()
		}
	}
}

// SweepPending warns runners approaching their ready deadline and forfeits
// the ones past it.
func (w *TimeoutSweeper) SweepPending() {
	races, err := w.Store.ListRacesWithStatus(models.RaceStatusPending)
	if err != nil {
		log.Printf("❌ Sweeper failed to list pending races: %v", err)
		return
	}
	now := w.Now()

	for _, r := range races {
		deadline := w.deadline(&r)
		if deadline.IsZero() {
			continue
		}

		if now.Before(deadline) {
			if deadline.Sub(now) <= w.WarningWindow {
				minutes := int(deadline.Sub(now).Minutes()) + 1
				msg := fmt.Sprintf("⏰ You have about %d minute(s) left to `ready` up before this race is forfeited.", minutes)
				if err := w.Sink.Send(r.ThreadID, msg); err != nil {
					log.Printf("❌ Sweeper warning failed for thread %s: %v", r.ThreadID, err)
				}
			}
			continue
		}

		w.forfeit(&r, "ready deadline passed")
	}
}

// SweepInProgress forfeits races running longer than the hard limit. Twelve
// hours covers any legitimate run of these games.
func (w *TimeoutSweeper) SweepInProgress() {
	races, err := w.Store.ListRacesWithStatus(models.RaceStatusInProgress)
	if err != nil {
		log.Printf("❌ Sweeper failed to list in-progress races: %v", err)
		return
	}
	now := w.Now()

	for _, r := range races {
		if r.StartTime == nil || now.Sub(*r.StartTime) <= w.InProgressLimit {
			continue
		}
		w.forfeit(&r, "run exceeded the time limit")
	}
}

func (w *TimeoutSweeper) deadline(r *models.Race) time.Time {
	if r.ThreadTimeoutTime != nil {
		return *r.ThreadTimeoutTime
	}
	if r.ThreadOpenTime != nil {
		return r.ThreadOpenTime.Add(w.PendingGrace)
	}
	return time.Time{}
}

// forfeit applies the timeout transition. A runner action racing the sweep
// wins; stale transitions are skipped quietly.
func (w *TimeoutSweeper) forfeit(r *models.Race, reason string) {
	_, err := w.Store.TransitionRace(r.ID,
		[]models.RaceStatus{models.RaceStatusPending, models.RaceStatusInProgress},
		func(race *models.Race) error {
			race.Status = models.RaceStatusForfeit
			return nil
		})
	if err != nil {
		if stderrors.Is(err, storage.ErrStaleTransition) {
			return
		}
		log.Printf("❌ Sweeper failed to forfeit race %s: %v", r.ID, err)
		return
	}

	entry := &models.AuditLog{
		TournamentID: r.TournamentID,
		RaceID:       &r.ID,
		Action:       models.AuditTimeoutForfeit,
		Details:      reason,
	}
	if err := w.Store.AppendAudit(entry); err != nil {
		log.Printf("❌ Sweeper failed to audit forfeit of race %s: %v", r.ID, err)
	}

	if r.ThreadID != "" {
		if err := w.Sink.Send(r.ThreadID, "Race forfeited: "+reason+"."); err != nil {
			log.Printf("❌ Sweeper message failed for thread %s: %v", r.ThreadID, err)
		}
	}
	log.Printf("🚫 Forfeited race %s (%s)", r.ID, reason)
}
