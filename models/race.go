package models

import (
	"fmt"
	"time"
)

// RaceStatus tracks a run through its lifecycle.
type RaceStatus string

const (
	RaceStatusPending      RaceStatus = "pending"
	RaceStatusInProgress   RaceStatus = "in_progress"
	RaceStatusFinished     RaceStatus = "finished"
	RaceStatusForfeit      RaceStatus = "forfeit"
	RaceStatusDisqualified RaceStatus = "disqualified"
)

// ReviewStatus tracks moderator sign-off on a finished run.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// Race is a single attempt by one runner against one permalink.
type Race struct {
	ID           string  `json:"id" gorm:"primaryKey"`
	TournamentID string  `json:"tournament_id" gorm:"index;not null"`
	UserID       string  `json:"user_id" gorm:"index;not null"`
	PermalinkID  string  `json:"permalink_id" gorm:"index;not null"`
	LiveRaceID   *string `json:"live_race_id,omitempty" gorm:"index"`

	ThreadID string     `json:"thread_id"`
	Status   RaceStatus `json:"status" gorm:"index;default:pending"`

	ThreadOpenTime    *time.Time `json:"thread_open_time,omitempty"`
	ThreadTimeoutTime *time.Time `json:"thread_timeout_time,omitempty"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`

	Reattempted     bool   `json:"reattempted" gorm:"default:false"`
	ReattemptReason string `json:"reattempt_reason,omitempty"`

	ReviewedByID  *string      `json:"reviewed_by_id,omitempty" gorm:"index"`
	ReviewedAt    *time.Time   `json:"reviewed_at,omitempty"`
	ReviewStatus  ReviewStatus `json:"review_status" gorm:"default:pending"`
	ReviewerNotes string       `json:"reviewer_notes,omitempty"`

	RunnerVodURL string   `json:"runner_vod_url,omitempty"`
	RunnerNotes  string   `json:"runner_notes,omitempty"`
	Score        *float64 `json:"score,omitempty"`

	Tournament Tournament `json:"-" gorm:"foreignKey:TournamentID"`
	User       User       `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Permalink  Permalink  `json:"permalink,omitempty" gorm:"foreignKey:PermalinkID"`

	Timestamps
}

// Active reports whether the race still occupies the runner's slot for its
// pool. Terminal states free the slot.
func (r *Race) Active() bool {
	return r.Status == RaceStatusPending || r.Status == RaceStatusInProgress
}

// Elapsed returns the run duration. For unfinished races it is zero.
func (r *Race) Elapsed() time.Duration {
	if r.StartTime == nil || r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(*r.StartTime)
}

// ElapsedAt returns the running duration as of now for an in-progress race.
func (r *Race) ElapsedAt(now time.Time) time.Duration {
	if r.StartTime == nil {
		return 0
	}
	return now.Sub(*r.StartTime)
}

// FormatElapsed renders a duration as HH:MM:SS, truncating sub-second parts.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
