package models

import "time"

// Audit actions recorded against tournaments and races.
const (
	AuditCreate         = "create"
	AuditCreateThread   = "create_thread"
	AuditRaceReady      = "race_ready"
	AuditRaceCountdown  = "race_countdown"
	AuditRaceStarted    = "race_started"
	AuditRaceFinish     = "race_finish"
	AuditRunnerForfeit  = "runner_forfeit"
	AuditTimeoutForfeit = "timeout_forfeit"
	AuditExtendTimeout  = "extend_timeout"
	AuditReattempt      = "reattempt"
	AuditAdminUpdate    = "admin_update"
	AuditExport         = "export"
	AuditJoinLiveRace   = "join_live_race"
)

// AuditLog is an append-only trail entry. UserID is nil for actions taken by
// the system itself, such as timeout sweeps.
type AuditLog struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	TournamentID string    `json:"tournament_id" gorm:"index;not null"`
	UserID       *string   `json:"user_id,omitempty" gorm:"index"`
	RaceID       *string   `json:"race_id,omitempty" gorm:"index"`
	Action       string    `json:"action" gorm:"index;not null"`
	Details      string    `json:"details,omitempty"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}
