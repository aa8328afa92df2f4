package analysis

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job tracks one speech-pattern analysis of an archived session.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	SessionID string `gorm:"size:64;uniqueIndex;not null"`
	AvatarID  string `gorm:"size:128;index"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded: object-store key of the report.
	ResultKey *string `gorm:"size:255"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "analysis_jobs" }
