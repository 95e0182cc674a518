package generation

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Status is the task lifecycle state. Transitions only move forward through
// pending -> queued -> running -> {succeeded | failed | canceled}; terminal
// states accept no further transition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusQueued:    1,
	StatusRunning:   2,
	StatusSucceeded: 3,
	StatusFailed:    3,
	StatusCanceled:  3,
}

var ErrInvalidTransition = errors.New("invalid status transition")

func (s Status) Terminal() bool {
	return statusRank[s] == 3
}

// CanTransitionTo reports whether next is strictly forward of s in the
// lifecycle partial order.
func (s Status) CanTransitionTo(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

type Task struct {
	ID               string         `gorm:"column:id;primaryKey;type:char(26)"`
	UserID           string         `gorm:"column:user_id;index;not null"`
	Prompt           string         `gorm:"column:prompt;type:text;not null"`
	Parameters       datatypes.JSON `gorm:"column:parameters"`
	Status           Status         `gorm:"column:status;type:varchar(20);default:'pending';index"`
	Priority         int            `gorm:"column:priority;default:0"`
	SubscriptionTier string         `gorm:"column:subscription_tier;type:varchar(30)"`
	InputBucket      string         `gorm:"column:input_bucket;type:varchar(100)"`
	InputKey         string         `gorm:"column:input_key;type:varchar(255)"`
	InputURL         string         `gorm:"column:input_url;type:text"`
	ResultKey        string         `gorm:"column:result_key;type:varchar(255)"`
	ResultURL        string         `gorm:"column:result_url;type:text"`
	ThumbnailKey     string         `gorm:"column:thumbnail_key;type:varchar(255)"`
	ThumbnailURL     string         `gorm:"column:thumbnail_url;type:text"`
	ErrorMsg         string         `gorm:"column:error_msg;type:text"`
	QueuedAt         *time.Time     `gorm:"column:queued_at"`
	StartedAt        *time.Time     `gorm:"column:started_at"`
	CompletedAt      *time.Time     `gorm:"column:completed_at"`
	Metadata         datatypes.JSON `gorm:"column:metadata"`
	CreatedAt        time.Time      `gorm:"autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime"`
}

func (Task) TableName() string { return "tasks" }

// TransitionTo validates the lifecycle order before mutating the in-memory
// status. Persisting the change is the repository's job.
func (t *Task) TransitionTo(next Status) error {
	if !t.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	t.Status = next
	return nil
}

// TaskEvent is the append-only audit record attached to a task. Events are
// never mutated or deleted.
type TaskEvent struct {
	ID        string         `gorm:"column:id;primaryKey;type:char(26)"`
	TaskID    string         `gorm:"column:task_id;index;not null"`
	Type      string         `gorm:"column:type;type:varchar(50);not null"`
	Message   string         `gorm:"column:message;type:text"`
	Data      datatypes.JSON `gorm:"column:data"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
}

func (TaskEvent) TableName() string { return "task_events" }

const (
	EventCreated           = "created"
	EventStorageUploaded   = "storage_uploaded"
	EventQueuePublished    = "queue_published"
	EventProcessingStarted = "processing_started"
	EventSucceeded         = "succeeded"
	EventFailed            = "failed"
)
