package generation

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"pixelforge/pkg/errutil"
)

// Repository owns all reads and writes of Task rows and their event log.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to an open transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, task *Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Transition validates the lifecycle order on the in-memory task, then
// persists the new status together with any extra column updates.
func (r *Repository) Transition(ctx context.Context, task *Task, next Status, updates map[string]any) error {
	if err := task.TransitionTo(next); err != nil {
		return err
	}

	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = next

	return r.db.WithContext(ctx).Model(&Task{}).Where("id = ?", task.ID).Updates(updates).Error
}

func (r *Repository) Update(ctx context.Context, id string, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&Task{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) AppendEvent(ctx context.Context, event *TaskEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *Repository) Events(ctx context.Context, taskID string) ([]*TaskEvent, error) {
	var events []*TaskEvent
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
