package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pixelforge/pkg/errutil"
	"pixelforge/pkg/imaging"
	"pixelforge/pkg/inference"
	"pixelforge/services/broadcaster"
	"pixelforge/services/generation"
	"pixelforge/services/notifier"
)

// Outcome is how a single delivery ended. Duplicate and already-complete are
// short-circuits, not failures.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeFailed          Outcome = "failed"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeAlreadyComplete Outcome = "already_complete"
)

// Processor drives one task end-to-end: lock, load, quota, pipeline, status
// publication and unconditional lock release.
type Processor struct {
	runtime *Runtime
	node    *snowflake.Node
}

type ProcessorParams struct {
	fx.In
	Runtime *Runtime
	Node    *snowflake.Node
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{runtime: p.Runtime, node: p.Node}
}

// Process handles one queue delivery. A non-nil error means the delivery
// should be redelivered by the broker (infrastructure trouble before the
// pipeline started); pipeline failures are terminal and return OutcomeFailed
// with a nil error.
func (p *Processor) Process(ctx context.Context, msg *generation.QueueMessage) (Outcome, error) {
	if err := p.runtime.ready(); err != nil {
		return OutcomeFailed, err
	}

	rt := p.runtime
	repo := generation.NewRepository(rt.db)
	zapLog := zap.L().With(
		zap.String("task_id", msg.TaskID),
		zap.String("user_id", msg.UserID),
	)

	acquired, err := rt.notifier.AcquireTask(ctx, msg.TaskID)
	if err != nil {
		return OutcomeFailed, err
	}
	if !acquired {
		tasksDuplicate.Inc()
		zapLog.Info("duplicate delivery, lock held by another worker")
		return OutcomeDuplicate, nil
	}
	defer func() {
		if err := rt.notifier.ReleaseTask(context.WithoutCancel(ctx), msg.TaskID); err != nil {
			zapLog.Error("failed to release task lock", zap.Error(err))
		}
	}()

	if _, err := rt.notifier.PublishStatus(ctx, &notifier.StatusMessage{
		Type:             "accepted",
		Status:           "accepted",
		TaskID:           msg.TaskID,
		Prompt:           msg.Prompt,
		Priority:         msg.Priority,
		SubscriptionTier: msg.SubscriptionTier,
		InputURL:         msg.InputURL,
	}); err != nil {
		zapLog.Warn("failed to publish accepted status", zap.Error(err))
	}

	task, err := repo.FindByID(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, errutil.ErrTaskNotFound) {
			tasksFailed.Inc()
			zapLog.Error("task row does not exist, dead-lettering")
			if dlErr := rt.notifier.PublishDeadLetter(ctx, msg.TaskID, err.Error(), errutil.CategoryNotFound); dlErr != nil {
				zapLog.Error("failed to publish dead letter", zap.Error(dlErr))
			}
			return OutcomeFailed, nil
		}
		return OutcomeFailed, err
	}

	if task.Status == generation.StatusSucceeded {
		zapLog.Info("task already complete, skipping")
		return OutcomeAlreadyComplete, nil
	}

	now := time.Now()
	updates := map[string]any{"started_at": now}
	if task.QueuedAt == nil {
		updates["queued_at"] = now
	}
	if err := repo.Transition(ctx, task, generation.StatusRunning, updates); err != nil {
		return OutcomeFailed, err
	}
	task.StartedAt = &now
	if task.QueuedAt == nil {
		task.QueuedAt = &now
	}
	p.appendEvent(ctx, repo, task.ID, generation.EventProcessingStarted, "worker picked up task")

	quotaSubID, quotaIncremented, err := p.chargeQuota(ctx, task.UserID)
	if err != nil {
		p.handleFailure(ctx, repo, task, err, quotaSubID, quotaIncremented)
		return OutcomeFailed, nil
	}

	if err := p.runPipeline(ctx, repo, task); err != nil {
		p.handleFailure(ctx, repo, task, err, quotaSubID, quotaIncremented)
		return OutcomeFailed, nil
	}

	tasksSucceeded.Inc()
	zapLog.Info("generation task succeeded")
	return OutcomeSucceeded, nil
}

// chargeQuota charges one unit against the user's active subscription, if
// any, and reports what must be rolled back on failure.
func (p *Processor) chargeQuota(ctx context.Context, userID string) (string, bool, error) {
	sub, err := p.runtime.subs.ActiveForUser(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if sub == nil {
		return "", false, nil
	}
	if err := p.runtime.subs.IncrementQuota(ctx, sub.ID); err != nil {
		return "", false, err
	}
	return sub.ID, true, nil
}

func (p *Processor) runPipeline(ctx context.Context, repo *generation.Repository, task *generation.Task) error {
	rt := p.runtime

	bucket := task.InputBucket
	if bucket == "" {
		bucket = rt.cfg.Storage.Bucket
	}

	input, _, err := rt.store.Download(ctx, bucket, task.InputKey)
	if err != nil {
		return err
	}

	var params map[string]any
	if len(task.Parameters) > 0 {
		if err := json.Unmarshal(task.Parameters, &params); err != nil {
			return fmt.Errorf("decode task parameters: %w", err)
		}
	}

	resp, err := rt.inference.Generate(ctx, &inference.Request{
		Prompt:     task.Prompt,
		Parameters: params,
		InputImage: input,
	})
	if err != nil {
		return err
	}

	thumb, err := imaging.Thumbnail(resp.Image)
	if err != nil {
		return err
	}

	resultKey := fmt.Sprintf("%s/%s.jpg", rt.cfg.Storage.ResultPrefix, task.ID)
	thumbKey := fmt.Sprintf("%s/%s.jpg", rt.cfg.Storage.ThumbPrefix, task.ID)

	resultURL, err := rt.store.Upload(ctx, bucket, resultKey, resp.Image, "image/jpeg")
	if err != nil {
		return err
	}
	thumbURL, err := rt.store.Upload(ctx, bucket, thumbKey, thumb, "image/jpeg")
	if err != nil {
		return err
	}

	now := time.Now()
	metadata := mergeMetadata(task.Metadata, resp.Metadata)
	if err := repo.Transition(ctx, task, generation.StatusSucceeded, map[string]any{
		"result_key":    resultKey,
		"result_url":    resultURL,
		"thumbnail_key": thumbKey,
		"thumbnail_url": thumbURL,
		"completed_at":  now,
		"metadata":      metadata,
	}); err != nil {
		return err
	}
	task.ResultKey = resultKey
	task.ResultURL = resultURL
	task.ThumbnailKey = thumbKey
	task.ThumbnailURL = thumbURL
	task.CompletedAt = &now
	task.Metadata = metadata

	p.appendEvent(ctx, repo, task.ID, generation.EventSucceeded, "generation completed")

	statusMsg := broadcaster.SnapshotFromTask(task)
	statusMsg.Type = "succeeded"
	if _, err := rt.notifier.PublishStatus(ctx, statusMsg); err != nil {
		zap.L().Warn("failed to publish succeeded status", zap.String("task_id", task.ID), zap.Error(err))
	}

	return nil
}

// handleFailure is the single catch point for one delivery: it reverts the
// quota charge, persists the terminal failed state with a snapshot of the
// prior status, and publishes both the status update and the dead letter.
func (p *Processor) handleFailure(ctx context.Context, repo *generation.Repository, task *generation.Task, cause error, quotaSubID string, quotaIncremented bool) {
	rt := p.runtime
	tasksFailed.Inc()

	zapLog := zap.L().With(zap.String("task_id", task.ID))
	zapLog.Error("generation task failed", zap.Error(cause))

	if fresh, err := repo.FindByID(ctx, task.ID); err == nil {
		fresh.StartedAt = task.StartedAt
		task = fresh
	}

	if quotaIncremented {
		subID := quotaSubID
		if subID == "" {
			// No memo from the increment; fall back to the user's current
			// active subscription. If it changed mid-run the rollback can
			// target the wrong record. Known gap.
			if sub, err := rt.subs.ActiveForUser(ctx, task.UserID); err == nil && sub != nil {
				subID = sub.ID
			}
		}
		if subID != "" {
			if err := rt.subs.DecrementQuota(ctx, subID); err != nil {
				zapLog.Error("failed to revert quota charge", zap.String("subscription_id", subID), zap.Error(err))
			}
		}
	}

	category := errutil.Classify(cause)
	metadata := mergeMetadata(task.Metadata, map[string]any{"prior_status": string(task.Status)})

	now := time.Now()
	if err := repo.Transition(ctx, task, generation.StatusFailed, map[string]any{
		"error_msg":    cause.Error(),
		"completed_at": now,
		"metadata":     metadata,
	}); err != nil {
		zapLog.Error("failed to persist failed state", zap.Error(err))
	}
	task.ErrorMsg = cause.Error()
	task.CompletedAt = &now
	task.Metadata = metadata

	p.appendEvent(ctx, repo, task.ID, generation.EventFailed, cause.Error())

	statusMsg := broadcaster.SnapshotFromTask(task)
	statusMsg.Type = "failed"
	if _, err := rt.notifier.PublishStatus(ctx, statusMsg); err != nil {
		zapLog.Warn("failed to publish failed status", zap.Error(err))
	}

	if err := rt.notifier.PublishDeadLetter(ctx, task.ID, cause.Error(), category); err != nil {
		zapLog.Error("failed to publish dead letter", zap.Error(err))
	}
}

func (p *Processor) appendEvent(ctx context.Context, repo *generation.Repository, taskID, eventType, message string) {
	event := &generation.TaskEvent{
		ID:      p.node.Generate().String(),
		TaskID:  taskID,
		Type:    eventType,
		Message: message,
	}
	if err := repo.AppendEvent(ctx, event); err != nil {
		zap.L().Error("failed to append task event",
			zap.String("task_id", taskID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

func mergeMetadata(existing datatypes.JSON, extra map[string]any) datatypes.JSON {
	merged := map[string]any{}
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &merged)
	}
	for k, v := range extra {
		merged[k] = v
	}
	out, _ := json.Marshal(merged)
	return datatypes.JSON(out)
}
