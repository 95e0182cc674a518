package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pixelforge/pkg/config"
	"pixelforge/pkg/storage"
)

// Service is the submission boundary: it persists the Task row, uploads the
// input asset and publishes the queue message.
type Service struct {
	repo      *Repository
	node      *snowflake.Node
	store     storage.ObjectStore
	publisher *Publisher

	bucket      string
	inputPrefix string
	maxPriority int
}

type Params struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Store     storage.ObjectStore
	Publisher *Publisher
	Cfg       *config.Config
}

func NewService(p Params) *Service {
	return &Service{
		repo:        NewRepository(p.DB),
		node:        p.Node,
		store:       p.Store,
		publisher:   p.Publisher,
		bucket:      p.Cfg.Storage.Bucket,
		inputPrefix: p.Cfg.Storage.InputPrefix,
		maxPriority: p.Cfg.Queue.MaxPriority,
	}
}

type SubmitRequest struct {
	UserID           string
	Prompt           string
	Parameters       map[string]any
	SubscriptionTier string
	Input            []byte
	InputExt         string
	InputContentType string
}

// Submit creates the task row as queued, uploads the input asset and
// publishes the queue message, recording an audit event after each step.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*Task, error) {
	taskID := s.node.Generate().String()

	params, err := json.Marshal(req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	now := time.Now()
	task := &Task{
		ID:               taskID,
		UserID:           req.UserID,
		Prompt:           req.Prompt,
		Parameters:       datatypes.JSON(params),
		Status:           StatusQueued,
		Priority:         EffectivePriority(req.SubscriptionTier, s.maxPriority),
		SubscriptionTier: req.SubscriptionTier,
		QueuedAt:         &now,
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, taskID, EventCreated, "task created")

	key := fmt.Sprintf("%s/%s/%s%s", s.inputPrefix, req.UserID, taskID, req.InputExt)
	url, err := s.store.Upload(ctx, s.bucket, key, req.Input, req.InputContentType)
	if err != nil {
		s.markSubmitFailed(ctx, task, err)
		return nil, err
	}

	task.InputBucket = s.bucket
	task.InputKey = key
	task.InputURL = url
	if err := s.repo.Update(ctx, taskID, map[string]any{
		"input_bucket": s.bucket,
		"input_key":    key,
		"input_url":    url,
	}); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, taskID, EventStorageUploaded, "input asset uploaded")

	if err := s.publisher.Publish(ctx, &QueueMessage{
		TaskID:           taskID,
		UserID:           req.UserID,
		Prompt:           req.Prompt,
		Parameters:       req.Parameters,
		InputURL:         url,
		Bucket:           s.bucket,
		Key:              key,
		SubscriptionTier: req.SubscriptionTier,
	}); err != nil {
		s.markSubmitFailed(ctx, task, err)
		return nil, err
	}
	s.appendEvent(ctx, taskID, EventQueuePublished, "queue message published")

	return task, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) markSubmitFailed(ctx context.Context, task *Task, cause error) {
	if err := s.repo.Transition(ctx, task, StatusFailed, map[string]any{
		"error_msg":    cause.Error(),
		"completed_at": time.Now(),
	}); err != nil {
		zap.L().Error("failed to mark task failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (s *Service) appendEvent(ctx context.Context, taskID, eventType, message string) {
	event := &TaskEvent{
		ID:      s.node.Generate().String(),
		TaskID:  taskID,
		Type:    eventType,
		Message: message,
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		zap.L().Error("failed to append task event",
			zap.String("task_id", taskID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}
