package generation

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"pixelforge/pkg/asynqx"
	"pixelforge/pkg/config"
)

const TaskGeneration = "generation:task"

// QueueMessage is the JSON payload carried by the durable queue between the
// submission boundary and the worker.
type QueueMessage struct {
	TaskID           string         `json:"task_id"`
	UserID           string         `json:"user_id"`
	Prompt           string         `json:"prompt"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	InputURL         string         `json:"input_url"`
	Bucket           string         `json:"bucket"`
	Key              string         `json:"key"`
	Priority         int            `json:"priority"`
	SubscriptionTier string         `json:"subscription_tier"`
}

// Enqueuer is the slice of *asynq.Client the publisher needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Publisher struct {
	enqueuer    Enqueuer
	maxPriority int
}

type PublisherParams struct {
	fx.In
	Asynq *asynq.Client
	Cfg   *config.Config
}

func NewPublisher(p PublisherParams) *Publisher {
	return &Publisher{
		enqueuer:    p.Asynq,
		maxPriority: p.Cfg.Queue.MaxPriority,
	}
}

// Publish resolves the effective priority from the tier, stamps it on the
// message and enqueues on the matching priority band.
func (p *Publisher) Publish(ctx context.Context, msg *QueueMessage) error {
	msg.Priority = EffectivePriority(msg.SubscriptionTier, p.maxPriority)

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	queue := asynqx.QueueForPriority(msg.Priority)
	task := asynq.NewTask(TaskGeneration, payload)

	if _, err := p.enqueuer.Enqueue(task, asynq.Queue(queue)); err != nil {
		return err
	}

	zap.L().Info("enqueued generation task",
		zap.String("task_id", msg.TaskID),
		zap.String("queue", queue),
		zap.Int("priority", msg.Priority),
	)
	return nil
}
