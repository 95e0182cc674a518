package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"pixelforge/pkg/config"
	"pixelforge/pkg/errutil"
	"pixelforge/pkg/rediskey"
)

var Module = fx.Module("notifier.module",
	fx.Provide(NewRedisNotifier),
)

// StatusMessage is the JSON payload published on a task's status channel.
type StatusMessage struct {
	Type             string         `json:"type"`
	Sequence         int64          `json:"sequence"`
	Status           string         `json:"status"`
	TaskID           string         `json:"task_id"`
	Prompt           string         `json:"prompt,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	Priority         int            `json:"priority,omitempty"`
	SubscriptionTier string         `json:"subscription_tier,omitempty"`
	InputURL         string         `json:"input_url,omitempty"`
	CreatedAt        *time.Time     `json:"created_at,omitempty"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Error            string         `json:"error,omitempty"`
	Terminal         bool           `json:"terminal"`
	SentAt           time.Time      `json:"sent_at"`
}

// DeadLetterMessage is published on the shared dead-letter channel for
// terminal failures and not-found tasks.
type DeadLetterMessage struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   DeadLetterPayload `json:"payload"`
}

type DeadLetterPayload struct {
	TaskID   string           `json:"task_id"`
	Error    string           `json:"error"`
	Category errutil.Category `json:"category"`
}

// Notifier is the coordination surface the processor depends on: the
// idempotency lock plus the status and dead-letter channels.
type Notifier interface {
	// AcquireTask returns true when this delivery is the sole actor for the
	// task within the lock TTL window.
	AcquireTask(ctx context.Context, taskID string) (bool, error)

	// ReleaseTask unconditionally clears the lock.
	ReleaseTask(ctx context.Context, taskID string) error

	// PublishStatus stamps the message with the next per-task sequence number
	// and publishes it on the task's status channel. Returns the sequence.
	PublishStatus(ctx context.Context, msg *StatusMessage) (int64, error)

	// PublishDeadLetter publishes a terminal failure for operational triage.
	PublishDeadLetter(ctx context.Context, taskID, errMsg string, category errutil.Category) error
}

// redisCommands is the narrow slice of *redis.Client the notifier uses;
// tests fake it with go-redis result constructors.
type redisCommands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisNotifier struct {
	rdb     redisCommands
	lockTTL time.Duration
	seqTTL  time.Duration
}

type RedisParams struct {
	fx.In
	Redis *redis.Client
	Cfg   *config.Config
}

func NewRedisNotifier(p RedisParams) Notifier {
	return &RedisNotifier{
		rdb:     p.Redis,
		lockTTL: p.Cfg.Lock.TTL,
		// sequence counters linger well past the lock so reconnecting
		// observers can still detect gaps
		seqTTL: 24 * time.Hour,
	}
}

func (n *RedisNotifier) AcquireTask(ctx context.Context, taskID string) (bool, error) {
	ok, err := n.rdb.SetNX(ctx, rediskey.BuildTaskLockKey(taskID), "1", n.lockTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (n *RedisNotifier) ReleaseTask(ctx context.Context, taskID string) error {
	return n.rdb.Del(ctx, rediskey.BuildTaskLockKey(taskID)).Err()
}

func (n *RedisNotifier) PublishStatus(ctx context.Context, msg *StatusMessage) (int64, error) {
	seqKey := rediskey.BuildTaskSeqKey(msg.TaskID)
	seq, err := n.rdb.Incr(ctx, seqKey).Result()
	if err != nil {
		return 0, err
	}
	n.rdb.Expire(ctx, seqKey, n.seqTTL)

	msg.Sequence = seq
	msg.SentAt = time.Now()

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	if err := n.rdb.Publish(ctx, rediskey.BuildTaskStatusChannel(msg.TaskID), payload).Err(); err != nil {
		return 0, err
	}

	zap.L().Debug("published task status",
		zap.String("task_id", msg.TaskID),
		zap.String("type", msg.Type),
		zap.Int64("sequence", seq),
	)
	return seq, nil
}

func (n *RedisNotifier) PublishDeadLetter(ctx context.Context, taskID, errMsg string, category errutil.Category) error {
	payload, err := json.Marshal(&DeadLetterMessage{
		Status:    "dead_letter",
		Timestamp: time.Now(),
		Payload: DeadLetterPayload{
			TaskID:   taskID,
			Error:    errMsg,
			Category: category,
		},
	})
	if err != nil {
		return err
	}

	return n.rdb.Publish(ctx, rediskey.DeadLetterChannel, payload).Err()
}

var _ Notifier = (*RedisNotifier)(nil)
