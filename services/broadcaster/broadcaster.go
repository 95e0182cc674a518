package broadcaster

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"pixelforge/pkg/config"
	"pixelforge/pkg/rediskey"
	"pixelforge/services/generation"
	"pixelforge/services/notifier"
)

var Module = fx.Module("broadcaster.module",
	fx.Provide(NewBroadcaster),
	fx.Invoke(RunRelay),
)

// snapshotStore is the slice of *redis.Client used for snapshot persistence.
type snapshotStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Broadcaster turns processor-published status events into durable snapshots
// so observers that reconnect mid-processing can catch up. The live fan-out
// itself is the per-task pub/sub channel the notifier publishes on.
type Broadcaster struct {
	rdb   snapshotStore
	repo  *generation.Repository
	ttl   time.Duration
	group singleflight.Group
}

type Params struct {
	fx.In
	Redis *redis.Client
	DB    *gorm.DB
	Cfg   *config.Config
}

func NewBroadcaster(p Params) *Broadcaster {
	return &Broadcaster{
		rdb:  p.Redis,
		repo: generation.NewRepository(p.DB),
		ttl:  p.Cfg.Snapshot.TTL,
	}
}

// Store persists msg as the task's latest snapshot.
func (b *Broadcaster) Store(ctx context.Context, msg *notifier.StatusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, rediskey.BuildTaskSnapshotKey(msg.TaskID), payload, b.ttl).Err()
}

// Snapshot returns the task's latest persisted snapshot. When none exists it
// synthesizes one from the current Task row with sequence 0; concurrent
// misses for the same task collapse into a single database read.
func (b *Broadcaster) Snapshot(ctx context.Context, taskID string) (*notifier.StatusMessage, error) {
	val, err := b.rdb.Get(ctx, rediskey.BuildTaskSnapshotKey(taskID)).Result()
	if err == nil {
		var msg notifier.StatusMessage
		if err := json.Unmarshal([]byte(val), &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	result, err, _ := b.group.Do(taskID, func() (any, error) {
		task, err := b.repo.FindByID(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return SnapshotFromTask(task), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*notifier.StatusMessage), nil
}

// SnapshotFromTask serializes the current Task row into a sequence-0 status
// message.
func SnapshotFromTask(task *generation.Task) *notifier.StatusMessage {
	msg := &notifier.StatusMessage{
		Type:             "snapshot",
		Sequence:         0,
		Status:           string(task.Status),
		TaskID:           task.ID,
		Prompt:           task.Prompt,
		Parameters:       decodeJSONMap(task.Parameters),
		Priority:         task.Priority,
		SubscriptionTier: task.SubscriptionTier,
		InputURL:         task.InputURL,
		CreatedAt:        &task.CreatedAt,
		UpdatedAt:        &task.UpdatedAt,
		Metadata:         decodeJSONMap(task.Metadata),
		Error:            task.ErrorMsg,
		Terminal:         task.Status.Terminal(),
		SentAt:           time.Now(),
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	if task.ResultURL != "" {
		msg.Metadata["result_url"] = task.ResultURL
	}
	if task.ThumbnailURL != "" {
		msg.Metadata["thumbnail_url"] = task.ThumbnailURL
	}
	return msg
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// RunRelay subscribes to every task status channel and persists each event
// as that task's latest snapshot.
func RunRelay(lc fx.Lifecycle, rdb *redis.Client, b *Broadcaster) {
	var pubsub *redis.PubSub

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pubsub = rdb.PSubscribe(context.Background(), rediskey.TaskStatusPrefix+":*")
			go func() {
				for m := range pubsub.Channel() {
					var msg notifier.StatusMessage
					if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
						zap.L().Warn("dropping malformed status event", zap.String("channel", m.Channel), zap.Error(err))
						continue
					}
					if err := b.Store(context.Background(), &msg); err != nil {
						zap.L().Error("failed to persist status snapshot", zap.String("task_id", msg.TaskID), zap.Error(err))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if pubsub != nil {
				return pubsub.Close()
			}
			return nil
		},
	})
}
