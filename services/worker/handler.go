package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"pixelforge/services/generation"
)

// Worker bridges asynq deliveries into the processor. The handler returns
// nil for success, duplicate and terminal failure so the message is only
// acked once the processor has finished; an error is returned only when
// broker redelivery can help.
type Worker struct {
	processor *Processor
}

func NewWorker(processor *Processor) *Worker {
	return &Worker{processor: processor}
}

func (w *Worker) HandleGenerationTask(ctx context.Context, t *asynq.Task) error {
	var msg generation.QueueMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		zap.L().Error("invalid generation payload", zap.Error(err))
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	outcome, err := w.processor.Process(ctx, &msg)
	if err != nil {
		zap.L().Error("processing hit infrastructure trouble, leaving message for redelivery",
			zap.String("task_id", msg.TaskID),
			zap.Error(err),
		)
		return err
	}

	zap.L().Info("generation delivery handled",
		zap.String("task_id", msg.TaskID),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

var Module = fx.Module("worker.module",
	fx.Provide(
		NewRuntime,
		NewProcessor,
		NewWorker,
	),
	fx.Invoke(Register),
)

// Register wires the handler onto the consumer mux and arms the runtime via
// lifecycle hooks; the runtime is never constructed on first use.
func Register(lc fx.Lifecycle, rt *Runtime, w *Worker, mux *asynq.ServeMux) {
	mux.HandleFunc(generation.TaskGeneration, w.HandleGenerationTask)

	lc.Append(fx.Hook{
		OnStart: rt.Initialise,
		OnStop:  rt.Shutdown,
	})
}
