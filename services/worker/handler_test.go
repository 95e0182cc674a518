package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"pixelforge/services/generation"
)

func TestHandleGenerationTaskSkipsMalformedPayload(t *testing.T) {
	w := NewWorker(&Processor{})

	task := asynq.NewTask(generation.TaskGeneration, []byte("{not json"))
	err := w.HandleGenerationTask(context.Background(), task)
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleGenerationTaskAcksTerminalOutcomes(t *testing.T) {
	f := newProcessorFixture(t)
	f.seedSubscription(t)
	_, msg := f.seedTask(t, "task-1")
	w := NewWorker(f.processor)

	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	task := asynq.NewTask(generation.TaskGeneration, payload)
	require.NoError(t, w.HandleGenerationTask(context.Background(), task))

	// a second delivery of the same task acks as already complete
	require.NoError(t, w.HandleGenerationTask(context.Background(), task))
	require.Zero(t, len(f.notifier.deadLetters))
}

func TestHandleGenerationTaskReturnsErrorForRedelivery(t *testing.T) {
	f := newProcessorFixture(t)
	_, msg := f.seedTask(t, "task-1")
	f.notifier.acquireErr = errors.New("redis down")
	w := NewWorker(f.processor)

	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	task := asynq.NewTask(generation.TaskGeneration, payload)
	require.Error(t, w.HandleGenerationTask(context.Background(), task))
}
