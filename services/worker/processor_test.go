package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pixelforge/pkg/config"
	"pixelforge/pkg/errutil"
	"pixelforge/pkg/inference"
	"pixelforge/pkg/storage"
	"pixelforge/services/generation"
	"pixelforge/services/notifier"
	"pixelforge/services/subscription"
	"pixelforge/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type deadLetter struct {
	taskID   string
	errMsg   string
	category errutil.Category
}

// fakeNotifier records lock and publish traffic in memory.
type fakeNotifier struct {
	mu sync.Mutex

	refuseAcquire bool
	acquireErr    error

	locked      map[string]bool
	released    []string
	seqs        map[string]int64
	published   []*notifier.StatusMessage
	deadLetters []deadLetter
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		locked: map[string]bool{},
		seqs:   map[string]int64{},
	}
}

func (f *fakeNotifier) AcquireTask(ctx context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.refuseAcquire || f.locked[taskID] {
		return false, nil
	}
	f.locked[taskID] = true
	return true, nil
}

func (f *fakeNotifier) ReleaseTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, taskID)
	f.released = append(f.released, taskID)
	return nil
}

func (f *fakeNotifier) PublishStatus(ctx context.Context, msg *notifier.StatusMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seqs[msg.TaskID]++
	msg.Sequence = f.seqs[msg.TaskID]
	f.published = append(f.published, msg)
	return msg.Sequence, nil
}

func (f *fakeNotifier) PublishDeadLetter(ctx context.Context, taskID, errMsg string, category errutil.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, deadLetter{taskID: taskID, errMsg: errMsg, category: category})
	return nil
}

type fakeInvoker struct {
	resp  *inference.Response
	err   error
	calls int
}

func (f *fakeInvoker) Generate(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type processorFixture struct {
	processor *Processor
	runtime   *Runtime
	repo      *generation.Repository
	store     *storage.MemoryStore
	notifier  *fakeNotifier
	invoker   *fakeInvoker
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	db := testutil.NewTestDB(t, &generation.Task{}, &generation.TaskEvent{}, &subscription.Subscription{})

	cfg := &config.Config{}
	cfg.Storage.Bucket = "pixelforge"
	cfg.Storage.InputPrefix = "inputs"
	cfg.Storage.ResultPrefix = "results"
	cfg.Storage.ThumbPrefix = "thumbnails"

	store := storage.NewMemoryStore()
	nt := newFakeNotifier()
	inv := &fakeInvoker{resp: &inference.Response{
		Image:    pngBytes(t, 64, 48),
		Metadata: map[string]any{"model": "pf-diffusion-1"},
	}}

	rt := &Runtime{
		db:        db,
		store:     store,
		inference: inv,
		notifier:  nt,
		subs:      subscription.NewService(subscription.Params{DB: db}),
		cfg:       cfg,
	}
	require.NoError(t, rt.Initialise(context.Background()))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &processorFixture{
		processor: &Processor{runtime: rt, node: node},
		runtime:   rt,
		repo:      generation.NewRepository(db),
		store:     store,
		notifier:  nt,
		invoker:   inv,
	}
}

func (f *processorFixture) seedTask(t *testing.T, id string) (*generation.Task, *generation.QueueMessage) {
	t.Helper()
	ctx := context.Background()

	key := fmt.Sprintf("inputs/user-1/%s.png", id)
	_, err := f.store.Upload(ctx, "pixelforge", key, pngBytes(t, 32, 32), "image/png")
	require.NoError(t, err)

	task := &generation.Task{
		ID:               id,
		UserID:           "user-1",
		Prompt:           "a fox in the snow",
		Parameters:       datatypes.JSON(`{"steps":30}`),
		Status:           generation.StatusQueued,
		Priority:         5,
		SubscriptionTier: "standard",
		InputBucket:      "pixelforge",
		InputKey:         key,
	}
	require.NoError(t, f.repo.Create(ctx, task))

	return task, &generation.QueueMessage{
		TaskID:           id,
		UserID:           "user-1",
		Prompt:           task.Prompt,
		Bucket:           "pixelforge",
		Key:              key,
		Priority:         5,
		SubscriptionTier: "standard",
	}
}

func (f *processorFixture) seedSubscription(t *testing.T) {
	t.Helper()
	require.NoError(t, f.runtime.db.Create(&subscription.Subscription{
		ID: "sub-1", UserID: "user-1", Tier: "standard", Status: subscription.StatusActive, QuotaLimit: 100,
	}).Error)
}

func (f *processorFixture) quotaUsed(t *testing.T) int64 {
	t.Helper()
	var sub subscription.Subscription
	require.NoError(t, f.runtime.db.First(&sub, "id = ?", "sub-1").Error)
	return sub.QuotaUsed
}

func TestProcessSuccess(t *testing.T) {
	f := newProcessorFixture(t)
	f.seedSubscription(t)
	_, msg := f.seedTask(t, "task-1")
	ctx := context.Background()

	outcome, err := f.processor.Process(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, outcome)

	// exactly two publishes: accepted then succeeded, sequences 1 and 2
	require.Len(t, f.notifier.published, 2)
	require.Equal(t, "accepted", f.notifier.published[0].Type)
	require.EqualValues(t, 1, f.notifier.published[0].Sequence)
	require.Equal(t, "succeeded", f.notifier.published[1].Type)
	require.EqualValues(t, 2, f.notifier.published[1].Sequence)
	require.True(t, f.notifier.published[1].Terminal)

	got, err := f.repo.FindByID(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, generation.StatusSucceeded, got.Status)
	require.Equal(t, "results/task-1.jpg", got.ResultKey)
	require.Equal(t, "thumbnails/task-1.jpg", got.ThumbnailKey)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	// both artefacts landed in the store
	result, contentType, err := f.store.Download(ctx, "pixelforge", "results/task-1.jpg")
	require.NoError(t, err)
	require.NotEmpty(t, result)
	require.Equal(t, "image/jpeg", contentType)
	thumb, _, err := f.store.Download(ctx, "pixelforge", "thumbnails/task-1.jpg")
	require.NoError(t, err)
	require.NotEmpty(t, thumb)

	require.EqualValues(t, 1, f.quotaUsed(t))
	require.Equal(t, []string{"task-1"}, f.notifier.released)
	require.Empty(t, f.notifier.deadLetters)
}

func TestProcessInferenceFailure(t *testing.T) {
	f := newProcessorFixture(t)
	f.seedSubscription(t)
	_, msg := f.seedTask(t, "task-1")
	ctx := context.Background()

	f.invoker.err = errutil.Inference(errors.New("model exploded"), "invoke model")

	outcome, err := f.processor.Process(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome)

	got, err := f.repo.FindByID(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, generation.StatusFailed, got.Status)
	require.Contains(t, got.ErrorMsg, "model exploded")
	require.NotNil(t, got.CompletedAt)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(got.Metadata, &meta))
	require.Equal(t, string(generation.StatusRunning), meta["prior_status"])

	// the quota charge was reverted
	require.EqualValues(t, 0, f.quotaUsed(t))

	require.Len(t, f.notifier.deadLetters, 1)
	require.Equal(t, errutil.CategoryModel, f.notifier.deadLetters[0].category)

	require.Len(t, f.notifier.published, 2)
	require.Equal(t, "accepted", f.notifier.published[0].Type)
	require.Equal(t, "failed", f.notifier.published[1].Type)
	require.True(t, f.notifier.published[1].Terminal)

	require.Equal(t, []string{"task-1"}, f.notifier.released)
}

func TestProcessStorageFailureCategory(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	task, msg := f.seedTask(t, "task-1")
	// pull the input out from under the worker
	badKey := "inputs/user-1/missing.png"
	task.InputKey = badKey
	require.NoError(t, f.repo.Update(ctx, task.ID, map[string]any{"input_key": badKey}))

	outcome, err := f.processor.Process(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome)

	require.Len(t, f.notifier.deadLetters, 1)
	require.Equal(t, errutil.CategoryStorage, f.notifier.deadLetters[0].category)
	require.Zero(t, f.invoker.calls)
}

func TestProcessDuplicateDelivery(t *testing.T) {
	f := newProcessorFixture(t)
	f.seedSubscription(t)
	_, msg := f.seedTask(t, "task-1")
	f.notifier.refuseAcquire = true

	outcome, err := f.processor.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	// no publishes, no quota mutation, no lock release, no state change
	require.Empty(t, f.notifier.published)
	require.Empty(t, f.notifier.released)
	require.EqualValues(t, 0, f.quotaUsed(t))

	got, err := f.repo.FindByID(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, generation.StatusQueued, got.Status)
}

func TestProcessAlreadyComplete(t *testing.T) {
	f := newProcessorFixture(t)
	f.seedSubscription(t)
	task, msg := f.seedTask(t, "task-1")
	require.NoError(t, f.repo.Update(context.Background(), task.ID, map[string]any{"status": generation.StatusSucceeded}))

	outcome, err := f.processor.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyComplete, outcome)

	require.EqualValues(t, 0, f.quotaUsed(t))
	require.Zero(t, f.invoker.calls)
	require.Equal(t, []string{"task-1"}, f.notifier.released)
}

func TestProcessTaskRowMissing(t *testing.T) {
	f := newProcessorFixture(t)
	msg := &generation.QueueMessage{TaskID: "ghost", UserID: "user-1", Prompt: "p"}

	outcome, err := f.processor.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome)

	require.Len(t, f.notifier.deadLetters, 1)
	require.Equal(t, "ghost", f.notifier.deadLetters[0].taskID)
	require.Equal(t, errutil.CategoryNotFound, f.notifier.deadLetters[0].category)
	require.Equal(t, []string{"ghost"}, f.notifier.released)
}

func TestProcessLockAcquireError(t *testing.T) {
	f := newProcessorFixture(t)
	_, msg := f.seedTask(t, "task-1")
	f.notifier.acquireErr = errors.New("redis down")

	// infrastructure trouble surfaces as an error so the broker redelivers
	_, err := f.processor.Process(context.Background(), msg)
	require.Error(t, err)
	require.Empty(t, f.notifier.published)
}

func TestProcessRuntimeNotInitialised(t *testing.T) {
	f := newProcessorFixture(t)
	_, msg := f.seedTask(t, "task-1")
	require.NoError(t, f.runtime.Shutdown(context.Background()))

	_, err := f.processor.Process(context.Background(), msg)
	require.ErrorIs(t, err, ErrRuntimeNotInitialised)
}

func TestProcessNoSubscriptionStillRuns(t *testing.T) {
	f := newProcessorFixture(t)
	_, msg := f.seedTask(t, "task-1")

	outcome, err := f.processor.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, outcome)
}
