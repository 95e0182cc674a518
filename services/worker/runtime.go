package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pixelforge/pkg/config"
	"pixelforge/pkg/inference"
	"pixelforge/pkg/storage"
	"pixelforge/services/notifier"
	"pixelforge/services/subscription"
)

// ErrRuntimeNotInitialised is returned on any use of the runtime before
// Initialise has run.
var ErrRuntimeNotInitialised = errors.New("worker runtime not initialised")

// Runtime bundles the process-wide state a worker needs: database handle,
// object store, inference client, notifier and subscription service. It is
// built once per process and armed by explicit lifecycle hooks; nothing
// constructs it lazily on first use.
type Runtime struct {
	mu          sync.RWMutex
	initialised bool

	db        *gorm.DB
	store     storage.ObjectStore
	inference inference.Invoker
	notifier  notifier.Notifier
	subs      *subscription.Service
	cfg       *config.Config
}

type RuntimeParams struct {
	fx.In
	DB        *gorm.DB
	Store     storage.ObjectStore
	Inference inference.Invoker
	Notifier  notifier.Notifier
	Subs      *subscription.Service
	Cfg       *config.Config
}

func NewRuntime(p RuntimeParams) *Runtime {
	return &Runtime{
		db:        p.DB,
		store:     p.Store,
		inference: p.Inference,
		notifier:  p.Notifier,
		subs:      p.Subs,
		cfg:       p.Cfg,
	}
}

// Initialise arms the runtime. It verifies every dependency was wired before
// the worker starts consuming.
func (r *Runtime) Initialise(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil || r.store == nil || r.inference == nil || r.notifier == nil || r.subs == nil || r.cfg == nil {
		return errors.New("worker runtime is missing dependencies")
	}

	r.initialised = true
	zap.L().Info("worker runtime initialised")
	return nil
}

// Shutdown disarms the runtime; subsequent processing attempts fail fast.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.initialised = false
	zap.L().Info("worker runtime shut down")
	return nil
}

func (r *Runtime) ready() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialised {
		return ErrRuntimeNotInitialised
	}
	return nil
}
