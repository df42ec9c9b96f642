package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feebot/pkg/logx"
)

// Registry maps each platform to its adapter. Unknown or duplicate platforms
// are rejected at registration, so lookups at dispatch time only miss when a
// platform is disabled.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Platform]Adapter
	order    []Platform
	started  []Platform
	log      logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{adapters: map[Platform]Adapter{}, log: log}
}

func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return errors.New("nil adapter")
	}
	p := a.Platform()
	if !p.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, string(p))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[p]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAdapter, p)
	}
	r.adapters[p] = a
	r.order = append(r.order, p)
	return nil
}

// Get returns the adapter registered for p.
func (r *Registry) Get(p Platform) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// Platforms returns registered platforms in registration order.
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Platform(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// StartAll starts adapters in registration order. If one fails, every adapter
// started so far (and the failing one) is stopped before the error is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, p := range r.Platforms() {
		a, _ := r.Get(p)
		r.log.Info("starting adapter", logx.String("platform", string(p)))
		if err := a.Start(ctx); err != nil {
			r.log.Error("adapter start failed", logx.String("platform", string(p)), logx.Err(err))
			r.stopOne(context.Background(), p, a, 5*time.Second)
			r.StopAll(context.Background(), 5*time.Second)
			return fmt.Errorf("start %s: %w", p, err)
		}
		r.mu.Lock()
		r.started = append(r.started, p)
		r.mu.Unlock()
	}
	return nil
}

// StopAll stops started adapters in reverse order. Each stop gets its own
// timeout and its error is logged without affecting the others.
func (r *Registry) StopAll(ctx context.Context, perAdapter time.Duration) {
	r.mu.Lock()
	started := r.started
	r.started = nil
	r.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		p := started[i]
		a, ok := r.Get(p)
		if !ok {
			continue
		}
		r.stopOne(ctx, p, a, perAdapter)
	}
}

func (r *Registry) stopOne(ctx context.Context, p Platform, a Adapter, limit time.Duration) {
	sctx := ctx
	if limit > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return a.Stop(sctx)
	}()
	if err != nil {
		r.log.Warn("adapter stop failed", logx.String("platform", string(p)), logx.Err(err))
		return
	}
	r.log.Info("adapter stopped", logx.String("platform", string(p)))
}
