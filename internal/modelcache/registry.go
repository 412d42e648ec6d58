// Package modelcache holds fitted models for the lifetime of the process.
// Models are keyed by organization, model type and parameter signature, are
// trained at most once per key concurrently, and are optionally persisted to a
// Store so that another process can reload them instead of retraining.
package modelcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dvloznov/finance-analytics/internal/logger"
	"github.com/dvloznov/finance-analytics/internal/metrics"
)

// ErrNotFound is returned by a Store that has no model for a key.
var ErrNotFound = errors.New("model not found")

// Key identifies one fitted model.
type Key struct {
	Organization string
	ModelType    string
	Signature    string
}

// String renders the key as organization/model_type/signature.
func (k Key) String() string {
	return k.Organization + "/" + k.ModelType + "/" + k.Signature
}

// Model is any fitted model the registry can hold.
type Model interface {
	ModelType() string
}

// Store persists encoded models across processes.
type Store interface {
	Load(ctx context.Context, key Key) ([]byte, error)
	Save(ctx context.Context, key Key, data []byte) error
}

// Registry is a process-wide model cache with single-flight training.
type Registry struct {
	mu     sync.RWMutex
	models map[Key]Model

	group   singleflight.Group
	store   Store
	metrics *metrics.Metrics
}

// New creates a registry. store and m may be nil.
func New(store Store, m *metrics.Metrics) *Registry {
	return &Registry{
		models:  make(map[Key]Model),
		store:   store,
		metrics: m,
	}
}

// Get returns the in-memory model for key.
func (r *Registry) Get(key Key) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[key]
	return m, ok
}

// Put replaces the model for key and persists it when a store is configured.
func (r *Registry) Put(ctx context.Context, key Key, m Model) error {
	r.mu.Lock()
	r.models[key] = m
	r.mu.Unlock()
	return r.save(ctx, key, m)
}

// Invalidate drops the in-memory model for key. The next Fetch reloads it
// from the store or retrains it.
func (r *Registry) Invalidate(key Key) {
	r.mu.Lock()
	delete(r.models, key)
	r.mu.Unlock()
}

// Len returns the number of models held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Fetch returns the model for key, reloading it from the store or calling
// train on a miss. Concurrent callers for the same key share one load or
// training run. A caller whose context ends stops waiting, but the shared run
// completes and still populates the cache.
func Fetch[M Model](ctx context.Context, r *Registry, key Key, train func() (M, error)) (M, error) {
	var zero M
	if m, ok := r.Get(key); ok {
		typed, ok := m.(M)
		if !ok {
			return zero, fmt.Errorf("Fetch: cached model %s has type %T", key, m)
		}
		r.metrics.CacheHit(key.ModelType)
		return typed, nil
	}

	runCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.String(), func() (any, error) {
		if m, ok := r.Get(key); ok {
			return m, nil
		}
		if m, ok := r.load(runCtx, key, func(data []byte) (Model, error) {
			var m M
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, err
			}
			return m, nil
		}); ok {
			r.mu.Lock()
			r.models[key] = m
			r.mu.Unlock()
			r.metrics.CacheLoad(key.ModelType)
			return m, nil
		}

		start := time.Now()
		m, err := train()
		if err != nil {
			return nil, err
		}
		r.metrics.CacheMiss(key.ModelType, time.Since(start))
		if err := r.Put(runCtx, key, m); err != nil {
			log := logger.FromContext(runCtx)
			log.Warn().Err(err).Str("model_key", key.String()).Msg("Failed to persist model")
		}
		return m, nil
	})

	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("Fetch: waiting for model %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, ok := res.Val.(M)
		if !ok {
			return zero, fmt.Errorf("Fetch: model %s has type %T", key, res.Val)
		}
		return typed, nil
	}
}

func (r *Registry) load(ctx context.Context, key Key, decode func([]byte) (Model, error)) (Model, bool) {
	if r.store == nil {
		return nil, false
	}
	log := logger.FromContext(ctx)
	data, err := r.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("model_key", key.String()).Msg("Failed to load model, retraining")
		}
		return nil, false
	}
	m, err := decode(data)
	if err != nil {
		log.Warn().Err(err).Str("model_key", key.String()).Msg("Stored model is unreadable, retraining")
		return nil, false
	}
	return m, true
}

func (r *Registry) save(ctx context.Context, key Key, m Model) error {
	if r.store == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("save: encoding model %s: %w", key, err)
	}
	if err := r.store.Save(ctx, key, data); err != nil {
		return fmt.Errorf("save: storing model %s: %w", key, err)
	}
	return nil
}
