// Package actor provides the key-addressed instance registry that gives every
// coordinator, agent and lock key serialized, one-at-a-time execution over its
// own storage. This is the system's sole concurrency primitive: claim and
// lock logic above it can use plain read-then-write.
package actor

import (
	"fmt"
	"sync"

	"github.com/hiveplane/hiveplane/internal/hub"
	"github.com/hiveplane/hiveplane/internal/store"
	"go.uber.org/zap"
)

// CoordinatorKey is the reserved key of the global coordinator instance.
const CoordinatorKey = "coordinator"

// Instance is one key-addressed unit of state: a mutex, the key's store
// handle, and its realtime fan-out hub.
type Instance struct {
	Kind store.Kind
	Key  string

	mu    sync.Mutex
	store *store.Store
	hub   *hub.Hub
}

// Do runs fn with exclusive access to the instance's store. No two operations
// on the same key execute concurrently; requests are observed in lock
// acquisition order.
func (i *Instance) Do(fn func(s *store.Store) error) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return fn(i.store)
}

// Hub returns the instance's realtime fan-out hub. Hub operations are safe
// without holding the instance mutex.
func (i *Instance) Hub() *hub.Hub {
	return i.hub
}

// Registry maps actor keys to instances, creating them lazily and
// idempotently on first reference.
type Registry struct {
	dataDir string
	logger  *zap.Logger

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewRegistry creates an empty registry rooted at dataDir.
func NewRegistry(dataDir string, logger *zap.Logger) *Registry {
	return &Registry{
		dataDir:   dataDir,
		logger:    logger,
		instances: make(map[string]*Instance),
	}
}

// Get resolves (kind, key) to its instance, materializing storage on first
// reference. Resolution is deterministic and collision-free: the composite
// key includes the kind, so an agent named "coordinator" cannot collide with
// the singleton.
func (r *Registry) Get(kind store.Kind, key string) (*Instance, error) {
	if key == "" {
		return nil, fmt.Errorf("empty actor key")
	}
	composite := string(kind) + "/" + key

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[composite]; ok {
		return inst, nil
	}

	st, err := store.Open(r.dataDir, kind, key)
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", composite, err)
	}

	inst := &Instance{
		Kind:  kind,
		Key:   key,
		store: st,
		hub:   hub.New(r.logger.With(zap.String("actor", composite))),
	}
	r.instances[composite] = inst
	r.logger.Debug("actor instance created", zap.String("actor", composite))
	return inst, nil
}

// Coordinator resolves the global singleton instance.
func (r *Registry) Coordinator() (*Instance, error) {
	return r.Get(store.KindCoordinator, CoordinatorKey)
}

// Close closes every materialized instance's store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for composite, inst := range r.instances {
		inst.mu.Lock()
		if err := inst.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", composite, err)
		}
		inst.mu.Unlock()
	}
	r.instances = make(map[string]*Instance)
	return firstErr
}
