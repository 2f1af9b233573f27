// Package reslock implements the per-resource-path lock actor: time-bounded
// exclusive ownership with automatic expiry and a bounded release history.
package reslock

import (
	"fmt"
	"sync"
	"time"

	"github.com/hiveplane/hiveplane/internal/actor"
	"github.com/hiveplane/hiveplane/internal/config"
	"github.com/hiveplane/hiveplane/internal/models"
	"github.com/hiveplane/hiveplane/internal/store"
	"go.uber.org/zap"
)

// DefaultTTL applies when a lock request carries no TTL.
const DefaultTTL = 5 * time.Minute

// ErrLockHeld indicates a live lock owned by a different agent.
var ErrLockHeld = fmt.Errorf("resource already locked")

// ErrNotOwner indicates an unlock attempt by a non-owner without force.
var ErrNotOwner = fmt.Errorf("lock not held by this agent")

// Release reasons logged to the lock history.
const (
	ReleaseManual  = "manual"
	ReleaseExpired = "expired"
	ReleaseStolen  = "stolen"
)

// Service provides lock actor operations, resolving the target instance per
// resource path. Each instance carries a one-shot expiry timer, re-armed on
// every successful lock; the timer is a liveness optimization only — every
// read path lazily expires, so a missed timer cannot make a lock outlive its
// TTL indefinitely.
type Service struct {
	registry *actor.Registry
	cfg      config.Config
	logger   *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	clock  func() time.Time
}

// NewService creates the lock service.
func NewService(registry *actor.Registry, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
		clock:    time.Now,
	}
}

func (s *Service) instance(resourcePath string) (*actor.Instance, error) {
	return s.registry.Get(store.KindLock, resourcePath)
}

// Check returns the current lock, or nil when unlocked. A lock observed past
// its expiry is released and logged before reporting.
func (s *Service) Check(resourcePath string) (*models.Lock, error) {
	inst, err := s.instance(resourcePath)
	if err != nil {
		return nil, err
	}
	var lock *models.Lock
	err = inst.Do(func(st *store.Store) error {
		var err error
		lock, err = s.liveLock(st)
		return err
	})
	return lock, err
}

// liveLock reads the lock row and lazily expires it. Must run inside the
// instance's Do.
func (s *Service) liveLock(st *store.Store) (*models.Lock, error) {
	lock, err := st.GetLockRow()
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, nil
	}
	if s.clock().UTC().After(lock.ExpiresAt) {
		if err := st.DeleteLockRow(); err != nil {
			return nil, err
		}
		if err := st.AppendLockEvent(lock.LockedBy, ReleaseExpired, s.cfg.LockHistoryCap); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return lock, nil
}

// Acquire grants or renews the lock. A live lock owned by a different agent
// fails with ErrLockHeld and the existing lock is returned for the caller to
// inspect. On success the expiry timer is re-armed for the new deadline.
func (s *Service) Acquire(resourcePath, agentID, resourceType, reason string, ttl time.Duration) (*models.Lock, *models.Lock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	inst, err := s.instance(resourcePath)
	if err != nil {
		return nil, nil, err
	}

	var granted, existing *models.Lock
	err = inst.Do(func(st *store.Store) error {
		current, err := s.liveLock(st)
		if err != nil {
			return err
		}
		if current != nil && current.LockedBy != agentID {
			existing = current
			return ErrLockHeld
		}

		now := s.clock().UTC()
		lock := models.Lock{
			ResourcePath: resourcePath,
			ResourceType: resourceType,
			LockedBy:     agentID,
			Reason:       reason,
			LockedAt:     now,
			ExpiresAt:    now.Add(ttl),
		}
		if current != nil {
			// Renewal keeps the original grant time.
			lock.LockedAt = current.LockedAt
		}
		if err := st.PutLockRow(lock); err != nil {
			return err
		}
		granted = &lock
		return nil
	})
	if err != nil {
		return nil, existing, err
	}

	s.armTimer(resourcePath, ttl)
	s.logger.Debug("lock granted",
		zap.String("resource", resourcePath),
		zap.String("agent", agentID),
		zap.Duration("ttl", ttl))
	return granted, nil, nil
}

// Release unlocks the resource. Fails with ErrNotOwner unless the caller owns
// the lock or force is set; a forced release by a non-owner is logged as
// stolen. Releasing an unlocked resource is a no-op.
func (s *Service) Release(resourcePath, agentID string, force bool) error {
	inst, err := s.instance(resourcePath)
	if err != nil {
		return err
	}
	err = inst.Do(func(st *store.Store) error {
		current, err := s.liveLock(st)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		if current.LockedBy != agentID && !force {
			return ErrNotOwner
		}

		reason := ReleaseManual
		if current.LockedBy != agentID {
			reason = ReleaseStolen
		}
		if err := st.DeleteLockRow(); err != nil {
			return err
		}
		return st.AppendLockEvent(current.LockedBy, reason, s.cfg.LockHistoryCap)
	})
	if err != nil {
		return err
	}
	s.disarmTimer(resourcePath)
	return nil
}

// History returns the release log, most recent first.
func (s *Service) History(resourcePath string) ([]models.LockEvent, error) {
	inst, err := s.instance(resourcePath)
	if err != nil {
		return nil, err
	}
	var events []models.LockEvent
	err = inst.Do(func(st *store.Store) error {
		var err error
		events, err = st.ListLockEvents()
		return err
	})
	return events, err
}

// Stop disarms all pending expiry timers, for daemon shutdown.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, t := range s.timers {
		t.Stop()
		delete(s.timers, path)
	}
}

// armTimer schedules the deferred one-shot release at now+ttl, replacing any
// previously armed timer for the path.
func (s *Service) armTimer(resourcePath string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[resourcePath]; ok {
		t.Stop()
	}
	s.timers[resourcePath] = time.AfterFunc(ttl, func() {
		s.expire(resourcePath)
	})
}

func (s *Service) disarmTimer(resourcePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[resourcePath]; ok {
		t.Stop()
		delete(s.timers, resourcePath)
	}
}

// expire is the timer callback. It re-checks under the instance mutex; if the
// lock was renewed in the meantime the deadline has moved and nothing
// happens — liveLock only releases when now is actually past expiry.
func (s *Service) expire(resourcePath string) {
	inst, err := s.instance(resourcePath)
	if err != nil {
		s.logger.Warn("lock expiry failed to resolve instance",
			zap.String("resource", resourcePath), zap.Error(err))
		return
	}
	err = inst.Do(func(st *store.Store) error {
		_, err := s.liveLock(st)
		return err
	})
	if err != nil {
		s.logger.Warn("lock expiry sweep failed",
			zap.String("resource", resourcePath), zap.Error(err))
		return
	}
	s.mu.Lock()
	delete(s.timers, resourcePath)
	s.mu.Unlock()
}
