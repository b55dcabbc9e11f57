package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ResilientStore is the attempt store used by controllers. Every write
// lands in a memory mirror first and is then written through to the
// backend. A backend failure marks the key dirty: the mirror becomes
// authoritative until a later write re-syncs the whole entry. No
// operation ever returns an error.
type ResilientStore struct {
	backend AttemptBackend
	mirror  *MemoryAttemptRepository
	timeout time.Duration
	log     zerolog.Logger

	mu          sync.Mutex
	dirty       map[model.AttemptKey]bool
	dirtyStatus map[model.ExamRef]bool
}

// NewResilientStore wraps backend. timeout bounds each backend call.
func NewResilientStore(backend AttemptBackend, timeout time.Duration, log zerolog.Logger) *ResilientStore {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &ResilientStore{
		backend:     backend,
		mirror:      NewMemoryAttemptRepository(),
		timeout:     timeout,
		log:         log.With().Str("component", "attempt_store").Logger(),
		dirty:       map[model.AttemptKey]bool{},
		dirtyStatus: map[model.ExamRef]bool{},
	}
}

// Load prefers the backend unless the key has unsynced local writes. A
// failing backend falls back to the mirror; with no mirror entry the
// state is unknown and Load reports attempt.ErrStoreUnavailable rather
// than "not found".
func (s *ResilientStore) Load(ctx context.Context, key model.AttemptKey) (*model.AttemptState, bool, error) {
	if s.isDirty(key) {
		st, ok, _ := s.mirror.Load(ctx, key)
		return st, ok, nil
	}

	cctx, cancel := s.bounded(ctx)
	st, ok, err := s.backend.Load(cctx, key)
	cancel()
	if err != nil {
		s.degraded("load", err)
		if st, ok, _ := s.mirror.Load(ctx, key); ok {
			return st, true, nil
		}
		return nil, false, fmt.Errorf("%w: %v", attempt.ErrStoreUnavailable, err)
	}
	if ok {
		s.mirror.put(key, st)
	}
	return st, ok, nil
}

// Save applies patch locally and writes it through.
func (s *ResilientStore) Save(ctx context.Context, key model.AttemptKey, patch model.AttemptPatch) {
	s.mirror.Save(ctx, key, patch)

	if s.isDirty(key) {
		s.resync(ctx, key)
		return
	}
	cctx, cancel := s.bounded(ctx)
	err := s.backend.Save(cctx, key, patch)
	cancel()
	if err != nil {
		s.degraded("save", err)
		s.markDirty(key, true)
	}
}

// Clear drops the working fields locally and in the backend.
func (s *ResilientStore) Clear(ctx context.Context, key model.AttemptKey) {
	s.mirror.Clear(ctx, key)

	if s.isDirty(key) {
		s.resync(ctx, key)
		return
	}
	cctx, cancel := s.bounded(ctx)
	err := s.backend.Clear(cctx, key)
	cancel()
	if err != nil {
		s.degraded("clear", err)
		s.markDirty(key, true)
	}
}

// LoadGlobalStatus reads the exam-level status, with the same fallback
// rules as Load.
func (s *ResilientStore) LoadGlobalStatus(ctx context.Context, ref model.ExamRef) (model.GlobalStatus, error) {
	if s.isStatusDirty(ref) {
		g, _, _ := s.mirror.LoadStatus(ctx, ref)
		return g, nil
	}

	cctx, cancel := s.bounded(ctx)
	g, ok, err := s.backend.LoadStatus(cctx, ref)
	cancel()
	if err != nil {
		s.degraded("load_status", err)
		if g, ok, _ := s.mirror.LoadStatus(ctx, ref); ok {
			return g, nil
		}
		return model.GlobalStatus{}, fmt.Errorf("%w: %v", attempt.ErrStoreUnavailable, err)
	}
	if ok {
		s.mirror.putStatus(ref, g)
	}
	return g, nil
}

// SaveGlobalStatus applies patch locally and writes it through.
func (s *ResilientStore) SaveGlobalStatus(ctx context.Context, ref model.ExamRef, patch model.GlobalStatusPatch) {
	s.mirror.SaveStatus(ctx, ref, patch)

	if s.isStatusDirty(ref) {
		patch = fullStatusPatch(s.mirrorStatus(ctx, ref))
	}
	cctx, cancel := s.bounded(ctx)
	err := s.backend.SaveStatus(cctx, ref, patch)
	cancel()
	if err != nil {
		s.degraded("save_status", err)
		s.markStatusDirty(ref, true)
		return
	}
	s.markStatusDirty(ref, false)
}

// Forget drops the mirror entry of a key that has nothing left to sync.
// Dirty entries stay so the next write can still re-sync them.
func (s *ResilientStore) Forget(key model.AttemptKey) {
	s.mu.Lock()
	keep := s.dirty[key] || s.dirtyStatus[key.Exam()]
	s.mu.Unlock()
	if !keep {
		s.mirror.forget(key)
	}
}

// Degraded reports whether any entry is waiting for a re-sync.
func (s *ResilientStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty) > 0 || len(s.dirtyStatus) > 0
}

func (s *ResilientStore) resync(ctx context.Context, key model.AttemptKey) {
	st, ok, _ := s.mirror.Load(ctx, key)
	if !ok {
		return
	}
	cctx, cancel := s.bounded(ctx)
	err := s.backend.Save(cctx, key, fullPatch(st))
	cancel()
	if err != nil {
		s.degraded("resync", err)
		return
	}
	s.markDirty(key, false)
	s.log.Info().Str("attempt", key.String()).Msg("Attempt re-synced to Redis")
}

func (s *ResilientStore) mirrorStatus(ctx context.Context, ref model.ExamRef) model.GlobalStatus {
	g, _, _ := s.mirror.LoadStatus(ctx, ref)
	return g
}

func (s *ResilientStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *ResilientStore) degraded(op string, err error) {
	metrics.StoreFallbacks.WithLabelValues(op).Inc()
	s.log.Warn().Err(err).Str("op", op).Msg("Attempt store unavailable, keeping state in memory")
}

func (s *ResilientStore) isDirty(key model.AttemptKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty[key]
}

func (s *ResilientStore) markDirty(key model.AttemptKey, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dirty {
		s.dirty[key] = true
	} else {
		delete(s.dirty, key)
	}
}

func (s *ResilientStore) isStatusDirty(ref model.ExamRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyStatus[ref]
}

func (s *ResilientStore) markStatusDirty(ref model.ExamRef, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dirty {
		s.dirtyStatus[ref] = true
	} else {
		delete(s.dirtyStatus, ref)
	}
}

func fullStatusPatch(g model.GlobalStatus) model.GlobalStatusPatch {
	return model.GlobalStatusPatch{
		Completed:  model.Ptr(g.Completed),
		Dismissed:  model.Ptr(g.Dismissed),
		LastResult: g.LastResult,
	}
}
