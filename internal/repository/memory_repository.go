package repository

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// MemoryAttemptRepository keeps attempts in process memory. It never
// fails; it serves as the fallback mirror of the Redis repository and as
// the store for single-node development.
type MemoryAttemptRepository struct {
	mu     sync.RWMutex
	states map[model.AttemptKey]*model.AttemptState
	status map[model.ExamRef]model.GlobalStatus
}

// NewMemoryAttemptRepository creates a new MemoryAttemptRepository.
func NewMemoryAttemptRepository() *MemoryAttemptRepository {
	return &MemoryAttemptRepository{
		states: map[model.AttemptKey]*model.AttemptState{},
		status: map[model.ExamRef]model.GlobalStatus{},
	}
}

func (m *MemoryAttemptRepository) Load(_ context.Context, key model.AttemptKey) (*model.AttemptState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[key]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryAttemptRepository) Save(_ context.Context, key model.AttemptKey, patch model.AttemptPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[key]
	if !ok {
		s = model.NewAttemptState(1)
		m.states[key] = s
	}
	s.Apply(patch)
	return nil
}

func (m *MemoryAttemptRepository) Clear(_ context.Context, key model.AttemptKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[key]; ok {
		s.ClearWorking()
	}
	return nil
}

func (m *MemoryAttemptRepository) LoadStatus(_ context.Context, ref model.ExamRef) (model.GlobalStatus, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.status[ref]
	g.LastResult = g.LastResult.Clone()
	return g, ok, nil
}

func (m *MemoryAttemptRepository) SaveStatus(_ context.Context, ref model.ExamRef, patch model.GlobalStatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.status[ref]
	g.Apply(patch)
	m.status[ref] = g
	return nil
}

// put replaces the whole entry for key.
func (m *MemoryAttemptRepository) put(key model.AttemptKey, s *model.AttemptState) {
	m.mu.Lock()
	m.states[key] = s.Clone()
	m.mu.Unlock()
}

func (m *MemoryAttemptRepository) putStatus(ref model.ExamRef, g model.GlobalStatus) {
	m.mu.Lock()
	g.LastResult = g.LastResult.Clone()
	m.status[ref] = g
	m.mu.Unlock()
}

// forget drops key and its exam status.
func (m *MemoryAttemptRepository) forget(key model.AttemptKey) {
	m.mu.Lock()
	delete(m.states, key)
	delete(m.status, key.Exam())
	m.mu.Unlock()
}
