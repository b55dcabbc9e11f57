package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// flakyBackend fails every call while down is set.
type flakyBackend struct {
	*MemoryAttemptRepository
	down  atomic.Bool
	saves atomic.Int32
}

var errDown = errors.New("connection refused")

func (f *flakyBackend) Load(ctx context.Context, key model.AttemptKey) (*model.AttemptState, bool, error) {
	if f.down.Load() {
		return nil, false, errDown
	}
	return f.MemoryAttemptRepository.Load(ctx, key)
}

func (f *flakyBackend) Save(ctx context.Context, key model.AttemptKey, p model.AttemptPatch) error {
	if f.down.Load() {
		return errDown
	}
	f.saves.Add(1)
	return f.MemoryAttemptRepository.Save(ctx, key, p)
}

func (f *flakyBackend) Clear(ctx context.Context, key model.AttemptKey) error {
	if f.down.Load() {
		return errDown
	}
	return f.MemoryAttemptRepository.Clear(ctx, key)
}

func (f *flakyBackend) LoadStatus(ctx context.Context, ref model.ExamRef) (model.GlobalStatus, bool, error) {
	if f.down.Load() {
		return model.GlobalStatus{}, false, errDown
	}
	return f.MemoryAttemptRepository.LoadStatus(ctx, ref)
}

func (f *flakyBackend) SaveStatus(ctx context.Context, ref model.ExamRef, p model.GlobalStatusPatch) error {
	if f.down.Load() {
		return errDown
	}
	return f.MemoryAttemptRepository.SaveStatus(ctx, ref, p)
}

func newFlakyStore() (*flakyBackend, *ResilientStore) {
	backend := &flakyBackend{MemoryAttemptRepository: NewMemoryAttemptRepository()}
	return backend, NewResilientStore(backend, time.Second, zerolog.Nop())
}

func TestStoreDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	backend, store := newFlakyStore()
	key := model.NewAttemptKey(7, "exam-1", "")

	store.Save(ctx, key, model.AttemptPatch{Started: model.Ptr(true), RemainingSeconds: model.Ptr(60)})
	backend.down.Store(true)

	store.Save(ctx, key, model.AttemptPatch{Answers: map[string]string{"q1": "B"}, RemainingSeconds: model.Ptr(55)})
	if !store.Degraded() {
		t.Fatal("a failed write should mark the store degraded")
	}
	st, found, err := store.Load(ctx, key)
	if err != nil || !found || st.Answers["q1"] != "B" || st.RemainingSeconds != 55 || !st.Started {
		t.Fatalf("memory fallback returned %+v (found %v)", st, found)
	}

	ref := key.Exam()
	store.SaveGlobalStatus(ctx, ref, model.GlobalStatusPatch{Completed: model.Ptr(true)})
	if g, err := store.LoadGlobalStatus(ctx, ref); err != nil || !g.Completed {
		t.Fatal("global status should survive in memory while Redis is down")
	}

	backend.down.Store(false)
	store.Save(ctx, key, model.AttemptPatch{RemainingSeconds: model.Ptr(54)})
	store.SaveGlobalStatus(ctx, ref, model.GlobalStatusPatch{Dismissed: model.Ptr(false)})
	if store.Degraded() {
		t.Fatal("recovered writes should re-sync every dirty entry")
	}

	synced, _, _ := backend.MemoryAttemptRepository.Load(ctx, key)
	if synced.Answers["q1"] != "B" || synced.RemainingSeconds != 54 {
		t.Fatalf("backend after re-sync %+v", synced)
	}
	if g, _, _ := backend.MemoryAttemptRepository.LoadStatus(ctx, ref); !g.Completed {
		t.Fatal("status written while down should reach the backend")
	}
}

func TestStoreDirtyKeyReadsMirror(t *testing.T) {
	ctx := context.Background()
	backend, store := newFlakyStore()
	key := model.NewAttemptKey(7, "exam-1", "")

	store.Save(ctx, key, model.AttemptPatch{RemainingSeconds: model.Ptr(30)})
	backend.down.Store(true)
	store.Save(ctx, key, model.AttemptPatch{RemainingSeconds: model.Ptr(29)})
	backend.down.Store(false)

	// The backend still holds 30; the dirty mirror wins.
	st, _, _ := store.Load(ctx, key)
	if st.RemainingSeconds != 29 {
		t.Fatalf("remaining %d, want the unsynced 29", st.RemainingSeconds)
	}
}

func TestStoreClearWhileDown(t *testing.T) {
	ctx := context.Background()
	backend, store := newFlakyStore()
	key := model.NewAttemptKey(7, "exam-1", "")

	store.Save(ctx, key, model.AttemptPatch{Answers: map[string]string{"q1": "A"}, Started: model.Ptr(true)})
	backend.down.Store(true)
	store.Clear(ctx, key)
	store.Save(ctx, key, model.AttemptPatch{Completed: model.Ptr(true)})
	backend.down.Store(false)
	store.Save(ctx, key, model.AttemptPatch{Dismissed: model.Ptr(false)})

	synced, _, _ := backend.MemoryAttemptRepository.Load(ctx, key)
	if len(synced.Answers) != 0 || synced.Started || !synced.Completed {
		t.Fatalf("backend after re-sync %+v", synced)
	}
}

func TestStoreForgetKeepsDirtyEntries(t *testing.T) {
	ctx := context.Background()
	backend, store := newFlakyStore()
	clean := model.NewAttemptKey(1, "exam-1", "")
	dirty := model.NewAttemptKey(2, "exam-1", "")

	store.Save(ctx, clean, model.AttemptPatch{Started: model.Ptr(true)})
	backend.down.Store(true)
	store.Save(ctx, dirty, model.AttemptPatch{Started: model.Ptr(true)})

	store.Forget(clean)
	store.Forget(dirty)
	if _, ok, _ := store.mirror.Load(ctx, clean); ok {
		t.Error("clean entry should be dropped from the mirror")
	}
	if _, ok, _ := store.mirror.Load(ctx, dirty); !ok {
		t.Error("dirty entry must stay until re-synced")
	}
}

func TestStoreReadFailureIsNotAbsence(t *testing.T) {
	ctx := context.Background()
	backend, store := newFlakyStore()
	key := model.NewAttemptKey(7, "exam-1", "")
	ref := key.Exam()

	// Written by another gateway instance, so nothing is mirrored here.
	backend.MemoryAttemptRepository.Save(ctx, key, model.AttemptPatch{
		Started: model.Ptr(true),
		Answers: map[string]string{"q1": "A"},
	})
	backend.MemoryAttemptRepository.SaveStatus(ctx, ref, model.GlobalStatusPatch{Completed: model.Ptr(false)})
	backend.down.Store(true)

	if st, found, err := store.Load(ctx, key); !errors.Is(err, attempt.ErrStoreUnavailable) || found || st != nil {
		t.Fatalf("Load while down = %+v, %v, %v; want ErrStoreUnavailable", st, found, err)
	}
	if _, err := store.LoadGlobalStatus(ctx, ref); !errors.Is(err, attempt.ErrStoreUnavailable) {
		t.Fatalf("LoadGlobalStatus while down err = %v", err)
	}
	if n := backend.saves.Load(); n != 0 {
		t.Fatalf("a failed read must not write, saw %d saves", n)
	}

	backend.down.Store(false)
	st, found, err := store.Load(ctx, key)
	if err != nil || !found || st.Answers["q1"] != "A" {
		t.Fatalf("Load after recovery = %+v, %v, %v", st, found, err)
	}
	store.LoadGlobalStatus(ctx, ref)

	// Once read, the mirror answers for the key during the next outage.
	backend.down.Store(true)
	st, found, err = store.Load(ctx, key)
	if err != nil || !found || !st.Started {
		t.Fatalf("Load from mirror = %+v, %v, %v", st, found, err)
	}
	if _, err := store.LoadGlobalStatus(ctx, ref); err != nil {
		t.Fatalf("LoadGlobalStatus from mirror err = %v", err)
	}
}
