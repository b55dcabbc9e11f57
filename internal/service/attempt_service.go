package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/storage"
)

// ErrServiceClosed is returned once Shutdown ran.
var ErrServiceClosed = errors.New("attempt service is shutting down")

// AttemptStore is the store controllers share. Forget releases the
// in-memory copy of an evicted attempt.
type AttemptStore interface {
	attempt.Store
	Forget(key model.AttemptKey)
}

// StudentBackend is the exam backend seen with one student's token.
type StudentBackend interface {
	attempt.Backend
	attempt.Uploader
}

// BackendFactory binds the exam backend to a student token.
type BackendFactory func(token string) StudentBackend

// AttemptServiceDeps wires the service.
type AttemptServiceDeps struct {
	Store    AttemptStore
	Backends BackendFactory
	// Uploader stores recordings. Nil uploads through the student's
	// upstream session.
	Uploader attempt.Uploader
	Hooks    attempt.Hooks
	Sink     attempt.ProctorSink
	Tickers  attempt.TickerFactory
	Log      zerolog.Logger
}

// AttemptService owns the live attempt controllers. Every request for
// the same attempt key gets the same controller, so two tabs of one
// student drive one attempt.
type AttemptService struct {
	cfg   attempt.Config
	deps  AttemptServiceDeps
	hooks attempt.Hooks
	idle  time.Duration
	pol   string
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.Mutex
	entries map[model.AttemptKey]*entry
	closed  bool
}

type entry struct {
	ready    chan struct{}
	err      error
	ctl      *attempt.Controller
	token    *atomic.Value
	refs     int
	lastUsed time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(cfg *config.Config, deps AttemptServiceDeps) *AttemptService {
	if deps.Hooks == nil {
		deps.Hooks = attempt.NopHooks{}
	}
	s := &AttemptService{
		cfg: attempt.Config{
			PageSize:       cfg.PageSize,
			SubmitTimeout:  cfg.SubmitTimeout,
			RecordingLimit: cfg.RecordingLimit,
		},
		deps:    deps,
		idle:    cfg.AttemptIdle,
		pol:     cfg.ProctorPolicy,
		log:     deps.Log.With().Str("component", "attempt_service").Logger(),
		now:     time.Now,
		entries: map[model.AttemptKey]*entry{},
	}
	s.hooks = MultiHooks{deps.Hooks, siblingHooks{svc: s}}
	return s
}

// Lease pins a controller until Release. Idle eviction skips leased
// controllers.
type Lease struct {
	*attempt.Controller
	once    sync.Once
	release func()
}

// Release returns the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Acquire returns the controller for key, opening it on first use.
// token is the student's bearer token for upstream calls; a fresher
// token replaces the one the controller was opened with. A controller
// that was already live picks up any exam-level status saved since.
func (s *AttemptService) Acquire(ctx context.Context, key model.AttemptKey, token string) (*Lease, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrServiceClosed
		}
		e, ok := s.entries[key]
		if !ok {
			e = &entry{ready: make(chan struct{}), token: &atomic.Value{}}
			e.token.Store(token)
			s.entries[key] = e
			s.mu.Unlock()
			s.open(ctx, key, e)
		} else {
			s.mu.Unlock()
		}

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}

		s.mu.Lock()
		if s.entries[key] != e {
			// Evicted between ready and here; open a fresh one.
			s.mu.Unlock()
			continue
		}
		e.refs++
		e.lastUsed = s.now()
		if token != "" {
			e.token.Store(token)
		}
		s.mu.Unlock()

		if ok {
			e.ctl.Refresh(ctx)
		}
		return &Lease{Controller: e.ctl, release: func() { s.release(key, e) }}, nil
	}
}

// refreshSiblings makes every live controller of the same exam, other
// than key's, adopt the exam-level status key just saved.
func (s *AttemptService) refreshSiblings(key model.AttemptKey) {
	exam := key.Exam()
	var siblings []*attempt.Controller
	s.mu.Lock()
	for k, e := range s.entries {
		if k != key && k.Exam() == exam && e.ctl != nil {
			siblings = append(siblings, e.ctl)
		}
	}
	s.mu.Unlock()

	for _, ctl := range siblings {
		ctl.Refresh(context.Background())
	}
}

// siblingHooks spreads completion and dismissal to the other categories
// of the exam. Hooks run under the controller lock, so the refresh runs
// on its own goroutine.
type siblingHooks struct {
	attempt.NopHooks
	svc *AttemptService
}

func (h siblingHooks) AttemptCompleted(key model.AttemptKey, _ *model.Result, _ bool) {
	go h.svc.refreshSiblings(key)
}

func (h siblingHooks) AttemptDismissed(key model.AttemptKey) {
	go h.svc.refreshSiblings(key)
}

func (s *AttemptService) open(ctx context.Context, key model.AttemptKey, e *entry) {
	backend := &tokenBackend{factory: s.deps.Backends, token: e.token}
	uploader := s.deps.Uploader
	if uploader == nil {
		uploader = storage.Instrument("upstream", backend)
	}

	ctl, err := attempt.Open(ctx, key, s.cfg, attempt.Deps{
		Store:    s.deps.Store,
		Backend:  backend,
		Uploader: uploader,
		Tickers:  s.deps.Tickers,
		Policy:   attempt.PolicyByName(s.pol),
		Sink:     s.deps.Sink,
		Hooks:    s.hooks,
		Log:      s.deps.Log,
	})

	s.mu.Lock()
	if err != nil {
		e.err = err
		delete(s.entries, key)
	} else {
		e.ctl = ctl
		e.lastUsed = s.now()
		metrics.ActiveAttempts.Inc()
	}
	s.mu.Unlock()
	close(e.ready)

	if err != nil {
		s.log.Warn().Err(err).Str("attempt", key.String()).Msg("Failed to open attempt")
	}
}

func (s *AttemptService) release(key model.AttemptKey, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.refs > 0 {
		e.refs--
	}
	e.lastUsed = s.now()
}

// Do runs fn on the controller for key and releases it afterwards.
func (s *AttemptService) Do(ctx context.Context, key model.AttemptKey, token string, fn func(*attempt.Controller) error) error {
	lease, err := s.Acquire(ctx, key, token)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Controller)
}

// Len reports how many controllers are held.
func (s *AttemptService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EvictIdle closes controllers that nobody leased or watched for the
// idle period. Their persisted state stays; the next Acquire resumes.
func (s *AttemptService) EvictIdle() int {
	now := s.now()
	var victims []*entry

	s.mu.Lock()
	for key, e := range s.entries {
		if e.ctl == nil || e.refs > 0 {
			continue
		}
		if e.ctl.Closed() {
			delete(s.entries, key)
			victims = append(victims, e)
			continue
		}
		if now.Sub(e.lastUsed) < s.idle || e.ctl.Subscribers() > 0 {
			continue
		}
		if e.ctl.Snapshot().Submitting {
			continue
		}
		delete(s.entries, key)
		victims = append(victims, e)
	}
	s.mu.Unlock()

	for _, e := range victims {
		key := e.ctl.Key()
		e.ctl.Close()
		s.deps.Store.Forget(key)
		metrics.ActiveAttempts.Dec()
		s.log.Debug().Str("attempt", key.String()).Msg("Evicted idle attempt")
	}
	return len(victims)
}

// RunJanitor evicts idle controllers until ctx is cancelled.
func (s *AttemptService) RunJanitor(ctx context.Context) {
	interval := s.idle / 4
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.EvictIdle(); n > 0 {
				s.log.Info().Int("evicted", n).Int("held", s.Len()).Msg("Idle attempts evicted")
			}
		}
	}
}

// Shutdown closes every controller. Persisted state is kept.
func (s *AttemptService) Shutdown() {
	s.mu.Lock()
	s.closed = true
	entries := s.entries
	s.entries = map[model.AttemptKey]*entry{}
	s.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.ctl != nil {
			e.ctl.Close()
			metrics.ActiveAttempts.Dec()
		}
	}
	s.log.Info().Int("closed", len(entries)).Msg("Attempt controllers closed")
}

// tokenBackend resolves the student's current token on every call.
type tokenBackend struct {
	factory BackendFactory
	token   *atomic.Value
}

func (b *tokenBackend) current() StudentBackend {
	t, _ := b.token.Load().(string)
	return b.factory(t)
}

func (b *tokenBackend) FetchExam(ctx context.Context, examID string) (*model.ExamMeta, error) {
	return b.current().FetchExam(ctx, examID)
}

func (b *tokenBackend) FetchQuestions(ctx context.Context, examID, category string) ([]model.Question, error) {
	return b.current().FetchQuestions(ctx, examID, category)
}

func (b *tokenBackend) Submit(ctx context.Context, examID string, payload *model.SubmissionPayload) (json.RawMessage, error) {
	return b.current().Submit(ctx, examID, payload)
}

func (b *tokenBackend) Upload(ctx context.Context, name string, blob attempt.Blob) (string, error) {
	return b.current().Upload(ctx, name, blob)
}
