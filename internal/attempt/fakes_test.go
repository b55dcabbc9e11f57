package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// manualTickers hands out handles that only fire on Tick.
type manualTickers struct {
	mu      sync.Mutex
	handles []*manualTicker
}

type manualTicker struct {
	fn      func()
	stopped atomic.Bool
}

func (t *manualTicker) Stop() { t.stopped.Store(true) }

func (m *manualTickers) Every(_ time.Duration, fn func()) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &manualTicker{fn: fn}
	m.handles = append(m.handles, h)
	return h
}

// Tick fires every live handle once.
func (m *manualTickers) Tick() {
	m.mu.Lock()
	live := make([]*manualTicker, 0, len(m.handles))
	for _, h := range m.handles {
		if !h.stopped.Load() {
			live = append(live, h)
		}
	}
	m.mu.Unlock()
	for _, h := range live {
		if !h.stopped.Load() {
			h.fn()
		}
	}
}

func (m *manualTickers) TickN(n int) {
	for i := 0; i < n; i++ {
		m.Tick()
	}
}

func (m *manualTickers) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.handles {
		if !h.stopped.Load() {
			n++
		}
	}
	return n
}

// memStore is a map-backed Store. While readErr is set every read fails
// with it.
type memStore struct {
	mu      sync.Mutex
	states  map[model.AttemptKey]*model.AttemptState
	global  map[model.ExamRef]model.GlobalStatus
	readErr error
}

func newMemStore() *memStore {
	return &memStore{
		states: map[model.AttemptKey]*model.AttemptState{},
		global: map[model.ExamRef]model.GlobalStatus{},
	}
}

func (s *memStore) Load(_ context.Context, key model.AttemptKey) (*model.AttemptState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, false, s.readErr
	}
	st, ok := s.states[key]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

func (s *memStore) Save(_ context.Context, key model.AttemptKey, p model.AttemptPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		st = model.NewAttemptState(1)
		s.states[key] = st
	}
	st.Apply(p)
}

func (s *memStore) Clear(_ context.Context, key model.AttemptKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		st.ClearWorking()
	}
}

func (s *memStore) LoadGlobalStatus(_ context.Context, ref model.ExamRef) (model.GlobalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return model.GlobalStatus{}, s.readErr
	}
	return s.global[ref], nil
}

func (s *memStore) failReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *memStore) SaveGlobalStatus(_ context.Context, ref model.ExamRef, p model.GlobalStatusPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.global[ref]
	g.Apply(p)
	s.global[ref] = g
}

func (s *memStore) state(key model.AttemptKey) *model.AttemptState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st.Clone()
	}
	return nil
}

// fakeBackend serves a fixed exam and records submissions.
type fakeBackend struct {
	mu        sync.Mutex
	meta      model.ExamMeta
	questions []model.Question
	fetchErr  error
	submitErr error
	response  string
	payloads  []*model.SubmissionPayload

	// When gate is set Submit signals entered and blocks until gate closes.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeBackend(n int) *fakeBackend {
	return &fakeBackend{
		meta:      model.ExamMeta{ID: "exam-1", Title: "Physics", DurationMinutes: model.Ptr(1)},
		questions: makeQuestions(n),
		response:  `{"score": 2, "total": 3}`,
	}
}

func makeQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:       fmt.Sprintf("q%d", i+1),
			Question: fmt.Sprintf("Question %d", i+1),
			Options:  json.RawMessage(`[{"key":"A"},{"key":"B"}]`),
		}
	}
	return qs
}

func (b *fakeBackend) FetchExam(context.Context, string) (*model.ExamMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	m := b.meta
	return &m, nil
}

func (b *fakeBackend) FetchQuestions(context.Context, string, string) ([]model.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.questions, nil
}

func (b *fakeBackend) Submit(_ context.Context, _ string, p *model.SubmissionPayload) (json.RawMessage, error) {
	b.mu.Lock()
	b.payloads = append(b.payloads, p)
	gate, entered := b.gate, b.entered
	b.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return json.RawMessage(b.response), nil
}

func (b *fakeBackend) submissions() []*model.SubmissionPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.SubmissionPayload(nil), b.payloads...)
}

// fakeTrack mimics a MediaStreamTrack.
type fakeTrack struct {
	kind  string
	ended atomic.Bool
}

func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Stop()        { t.ended.Store(true) }
func (t *fakeTrack) ReadyState() TrackState {
	if t.ended.Load() {
		return TrackEnded
	}
	return TrackLive
}

type fakeStream struct {
	tracks    []*fakeTrack
	finishErr error
	captures  []*fakeCapture
}

func (s *fakeStream) Tracks() []MediaTrack {
	out := make([]MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) Record(mime string) (Capture, error) {
	c := &fakeCapture{mime: mime, err: s.finishErr}
	s.captures = append(s.captures, c)
	return c, nil
}

func (s *fakeStream) allEnded() bool {
	for _, t := range s.tracks {
		if t.ReadyState() != TrackEnded {
			return false
		}
	}
	return true
}

type fakeCapture struct {
	mime      string
	err       error
	discarded bool
}

func (c *fakeCapture) Finish(context.Context) (Blob, error) {
	if c.err != nil {
		return Blob{}, c.err
	}
	return Blob{Data: []byte("webm-frames"), MimeType: c.mime}, nil
}

func (c *fakeCapture) Discard() { c.discarded = true }

type fakeDevice struct {
	mu        sync.Mutex
	deny      bool
	finishErr error
	streams   []*fakeStream
}

func (d *fakeDevice) Acquire(context.Context) (MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deny {
		return nil, fmt.Errorf("%w: NotAllowedError", ErrPermissionDenied)
	}
	s := &fakeStream{
		tracks:    []*fakeTrack{{kind: "video"}, {kind: "audio"}},
		finishErr: d.finishErr,
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	calls int
	blobs []Blob
}

func (u *fakeUploader) Upload(_ context.Context, name string, blob Blob) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.blobs = append(u.blobs, blob)
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example.test/answers/" + name, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.ProctorEvent
}

func (s *recordingSink) Record(ev model.ProctorEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type countingHooks struct {
	NopHooks
	started   atomic.Int32
	completed atomic.Int32
	dismissed atomic.Int32
}

func (h *countingHooks) AttemptStarted(model.AttemptKey, int) { h.started.Add(1) }
func (h *countingHooks) AttemptCompleted(model.AttemptKey, *model.Result, bool) {
	h.completed.Add(1)
}
func (h *countingHooks) AttemptDismissed(model.AttemptKey) { h.dismissed.Add(1) }

var errBoom = errors.New("boom")

// harness bundles a controller with its fakes.
type harness struct {
	t        *testing.T
	key      model.AttemptKey
	store    *memStore
	backend  *fakeBackend
	tickers  *manualTickers
	uploader *fakeUploader
	sink     *recordingSink
	hooks    *countingHooks
	cfg      Config
}

func newHarness(t *testing.T, questions int) *harness {
	t.Helper()
	return &harness{
		t:        t,
		key:      model.NewAttemptKey(7, "exam-1", ""),
		store:    newMemStore(),
		backend:  newFakeBackend(questions),
		tickers:  &manualTickers{},
		uploader: &fakeUploader{},
		sink:     &recordingSink{},
		hooks:    &countingHooks{},
		cfg:      Config{PageSize: 1},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Store:    h.store,
		Backend:  h.backend,
		Uploader: h.uploader,
		Tickers:  h.tickers,
		Sink:     h.sink,
		Hooks:    h.hooks,
		Log:      zerolog.Nop(),
	}
}

func (h *harness) open(key model.AttemptKey) *Controller {
	h.t.Helper()
	c, err := Open(context.Background(), key, h.cfg, h.deps())
	if err != nil {
		h.t.Fatalf("Open(%s): %v", key, err)
	}
	h.t.Cleanup(c.Close)
	return c
}

func (h *harness) started() *Controller {
	h.t.Helper()
	c := h.open(h.key)
	if _, err := c.RequestStart(context.Background()); err != nil {
		h.t.Fatalf("RequestStart: %v", err)
	}
	return c
}

func mustSelect(t *testing.T, c *Controller, qid, opt string) {
	t.Helper()
	if _, err := c.SelectAnswer(context.Background(), qid, opt); err != nil {
		t.Fatalf("SelectAnswer(%s): %v", qid, err)
	}
}
