package attempt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Config tunes a controller.
type Config struct {
	PageSize       int
	TickInterval   time.Duration
	SubmitTimeout  time.Duration
	RecordingLimit time.Duration
	RecordingMime  string
}

func (c Config) withDefaults() Config {
	if c.PageSize < 1 {
		c.PageSize = 1
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.RecordingLimit <= 0 {
		c.RecordingLimit = 5 * time.Minute
	}
	return c
}

// Deps are the collaborators of a controller. Store and Backend are
// required; the rest have working defaults.
type Deps struct {
	Store    Store
	Backend  Backend
	Uploader Uploader
	Tickers  TickerFactory
	Policy   ProctorPolicy
	Sink     ProctorSink
	Hooks    Hooks
	Log      zerolog.Logger
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Tickers == nil {
		d.Tickers = RealTickers{}
	}
	if d.Sink == nil {
		d.Sink = nopSink{}
	}
	if d.Hooks == nil {
		d.Hooks = NopHooks{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Controller owns one attempt. All state is guarded by mu; network calls
// run with mu released so the clock keeps ticking while they are in
// flight.
type Controller struct {
	mu   sync.Mutex
	key  model.AttemptKey
	cfg  Config
	deps Deps
	log  zerolog.Logger

	phase    Phase
	starting bool
	closed   bool

	questions []model.Question
	nav       *Navigator
	sheet     *AnswerSheet
	timers    questionTimers
	clock     DeadlineClock
	proctor   *ProctorMonitor
	result    *model.Result
	notice    string

	clockTicker    Ticker
	questionTicker Ticker
	recorder       *Recorder

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int
}

// Open loads or creates the attempt for key. An active attempt is
// resumed exactly as persisted: answers, page and remaining seconds come
// from the store, never from the exam's timing source. An attempt whose
// clock already ran out without firing is auto-submitted before Open
// returns. When the store cannot say whether the attempt exists, Open
// fails with ErrStoreUnavailable instead of creating a fresh one.
func Open(ctx context.Context, key model.AttemptKey, cfg Config, deps Deps) (*Controller, error) {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()

	c := &Controller{
		key:     key,
		cfg:     cfg,
		deps:    deps,
		proctor: NewProctorMonitor(deps.Policy),
		timers:  questionTimers{},
		sheet:   newAnswerSheet(nil, nil),
		subs:    map[int]func(Update){},
		log: deps.Log.With().
			Str("component", "attempt").
			Int("student_id", key.StudentID).
			Str("exam_id", key.ExamID).
			Str("category", key.Category).
			Logger(),
	}

	global, err := deps.Store.LoadGlobalStatus(ctx, key.Exam())
	if err != nil {
		return nil, fmt.Errorf("open attempt: %w", err)
	}
	state, found, err := deps.Store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open attempt: %w", err)
	}
	if !found {
		state = model.NewAttemptState(cfg.PageSize)
		deps.Store.Save(ctx, key, model.AttemptPatch{
			Answers:        map[string]string{},
			AnswerMedia:    map[string]model.MediaRef{},
			QuestionTimers: map[string]int{},
			PageSize:       model.Ptr(state.PageSize),
			CurrentPage:    model.Ptr(1),
			Started:        model.Ptr(false),
		})
	}
	if state.PageSize < 1 {
		state.PageSize = cfg.PageSize
	}
	c.nav = NewNavigator(nil, state.PageSize, 1)

	c.phase = PhaseOf(state, global)
	switch c.phase {
	case PhaseDismissed:
		c.log.Debug().Msg("Attempt already dismissed")
		return c, nil

	case PhaseCompleted:
		c.result = state.LastResult
		if c.result == nil {
			c.result = global.LastResult
		}
		return c, nil

	case PhaseNotStarted:
		return c, nil
	}

	questions, err := deps.Backend.FetchQuestions(ctx, key.ExamID, key.Category)
	if err != nil {
		return nil, fmt.Errorf("resume attempt: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	c.questions = questions
	c.nav = NewNavigator(questions, state.PageSize, state.CurrentPage)
	c.sheet = newAnswerSheet(state.Answers, state.AnswerMedia)
	c.timers = questionTimers(state.QuestionTimers).prune(questions)
	c.clock.Resume(state.RemainingSeconds, state.InitialRemainingSeconds, state.ExpiryFired)
	c.proctor.Rearm()

	deps.Store.Save(ctx, key, model.AttemptPatch{
		QuestionTimers: c.timers.snapshot(),
		CurrentPage:    model.Ptr(c.nav.Page()),
	})

	c.mu.Lock()
	c.startTickersLocked()
	expired := c.clock.CheckExpiry()
	if expired {
		c.save(model.AttemptPatch{ExpiryFired: model.Ptr(true)})
	}
	c.mu.Unlock()

	c.log.Info().
		Int("remaining_seconds", c.clock.Remaining()).
		Int("page", c.nav.Page()).
		Msg("Attempt resumed")

	if expired {
		c.log.Info().Msg("Deadline passed while away, submitting")
		if _, err := c.RequestSubmit(ctx, SubmitOptions{Auto: true}); err != nil {
			c.log.Warn().Err(err).Msg("Auto-submit after resume failed")
		}
	}
	return c, nil
}

// Key returns the attempt identity.
func (c *Controller) Key() model.AttemptKey { return c.key }

// SetBackend swaps the backend, typically to carry a fresher student
// token for subsequent upstream calls.
func (c *Controller) SetBackend(b Backend) {
	c.mu.Lock()
	c.deps.Backend = b
	c.mu.Unlock()
}

// RequestStart begins the countdown. Starting an attempt that is
// already running is a no-op; it resumes, never duplicates. The returned
// directive asks the browser to enter fullscreen with the start gesture.
func (c *Controller) RequestStart(ctx context.Context) (Directive, error) {
	global, err := c.deps.Store.LoadGlobalStatus(ctx, c.key.Exam())
	if err != nil {
		return Directive{}, err
	}
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return Directive{}, err
	}
	if global.Dismissed || global.Completed {
		c.adoptGlobalLocked(global)
	}
	switch {
	case c.phase == PhaseDismissed:
		c.mu.Unlock()
		return Directive{}, ErrAttemptDismissed
	case c.phase == PhaseCompleted:
		c.mu.Unlock()
		return Directive{}, ErrAttemptFinished
	case c.phase != PhaseNotStarted || c.starting:
		c.mu.Unlock()
		return Directive{}, nil
	}
	c.starting = true
	backend := c.deps.Backend
	c.mu.Unlock()

	meta, questions, err := fetchExam(ctx, backend, c.key)

	c.mu.Lock()
	c.starting = false
	if c.closed {
		c.mu.Unlock()
		return Directive{}, ErrControllerShutdown
	}
	if err != nil {
		c.mu.Unlock()
		return Directive{}, err
	}
	if c.phase != PhaseNotStarted {
		c.mu.Unlock()
		return Directive{}, nil
	}
	if err := c.clock.Init(SourceFromExam(meta), c.deps.Now()); err != nil {
		c.mu.Unlock()
		return Directive{}, err
	}
	next, err := Transition(c.phase, EventStart)
	if err != nil {
		c.mu.Unlock()
		return Directive{}, err
	}
	c.phase = next
	c.questions = questions
	c.nav = NewNavigator(questions, c.nav.PageSize(), 1)
	c.timers = questionTimers{}
	c.notice = ""

	c.save(model.AttemptPatch{
		Started:                 model.Ptr(true),
		RemainingSeconds:        model.Ptr(c.clock.Remaining()),
		InitialRemainingSeconds: model.Ptr(c.clock.Initial()),
		ExpiryFired:             model.Ptr(false),
		PageSize:                model.Ptr(c.nav.PageSize()),
		CurrentPage:             model.Ptr(1),
		QuestionTimers:          map[string]int{},
	})

	directive := c.proctor.Arm()
	c.startTickersLocked()
	c.deps.Hooks.AttemptStarted(c.key, c.clock.Remaining())
	expired := c.clock.CheckExpiry()
	if expired {
		c.save(model.AttemptPatch{ExpiryFired: model.Ptr(true)})
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().
		Int("remaining_seconds", snap.Clock.RemainingSeconds).
		Int("questions", snap.TotalQuestions).
		Msg("Attempt started")
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})

	if expired {
		if _, err := c.RequestSubmit(ctx, SubmitOptions{Auto: true}); err != nil {
			c.log.Warn().Err(err).Msg("Auto-submit at start failed")
		}
	}
	return directive, nil
}

func fetchExam(ctx context.Context, backend Backend, key model.AttemptKey) (*model.ExamMeta, []model.Question, error) {
	meta, err := backend.FetchExam(ctx, key.ExamID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch exam: %w", err)
	}
	questions, err := backend.FetchQuestions(ctx, key.ExamID, key.Category)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil, ErrNoQuestions
	}
	return meta, questions, nil
}

// Refresh applies an exam-level completion or dismissal made under
// another category of the same exam. An unreadable store leaves the
// attempt as it is, and a submission in flight is left to finish.
func (c *Controller) Refresh(ctx context.Context) {
	global, err := c.deps.Store.LoadGlobalStatus(ctx, c.key.Exam())
	if err != nil || !(global.Completed || global.Dismissed) {
		return
	}
	c.mu.Lock()
	if c.closed || c.phase == PhaseSubmitting {
		c.mu.Unlock()
		return
	}
	before := c.phase
	c.adoptGlobalLocked(global)
	if c.phase == before {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().
		Str("from", string(before)).
		Str("to", string(snap.Phase)).
		Msg("Exam finished under another category")
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
}

// adoptGlobalLocked applies an exam-level completion made under another
// category.
func (c *Controller) adoptGlobalLocked(global model.GlobalStatus) {
	if c.phase.Finished() && !(global.Dismissed && c.phase != PhaseDismissed) {
		return
	}
	c.stopTickersLocked()
	c.proctor.Disarm()
	c.closeRecorderLocked()
	if global.Dismissed {
		c.phase = PhaseDismissed
		c.result = nil
		return
	}
	c.phase = PhaseCompleted
	if c.result == nil {
		c.result = global.LastResult
	}
}

// SelectAnswer records optionKey as the answer to questionID. It is a
// no-op once the attempt is finished and reports whether the sheet
// changed.
func (c *Controller) SelectAnswer(ctx context.Context, questionID, optionKey string) (bool, error) {
	c.Refresh(ctx)
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return false, err
	}
	if !c.phase.Running() {
		c.mu.Unlock()
		return false, nil
	}
	if c.nav.Position(questionID) == 0 {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if !c.sheet.Select(questionID, optionKey) {
		c.mu.Unlock()
		return false, nil
	}
	c.save(model.AttemptPatch{Answers: c.sheet.AnswersSnapshot()})
	c.deps.Hooks.AnswerSelected(c.key, questionID, optionKey)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
	return true, nil
}

// AttachMedia stores a recorded answer reference for questionID. Only an
// active attempt takes attachments: once submitting, the payload is
// already built.
func (c *Controller) AttachMedia(ctx context.Context, questionID string, ref model.MediaRef) error {
	c.Refresh(ctx)
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.nav.Position(questionID) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	c.sheet.Attach(questionID, ref)
	c.save(model.AttemptPatch{AnswerMedia: c.sheet.MediaSnapshot()})
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Str("question_id", questionID).Str("url", ref.URL).Msg("Recorded answer attached")
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
	return nil
}

// UploadAnswer stores a recording made outside the recorder, e.g. a
// file posted over HTTP, and attaches it to questionID.
func (c *Controller) UploadAnswer(ctx context.Context, questionID string, blob Blob) (model.MediaRef, error) {
	c.Refresh(ctx)
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return model.MediaRef{}, err
	}
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return model.MediaRef{}, ErrNotActive
	}
	if c.nav.Position(questionID) == 0 {
		c.mu.Unlock()
		return model.MediaRef{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	up := c.deps.Uploader
	c.mu.Unlock()
	if up == nil {
		return model.MediaRef{}, ErrNoUploader
	}

	name := fmt.Sprintf("answer-%s-%d.webm", questionID, c.deps.Now().UnixMilli())
	url, err := up.Upload(ctx, name, blob)
	if err != nil {
		return model.MediaRef{}, err
	}
	ref := model.MediaRef{URL: url, MimeType: blob.MimeType}
	return ref, c.AttachMedia(ctx, questionID, ref)
}

// RemoveMedia drops the recorded answer of questionID.
func (c *Controller) RemoveMedia(ctx context.Context, questionID string) (bool, error) {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return false, err
	}
	if c.phase != PhaseActive || !c.sheet.Remove(questionID) {
		c.mu.Unlock()
		return false, nil
	}
	c.save(model.AttemptPatch{AnswerMedia: c.sheet.MediaSnapshot()})
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
	return true, nil
}

// NavAction names a navigator move.
type NavAction string

const (
	NavFirst NavAction = "first"
	NavPrev  NavAction = "prev"
	NavNext  NavAction = "next"
	NavLast  NavAction = "last"
	NavGoTo  NavAction = "goto"
)

// Navigate moves the page. Moves are clamped and are no-ops unless the
// attempt is running. It reports whether the page changed.
func (c *Controller) Navigate(ctx context.Context, action NavAction, page int) (bool, error) {
	c.Refresh(ctx)
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return false, err
	}
	if !c.phase.Running() {
		c.mu.Unlock()
		return false, nil
	}
	var changed bool
	switch action {
	case NavFirst:
		changed = c.nav.First()
	case NavPrev:
		changed = c.nav.Prev()
	case NavNext:
		changed = c.nav.Next()
	case NavLast:
		changed = c.nav.Last()
	case NavGoTo:
		changed = c.nav.GoTo(page)
	default:
		c.mu.Unlock()
		return false, fmt.Errorf("unknown navigation action %q", action)
	}
	if !changed {
		c.mu.Unlock()
		return false, nil
	}
	if c.phase == PhaseActive {
		c.restartQuestionTickerLocked()
	}
	c.save(model.AttemptPatch{CurrentPage: model.Ptr(c.nav.Page())})
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
	return true, nil
}

// HandleSignal feeds one browser proctoring signal to the monitor.
// Signals observed while armed are forwarded to the audit sink.
func (c *Controller) HandleSignal(sig model.ProctorSignal) Directive {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Directive{}
	}
	d, record := c.proctor.Handle(sig)
	if record {
		ev := model.ProctorEvent{
			StudentID:  c.key.StudentID,
			ExamID:     c.key.ExamID,
			Category:   c.key.Category,
			Kind:       sig.Kind,
			Detail:     signalDetail(sig),
			RecordedAt: c.deps.Now().UTC(),
		}
		if current := c.nav.CurrentQuestions(); len(current) > 0 {
			ev.QuestionID = current[0].ID
		}
		c.deps.Sink.Record(ev)
	}
	if d.Notice != "" {
		c.notice = d.Notice
	}
	c.mu.Unlock()

	if sig.Kind == model.SignalFullscreenError {
		c.log.Debug().Msg("Fullscreen request rejected, waiting for next click")
	}
	if d.Notice != "" {
		c.publish(Update{Kind: UpdateNotice, Notice: d.Notice})
	}
	return d
}

func signalDetail(sig model.ProctorSignal) string {
	switch sig.Kind {
	case model.SignalKeyDown:
		return sig.Key
	case model.SignalFullscreenChange:
		if sig.Fullscreen {
			return "entered"
		}
		return "exited"
	case model.SignalVisibility:
		if sig.Visible {
			return "visible"
		}
		return "hidden"
	}
	return ""
}

// OpenRecorder opens a recorder for questionID on device. At most one
// recorder is open per attempt. A permission denial returns the recorder
// in its Denied state together with the error.
func (c *Controller) OpenRecorder(ctx context.Context, questionID string, device MediaDevice) (*Recorder, error) {
	c.Refresh(ctx)
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return nil, ErrNotActive
	}
	if c.nav.Position(questionID) == 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if c.recorder != nil && !c.recorder.Closed() {
		c.mu.Unlock()
		return nil, ErrRecorderBusy
	}
	if c.deps.Uploader == nil {
		c.mu.Unlock()
		return nil, ErrNoUploader
	}
	r := NewRecorder(questionID, device, RecorderConfig{
		Limit:    c.cfg.RecordingLimit,
		MimeType: c.cfg.RecordingMime,
		Tickers:  c.deps.Tickers,
		Uploader: c.deps.Uploader,
		OnAttach: func(qid string, ref model.MediaRef) error {
			return c.AttachMedia(context.Background(), qid, ref)
		},
		OnChange: func(s RecorderSnapshot) {
			c.publish(Update{Kind: UpdateRecorder, Recorder: &s})
		},
	})
	c.recorder = r
	c.mu.Unlock()

	if err := r.Open(ctx); err != nil {
		c.log.Warn().Err(err).Str("question_id", questionID).Msg("Recorder could not acquire device")
		return r, err
	}
	return r, nil
}

// Recorder returns the open recorder, if any.
func (c *Controller) Recorder() *Recorder {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorder == nil || c.recorder.Closed() {
		return nil
	}
	return c.recorder
}

// CloseRecorder closes the open recorder and releases its device.
func (c *Controller) CloseRecorder() {
	c.mu.Lock()
	c.closeRecorderLocked()
	c.mu.Unlock()
}

func (c *Controller) closeRecorderLocked() {
	if c.recorder != nil {
		c.recorder.Close()
		c.recorder = nil
	}
}

// Dismiss acknowledges the result. The attempt becomes inert for every
// category of the exam. Dismissing twice is a no-op.
func (c *Controller) Dismiss(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerShutdown
	}
	if c.phase == PhaseDismissed {
		c.mu.Unlock()
		return nil
	}
	next, err := Transition(c.phase, EventDismiss)
	if err != nil {
		c.mu.Unlock()
		return ErrNotCompleted
	}
	c.phase = next
	c.result = nil
	c.questions = nil
	c.nav = NewNavigator(nil, c.nav.PageSize(), 1)
	c.sheet = newAnswerSheet(nil, nil)
	c.timers = questionTimers{}

	c.deps.Store.Clear(ctx, c.key)
	c.save(model.AttemptPatch{Dismissed: model.Ptr(true)})
	c.deps.Store.SaveGlobalStatus(ctx, c.key.Exam(), model.GlobalStatusPatch{Dismissed: model.Ptr(true)})
	c.deps.Hooks.AttemptDismissed(c.key)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Msg("Attempt dismissed")
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
	return nil
}

// Close tears the controller down: every ticker stops and the recorder
// releases its device. Persisted state is left untouched, so the attempt
// resumes on the next Open. A submission already in flight still
// completes and records its result.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTickersLocked()
	c.closeRecorderLocked()
	c.mu.Unlock()

	c.subMu.Lock()
	c.subs = map[int]func(Update){}
	c.subMu.Unlock()
	c.log.Debug().Msg("Attempt controller closed")
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) usableLocked() error {
	if c.closed {
		return ErrControllerShutdown
	}
	return nil
}

// ─── Tickers ─────────────────────────────────────────────────────────

func (c *Controller) startTickersLocked() {
	if c.clockTicker == nil {
		c.clockTicker = c.deps.Tickers.Every(c.cfg.TickInterval, c.onClockTick)
	}
	if c.phase == PhaseActive {
		c.restartQuestionTickerLocked()
	}
}

func (c *Controller) restartQuestionTickerLocked() {
	c.questionTicker = stopTicker(c.questionTicker)
	c.questionTicker = c.deps.Tickers.Every(c.cfg.TickInterval, c.onQuestionTick)
}

func (c *Controller) stopTickersLocked() {
	c.clockTicker = stopTicker(c.clockTicker)
	c.questionTicker = stopTicker(c.questionTicker)
}

func (c *Controller) onClockTick() {
	c.mu.Lock()
	if c.closed || !c.phase.Running() {
		c.mu.Unlock()
		return
	}
	fired := c.clock.Tick()
	patch := model.AttemptPatch{RemainingSeconds: model.Ptr(c.clock.Remaining())}
	if fired {
		patch.ExpiryFired = model.Ptr(true)
	}
	c.save(patch)
	view := c.clockViewLocked()
	c.mu.Unlock()

	c.publish(Update{Kind: UpdateTick, Clock: &view})
	if fired {
		c.log.Info().Msg("Deadline reached, submitting")
		if _, err := c.RequestSubmit(context.Background(), SubmitOptions{Auto: true}); err != nil {
			c.log.Warn().Err(err).Msg("Auto-submit failed")
		}
	}
}

func (c *Controller) onQuestionTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.phase != PhaseActive {
		return
	}
	current := c.nav.CurrentQuestions()
	if len(current) == 0 {
		return
	}
	c.timers.add(current, 1)
	c.save(model.AttemptPatch{QuestionTimers: c.timers.snapshot()})
}

// save writes through to the store. The store never fails the caller and
// is not bound to a request, so a disconnecting client cannot drop it.
func (c *Controller) save(p model.AttemptPatch) {
	c.deps.Store.Save(context.Background(), c.key, p)
}
