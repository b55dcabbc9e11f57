package attempt

import (
	"context"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// ClockView is the countdown as shown to the student.
type ClockView struct {
	RemainingSeconds        int     `json:"remaining_seconds"`
	InitialRemainingSeconds int     `json:"initial_remaining_seconds"`
	Progress                float64 `json:"progress"`
	Urgency                 Urgency `json:"urgency"`
}

// Snapshot is the read model of an attempt handed to the surrounding UI.
// Working fields are empty unless the attempt is running.
type Snapshot struct {
	ExamID   string `json:"exam_id"`
	Category string `json:"category"`
	Phase    Phase  `json:"phase"`

	ExamStarted bool `json:"exam_started"`
	Submitting  bool `json:"submitting"`
	Submitted   bool `json:"submitted"`

	AnsweredCount  int `json:"answered_count"`
	TotalQuestions int `json:"total_questions"`
	Page           int `json:"page"`
	PageCount      int `json:"page_count"`
	PageSize       int `json:"page_size"`

	Clock ClockView `json:"clock"`

	Answers            map[string]string         `json:"answers,omitempty"`
	AnswerMedia        map[string]model.MediaRef `json:"answer_media,omitempty"`
	CurrentQuestionIDs []string                  `json:"current_question_ids,omitempty"`
	QuestionTimers     map[string]int            `json:"question_timers,omitempty"`

	Proctor  ProctorStatus     `json:"proctor"`
	Recorder *RecorderSnapshot `json:"recorder,omitempty"`
	Result   *model.Result     `json:"result,omitempty"`
	Notice   string            `json:"notice,omitempty"`
}

// UpdateKind tags a pushed update.
type UpdateKind string

const (
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateTick     UpdateKind = "tick"
	UpdateNotice   UpdateKind = "notice"
	UpdateRecorder UpdateKind = "recorder"
)

// Update is pushed to subscribers after every change.
type Update struct {
	Kind     UpdateKind
	Snapshot *Snapshot
	Clock    *ClockView
	Recorder *RecorderSnapshot
	Notice   string
}

// Snapshot returns the current read model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		ExamID:      c.key.ExamID,
		Category:    c.key.Category,
		Phase:       c.phase,
		ExamStarted: c.phase.Running(),
		Submitting:  c.phase == PhaseSubmitting,
		Submitted:   c.phase.Finished(),
		PageSize:    c.nav.PageSize(),
		Page:        c.nav.Page(),
		Proctor:     c.proctor.Status(),
		Notice:      c.notice,
	}
	if c.phase == PhaseCompleted {
		s.Result = c.result.Clone()
	}
	if !c.phase.Running() {
		return s
	}
	s.TotalQuestions = c.nav.Total()
	s.AnsweredCount = c.sheet.Answered(c.questions)
	s.PageCount = c.nav.PageCount()
	s.Clock = c.clockViewLocked()
	s.Answers = c.sheet.AnswersSnapshot()
	s.AnswerMedia = c.sheet.MediaSnapshot()
	s.QuestionTimers = c.timers.snapshot()
	for _, q := range c.nav.CurrentQuestions() {
		s.CurrentQuestionIDs = append(s.CurrentQuestionIDs, q.ID)
	}
	if c.recorder != nil {
		rs := c.recorder.Snapshot()
		if rs.State != RecorderClosed {
			s.Recorder = &rs
		}
	}
	return s
}

func (c *Controller) clockViewLocked() ClockView {
	return ClockView{
		RemainingSeconds:        c.clock.Remaining(),
		InitialRemainingSeconds: c.clock.Initial(),
		Progress:                c.clock.Progress(),
		Urgency:                 c.clock.Urgency(),
	}
}

// Page is one page of questions with its position.
type Page struct {
	Questions []model.Question `json:"questions"`
	Page      int              `json:"page"`
	PageCount int              `json:"page_count"`
	PageSize  int              `json:"page_size"`
	Total     int              `json:"total"`
	// FirstPosition is the 1-based position of the first question shown.
	FirstPosition int `json:"first_position"`
}

// CurrentPage returns the questions in view. Only a running attempt
// shows questions; a finished one never does, whichever category
// finished the exam.
func (c *Controller) CurrentPage(ctx context.Context) (Page, error) {
	c.Refresh(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.phase.Running() {
		if c.phase == PhaseDismissed {
			return Page{}, ErrAttemptDismissed
		}
		if c.phase == PhaseCompleted {
			return Page{}, ErrAttemptFinished
		}
		return Page{}, ErrNotActive
	}
	start, _ := c.nav.Bounds()
	return Page{
		Questions:     c.nav.CurrentQuestions(),
		Page:          c.nav.Page(),
		PageCount:     c.nav.PageCount(),
		PageSize:      c.nav.PageSize(),
		Total:         c.nav.Total(),
		FirstPosition: start + 1,
	}, nil
}

// Subscribe registers fn for pushed updates and returns the function
// that removes it. fn runs on the goroutine that made the change and
// must not block or call back into the controller.
func (c *Controller) Subscribe(fn func(Update)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Subscribers returns the number of live subscribers.
func (c *Controller) Subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

func (c *Controller) publish(u Update) {
	c.subMu.Lock()
	fns := make([]func(Update), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}
