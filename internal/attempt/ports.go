package attempt

import (
	"context"
	"encoding/json"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Store persists attempt state per key and the exam-level global status.
// Writes never fail the caller: a broken backing store degrades to
// memory and the attempt carries on. Reads return ErrStoreUnavailable
// when the backing store fails and nothing is known locally, so an
// unreadable entry is never mistaken for an absent one.
type Store interface {
	Load(ctx context.Context, key model.AttemptKey) (*model.AttemptState, bool, error)
	Save(ctx context.Context, key model.AttemptKey, patch model.AttemptPatch)
	Clear(ctx context.Context, key model.AttemptKey)
	LoadGlobalStatus(ctx context.Context, ref model.ExamRef) (model.GlobalStatus, error)
	SaveGlobalStatus(ctx context.Context, ref model.ExamRef, patch model.GlobalStatusPatch)
}

// ExamSource fetches exam metadata and the ordered question list.
type ExamSource interface {
	FetchExam(ctx context.Context, examID string) (*model.ExamMeta, error)
	FetchQuestions(ctx context.Context, examID, category string) ([]model.Question, error)
}

// Submitter posts a finished attempt and returns the raw scored result.
type Submitter interface {
	Submit(ctx context.Context, examID string, payload *model.SubmissionPayload) (json.RawMessage, error)
}

// Backend is everything the controller needs from the exam backend.
type Backend interface {
	ExamSource
	Submitter
}

// Uploader stores a recorded answer and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, blob Blob) (string, error)
}

// ProctorSink receives the audit trail of armed proctoring signals.
type ProctorSink interface {
	Record(ev model.ProctorEvent)
}

// Hooks observe attempt lifecycle transitions. Calls happen while the
// controller lock is held and must not block.
type Hooks interface {
	AttemptStarted(key model.AttemptKey, remainingSeconds int)
	AnswerSelected(key model.AttemptKey, questionID, option string)
	AttemptCompleted(key model.AttemptKey, result *model.Result, auto bool)
	AttemptDismissed(key model.AttemptKey)
}

// NopHooks ignores every lifecycle notification.
type NopHooks struct{}

func (NopHooks) AttemptStarted(model.AttemptKey, int)                   {}
func (NopHooks) AnswerSelected(model.AttemptKey, string, string)        {}
func (NopHooks) AttemptCompleted(model.AttemptKey, *model.Result, bool) {}
func (NopHooks) AttemptDismissed(model.AttemptKey)                      {}

type nopSink struct{}

func (nopSink) Record(model.ProctorEvent) {}
