package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-attempt/internal/model"
)

type EventType string

const (
	EventTypeAttemptStarted   EventType = "attempt.started"
	EventTypeAttemptCompleted EventType = "attempt.completed"
	EventTypeAttemptDismissed EventType = "attempt.dismissed"
)

// BaseEvent carries the fields shared by every event.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Version   string    `json:"version"`
}

// AttemptEvent describes a lifecycle transition of one attempt.
type AttemptEvent struct {
	BaseEvent
	StudentID        int           `json:"student_id"`
	ExamID           string        `json:"exam_id"`
	Category         string        `json:"category"`
	RemainingSeconds int           `json:"remaining_seconds,omitempty"`
	Auto             bool          `json:"auto,omitempty"`
	Result           *model.Result `json:"result,omitempty"`
}

func newAttemptEvent(t EventType, key model.AttemptKey) *AttemptEvent {
	return &AttemptEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      t,
			Timestamp: time.Now().Unix(),
			Version:   "1.0",
		},
		StudentID: key.StudentID,
		ExamID:    key.ExamID,
		Category:  key.Category,
	}
}

// NewAttemptStartedEvent creates an attempt.started event.
func NewAttemptStartedEvent(key model.AttemptKey, remainingSeconds int) *AttemptEvent {
	e := newAttemptEvent(EventTypeAttemptStarted, key)
	e.RemainingSeconds = remainingSeconds
	return e
}

// NewAttemptCompletedEvent creates an attempt.completed event.
func NewAttemptCompletedEvent(key model.AttemptKey, result *model.Result, auto bool) *AttemptEvent {
	e := newAttemptEvent(EventTypeAttemptCompleted, key)
	e.Result = result.Clone()
	e.Auto = auto
	return e
}

// NewAttemptDismissedEvent creates an attempt.dismissed event.
func NewAttemptDismissedEvent(key model.AttemptKey) *AttemptEvent {
	return newAttemptEvent(EventTypeAttemptDismissed, key)
}
