package model

import "time"

// SignalKind enumerates the browser signals the proctoring monitor observes.
type SignalKind string

const (
	SignalKeyDown          SignalKind = "keydown"
	SignalFullscreenChange SignalKind = "fullscreen_change"
	SignalFullscreenError  SignalKind = "fullscreen_error"
	SignalClick            SignalKind = "click"
	SignalFocus            SignalKind = "focus"
	SignalBlur             SignalKind = "blur"
	SignalVisibility       SignalKind = "visibility"
)

// ProctorSignal is one observation reported by the browser.
type ProctorSignal struct {
	Kind       SignalKind `json:"kind" binding:"required,oneof=keydown fullscreen_change fullscreen_error click focus blur visibility"`
	Key        string     `json:"key,omitempty"`
	Fullscreen bool       `json:"fullscreen,omitempty"`
	Visible    bool       `json:"visible,omitempty"`
}

// ProctorEvent is the audit record persisted for an armed signal.
type ProctorEvent struct {
	StudentID  int        `json:"student_id"`
	ExamID     string     `json:"exam_id"`
	Category   string     `json:"category"`
	Kind       SignalKind `json:"kind"`
	Detail     string     `json:"detail,omitempty"`
	QuestionID string     `json:"question_id,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}
