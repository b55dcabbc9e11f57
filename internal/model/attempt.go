package model

import (
	"fmt"
	"strings"
)

// CategoryAll is the category filter used when no category is selected.
const CategoryAll = "all"

// AttemptKey identifies one attempt: a student's pass at one category
// variant of an exam. Switching categories never touches another
// category's working state.
type AttemptKey struct {
	StudentID int    `json:"student_id"`
	ExamID    string `json:"exam_id"`
	Category  string `json:"category"`
}

// NewAttemptKey builds a key, normalizing an empty category to CategoryAll.
func NewAttemptKey(studentID int, examID, category string) AttemptKey {
	return AttemptKey{
		StudentID: studentID,
		ExamID:    examID,
		Category:  NormalizeCategory(category),
	}
}

// NormalizeCategory maps an empty filter to CategoryAll.
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return CategoryAll
	}
	return category
}

// Exam returns the exam-level reference used for the global status.
func (k AttemptKey) Exam() ExamRef {
	return ExamRef{StudentID: k.StudentID, ExamID: k.ExamID}
}

func (k AttemptKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.StudentID, k.ExamID, k.Category)
}

// ExamRef identifies a student's exam regardless of category.
type ExamRef struct {
	StudentID int    `json:"student_id"`
	ExamID    string `json:"exam_id"`
}

// MediaRef points to a recorded answer stored outside the attempt.
type MediaRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// AttemptState is the persisted working state of one attempt.
type AttemptState struct {
	Answers     map[string]string   `json:"answers"`
	AnswerMedia map[string]MediaRef `json:"answer_media"`

	PageSize    int `json:"page_size"`
	CurrentPage int `json:"current_page"`

	Started                 bool `json:"started"`
	RemainingSeconds        int  `json:"remaining_seconds"`
	InitialRemainingSeconds int  `json:"initial_remaining_seconds"`
	ExpiryFired             bool `json:"expiry_fired"`

	// QuestionTimers holds accumulated seconds per question id.
	QuestionTimers map[string]int `json:"question_timers"`

	Completed  bool    `json:"completed"`
	Dismissed  bool    `json:"dismissed"`
	LastResult *Result `json:"last_result,omitempty"`
}

// NewAttemptState returns the defaults for an attempt that was never opened.
func NewAttemptState(pageSize int) *AttemptState {
	if pageSize < 1 {
		pageSize = 1
	}
	return &AttemptState{
		Answers:        map[string]string{},
		AnswerMedia:    map[string]MediaRef{},
		QuestionTimers: map[string]int{},
		PageSize:       pageSize,
		CurrentPage:    1,
	}
}

// Clone returns a deep copy.
func (s *AttemptState) Clone() *AttemptState {
	if s == nil {
		return nil
	}
	out := *s
	out.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	out.AnswerMedia = make(map[string]MediaRef, len(s.AnswerMedia))
	for k, v := range s.AnswerMedia {
		out.AnswerMedia[k] = v
	}
	out.QuestionTimers = make(map[string]int, len(s.QuestionTimers))
	for k, v := range s.QuestionTimers {
		out.QuestionTimers[k] = v
	}
	if s.LastResult != nil {
		r := s.LastResult.Clone()
		out.LastResult = r
	}
	return &out
}

// Apply merges a patch into the state. Only supplied fields change.
func (s *AttemptState) Apply(p AttemptPatch) {
	if p.Answers != nil {
		s.Answers = copyStrings(p.Answers)
	}
	if p.AnswerMedia != nil {
		s.AnswerMedia = make(map[string]MediaRef, len(p.AnswerMedia))
		for k, v := range p.AnswerMedia {
			s.AnswerMedia[k] = v
		}
	}
	if p.QuestionTimers != nil {
		s.QuestionTimers = copyInts(p.QuestionTimers)
	}
	if p.PageSize != nil {
		s.PageSize = *p.PageSize
	}
	if p.CurrentPage != nil {
		s.CurrentPage = *p.CurrentPage
	}
	if p.Started != nil {
		s.Started = *p.Started
	}
	if p.RemainingSeconds != nil {
		s.RemainingSeconds = *p.RemainingSeconds
	}
	if p.InitialRemainingSeconds != nil {
		s.InitialRemainingSeconds = *p.InitialRemainingSeconds
	}
	if p.ExpiryFired != nil {
		s.ExpiryFired = *p.ExpiryFired
	}
	if p.Completed != nil {
		s.Completed = *p.Completed
	}
	if p.Dismissed != nil {
		s.Dismissed = *p.Dismissed
	}
	if p.LastResult != nil {
		s.LastResult = p.LastResult.Clone()
	}
}

// ClearWorking drops answers, media, timers, clock and pagination.
// Completion markers and the cached result stay.
func (s *AttemptState) ClearWorking() {
	s.Answers = map[string]string{}
	s.AnswerMedia = map[string]MediaRef{}
	s.QuestionTimers = map[string]int{}
	s.Started = false
	s.RemainingSeconds = 0
	s.InitialRemainingSeconds = 0
	s.ExpiryFired = false
	s.CurrentPage = 1
}

// AttemptPatch is a partial AttemptState. A nil field is "not supplied";
// a non-nil map replaces the stored map, even when empty.
type AttemptPatch struct {
	Answers                 map[string]string
	AnswerMedia             map[string]MediaRef
	QuestionTimers          map[string]int
	PageSize                *int
	CurrentPage             *int
	Started                 *bool
	RemainingSeconds        *int
	InitialRemainingSeconds *int
	ExpiryFired             *bool
	Completed               *bool
	Dismissed               *bool
	LastResult              *Result
}

// GlobalStatus is the exam-level marker shared by every category.
type GlobalStatus struct {
	Completed  bool    `json:"completed"`
	Dismissed  bool    `json:"dismissed"`
	LastResult *Result `json:"last_result,omitempty"`
}

// GlobalStatusPatch is a partial GlobalStatus.
type GlobalStatusPatch struct {
	Completed  *bool
	Dismissed  *bool
	LastResult *Result
}

// Apply merges a patch into the status.
func (g *GlobalStatus) Apply(p GlobalStatusPatch) {
	if p.Completed != nil {
		g.Completed = *p.Completed
	}
	if p.Dismissed != nil {
		g.Dismissed = *p.Dismissed
	}
	if p.LastResult != nil {
		g.LastResult = p.LastResult.Clone()
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyInts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
