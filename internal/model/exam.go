package model

import (
	"encoding/json"
	"time"
)

// ExamMeta is the timing-relevant part of the upstream exam resource.
// At most one of the three timing sources is normally set; the deadline
// clock decides which one wins.
type ExamMeta struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	RemainingSeconds *int       `json:"remaining_seconds,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	DurationMinutes  *int       `json:"duration_minutes,omitempty"`
}

// Question is one exam question as served to students. Media fields are
// passed through untouched; rendering them is the browser's job.
type Question struct {
	ID                      string          `json:"id"`
	Question                string          `json:"question"`
	Options                 json.RawMessage `json:"options"`
	Hint                    string          `json:"hint,omitempty"`
	MediaURL                string          `json:"mediaUrl,omitempty"`
	Image                   string          `json:"image,omitempty"`
	Video                   string          `json:"video,omitempty"`
	Audio                   string          `json:"audio,omitempty"`
	SVG                     string          `json:"svg,omitempty"`
	EstimatedTimeToComplete int             `json:"estimated_time_to_complete"`
}

// SubmissionPayload is the body posted to the upstream submit endpoint.
// Questions keeps the original question order; a nil option means the
// question was left unanswered.
type SubmissionPayload struct {
	Questions []map[string]*string `json:"questions"`
	Auto      bool                 `json:"auto"`
	Media     map[string]MediaRef  `json:"media"`
}
