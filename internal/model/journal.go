package model

import "time"

// AnswerRecord is one accepted answer selection, journaled for audit.
type AnswerRecord struct {
	StudentID  int       `json:"student_id"`
	ExamID     string    `json:"exam_id"`
	Category   string    `json:"category"`
	QuestionID string    `json:"question_id"`
	Option     string    `json:"option"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ResultRecord is a completed submission, archived with its score.
type ResultRecord struct {
	StudentID   int       `json:"student_id"`
	ExamID      string    `json:"exam_id"`
	Category    string    `json:"category"`
	Auto        bool      `json:"auto"`
	Result      *Result   `json:"result"`
	SubmittedAt time.Time `json:"submitted_at"`
}
