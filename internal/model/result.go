package model

// QuestionResult is the graded outcome for one question.
type QuestionResult struct {
	QuestionID string `json:"question"`
	Selected   string `json:"selected"`
	Correct    string `json:"correct"`
	IsCorrect  bool   `json:"is_correct"`
}

// Result is the scored outcome of a submitted attempt.
type Result struct {
	PerQuestionResults []QuestionResult `json:"per_question_results,omitempty"`
	ObtainedScore      float64          `json:"obtained_score"`
	TotalScore         float64          `json:"total_score"`
	Percentage         float64          `json:"percentage"`
	CorrectAnswers     *int             `json:"correct_answers,omitempty"`
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	if r.PerQuestionResults != nil {
		out.PerQuestionResults = append([]QuestionResult(nil), r.PerQuestionResults...)
	}
	if r.CorrectAnswers != nil {
		n := *r.CorrectAnswers
		out.CorrectAnswers = &n
	}
	return &out
}
