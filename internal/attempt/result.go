package attempt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// rawResult accepts both the legacy score/total shape and the detailed
// shape, in camelCase or snake_case.
type rawResult struct {
	Score              *float64          `json:"score"`
	Total              *float64          `json:"total"`
	ObtainedScore      *float64          `json:"obtainedScore"`
	ObtainedScoreSnake *float64          `json:"obtained_score"`
	TotalScore         *float64          `json:"totalScore"`
	TotalScoreSnake    *float64          `json:"total_score"`
	Percentage         *float64          `json:"percentage"`
	PerQuestion        []rawQuestionItem `json:"perQuestionResults"`
	PerQuestionSnake   []rawQuestionItem `json:"per_question_results"`
	Results            []rawQuestionItem `json:"results"`
	CorrectAnswers     *int              `json:"correctAnswers"`
	CorrectAnswersSnk  *int              `json:"correct_answers"`
}

type rawQuestionItem struct {
	Question       json.RawMessage `json:"question"`
	QuestionID     json.RawMessage `json:"questionId"`
	Selected       json.RawMessage `json:"selected"`
	Correct        json.RawMessage `json:"correct"`
	IsCorrect      *bool           `json:"isCorrect"`
	IsCorrectSnake *bool           `json:"is_correct"`
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// ParseResult decodes a submission response into a Result. A top-level
// "data" envelope is unwrapped. Percentage is derived when absent.
func ParseResult(raw []byte) (*model.Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedResult)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
			raw = d
		}
	}

	var rr rawResult
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	obtained := firstFloat(rr.ObtainedScore, rr.ObtainedScoreSnake, rr.Score)
	total := firstFloat(rr.TotalScore, rr.TotalScoreSnake, rr.Total)
	if obtained == nil || total == nil {
		return nil, fmt.Errorf("%w: missing score or total", ErrMalformedResult)
	}

	res := &model.Result{
		ObtainedScore:  *obtained,
		TotalScore:     *total,
		CorrectAnswers: firstInt(rr.CorrectAnswers, rr.CorrectAnswersSnk),
	}
	switch {
	case rr.Percentage != nil:
		res.Percentage = *rr.Percentage
	case *total > 0:
		res.Percentage = math.Round(*obtained / *total * 10000) / 100
	}

	items := rr.PerQuestion
	if items == nil {
		items = rr.PerQuestionSnake
	}
	if items == nil {
		items = rr.Results
	}
	for _, it := range items {
		q := model.QuestionResult{
			QuestionID: looseString(it.Question),
			Selected:   looseString(it.Selected),
			Correct:    looseString(it.Correct),
		}
		if q.QuestionID == "" {
			q.QuestionID = looseString(it.QuestionID)
		}
		if b := firstBool(it.IsCorrect, it.IsCorrectSnake); b != nil {
			q.IsCorrect = *b
		} else {
			q.IsCorrect = q.Selected != "" && q.Selected == q.Correct
		}
		res.PerQuestionResults = append(res.PerQuestionResults, q)
	}
	if res.CorrectAnswers == nil && len(res.PerQuestionResults) > 0 {
		n := 0
		for _, q := range res.PerQuestionResults {
			if q.IsCorrect {
				n++
			}
		}
		res.CorrectAnswers = &n
	}
	return res, nil
}

// looseString renders a JSON scalar as a string. Null and absent values
// become "", objects carrying an id yield that id.
func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID json.RawMessage `json:"id"`
	}
	if raw[0] == '{' && json.Unmarshal(raw, &obj) == nil {
		return looseString(obj.ID)
	}
	return string(raw)
}

func firstFloat(vs ...*float64) *float64 {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstInt(vs ...*int) *int {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstBool(vs ...*bool) *bool {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}
