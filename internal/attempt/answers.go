package attempt

import "github.com/stemsi/exstem-attempt/internal/model"

// AnswerSheet holds the single-choice answers and recorded media of an
// attempt. It has no notion of phase; the controller guards mutation.
type AnswerSheet struct {
	answers map[string]string
	media   map[string]model.MediaRef
}

func newAnswerSheet(answers map[string]string, media map[string]model.MediaRef) *AnswerSheet {
	s := &AnswerSheet{
		answers: make(map[string]string, len(answers)),
		media:   make(map[string]model.MediaRef, len(media)),
	}
	for k, v := range answers {
		s.answers[k] = v
	}
	for k, v := range media {
		s.media[k] = v
	}
	return s
}

// Select sets the chosen option, replacing any earlier choice. It
// reports whether anything changed.
func (s *AnswerSheet) Select(questionID, option string) bool {
	if prev, ok := s.answers[questionID]; ok && prev == option {
		return false
	}
	s.answers[questionID] = option
	return true
}

func (s *AnswerSheet) Attach(questionID string, ref model.MediaRef) {
	s.media[questionID] = ref
}

func (s *AnswerSheet) Remove(questionID string) bool {
	if _, ok := s.media[questionID]; !ok {
		return false
	}
	delete(s.media, questionID)
	return true
}

func (s *AnswerSheet) Answer(questionID string) (string, bool) {
	v, ok := s.answers[questionID]
	return v, ok
}

// Answered counts answered questions among the given list.
func (s *AnswerSheet) Answered(questions []model.Question) int {
	n := 0
	for _, q := range questions {
		if _, ok := s.answers[q.ID]; ok {
			n++
		}
	}
	return n
}

// Missing returns the 1-based positions of unanswered questions.
func (s *AnswerSheet) Missing(questions []model.Question) []int {
	var missing []int
	for i, q := range questions {
		if _, ok := s.answers[q.ID]; !ok {
			missing = append(missing, i+1)
		}
	}
	return missing
}

// Payload builds the ordered submission body.
func (s *AnswerSheet) Payload(questions []model.Question, auto bool) *model.SubmissionPayload {
	p := &model.SubmissionPayload{
		Questions: make([]map[string]*string, 0, len(questions)),
		Auto:      auto,
		Media:     s.MediaSnapshot(),
	}
	for _, q := range questions {
		var choice *string
		if v, ok := s.answers[q.ID]; ok {
			choice = &v
		}
		p.Questions = append(p.Questions, map[string]*string{q.ID: choice})
	}
	return p
}

// AnswersSnapshot returns a copy of the answer map.
func (s *AnswerSheet) AnswersSnapshot() map[string]string {
	out := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// MediaSnapshot returns a copy of the media map.
func (s *AnswerSheet) MediaSnapshot() map[string]model.MediaRef {
	out := make(map[string]model.MediaRef, len(s.media))
	for k, v := range s.media {
		out[k] = v
	}
	return out
}

// questionTimers accumulates seconds per displayed question.
type questionTimers map[string]int

// prune drops entries for questions no longer in the exam.
func (t questionTimers) prune(questions []model.Question) questionTimers {
	keep := make(questionTimers, len(questions))
	for _, q := range questions {
		if v, ok := t[q.ID]; ok {
			keep[q.ID] = v
		}
	}
	return keep
}

func (t questionTimers) add(questions []model.Question, secs int) {
	for _, q := range questions {
		t[q.ID] += secs
	}
}

func (t questionTimers) snapshot() map[string]int {
	out := make(map[string]int, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
