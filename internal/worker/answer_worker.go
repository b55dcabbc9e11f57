package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const upsertAnswerSQL = `
	INSERT INTO attempt_answers (student_id, exam_id, category, question_id, option, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (student_id, exam_id, category, question_id) DO UPDATE
	SET option = EXCLUDED.option, updated_at = EXCLUDED.updated_at
	WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`

const bulkUpsertAnswersSQL = `
	INSERT INTO attempt_answers (student_id, exam_id, category, question_id, option, updated_at)
	SELECT * FROM UNNEST(
		$1::int[],
		$2::text[],
		$3::text[],
		$4::text[],
		$5::text[],
		$6::timestamptz[]
	)
	ON CONFLICT (student_id, exam_id, category, question_id) DO UPDATE
	SET option = EXCLUDED.option, updated_at = EXCLUDED.updated_at
	WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`

// NewAnswerWorker upserts the answer journal into attempt_answers. The
// newest selection per question wins even when records arrive out of
// order after a requeue.
func NewAnswerWorker(db DB, rdb *redis.Client, log zerolog.Logger) *Worker[model.AnswerRecord] {
	w := newWorker[model.AnswerRecord]("answer_worker", config.WorkerKey.PersistAnswersQueue, rdb, log)
	w.bulk = func(ctx context.Context, batch []*model.AnswerRecord) error {
		latest := latestAnswers(batch)
		n := len(latest)
		students := make([]int, 0, n)
		exams := make([]string, 0, n)
		categories := make([]string, 0, n)
		questions := make([]string, 0, n)
		options := make([]string, 0, n)
		times := make([]time.Time, 0, n)
		for _, a := range latest {
			students = append(students, a.StudentID)
			exams = append(exams, a.ExamID)
			categories = append(categories, model.NormalizeCategory(a.Category))
			questions = append(questions, a.QuestionID)
			options = append(options, a.Option)
			times = append(times, a.RecordedAt)
		}
		_, err := db.Exec(ctx, bulkUpsertAnswersSQL, students, exams, categories, questions, options, times)
		return err
	}
	w.single = func(ctx context.Context, a *model.AnswerRecord) error {
		_, err := db.Exec(ctx, upsertAnswerSQL,
			a.StudentID, a.ExamID, model.NormalizeCategory(a.Category), a.QuestionID, a.Option, a.RecordedAt)
		return err
	}
	return w
}

// latestAnswers keeps one record per question, the newest. A single
// INSERT ... ON CONFLICT cannot touch the same row twice.
func latestAnswers(batch []*model.AnswerRecord) []*model.AnswerRecord {
	type k struct {
		student            int
		exam, cat, questID string
	}
	idx := make(map[k]int, len(batch))
	out := make([]*model.AnswerRecord, 0, len(batch))
	for _, a := range batch {
		key := k{a.StudentID, a.ExamID, model.NormalizeCategory(a.Category), a.QuestionID}
		if i, ok := idx[key]; ok {
			if !a.RecordedAt.Before(out[i].RecordedAt) {
				out[i] = a
			}
			continue
		}
		idx[key] = len(out)
		out = append(out, a)
	}
	return out
}
