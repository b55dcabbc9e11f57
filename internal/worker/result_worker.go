package worker

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var resultColumns = []string{
	"student_id", "exam_id", "category", "auto",
	"obtained_score", "total_score", "percentage", "correct_answers",
	"per_question", "submitted_at",
}

// NewResultWorker archives completed submissions into attempt_results.
func NewResultWorker(db DB, rdb *redis.Client, log zerolog.Logger) *Worker[model.ResultRecord] {
	w := newWorker[model.ResultRecord]("result_worker", config.WorkerKey.PersistResultsQueue, rdb, log)
	w.bulk = func(ctx context.Context, batch []*model.ResultRecord) error {
		rows := make([][]interface{}, 0, len(batch))
		for _, r := range batch {
			rows = append(rows, resultRow(r))
		}
		_, err := db.CopyFrom(ctx, pgx.Identifier{"attempt_results"}, resultColumns, pgx.CopyFromRows(rows))
		return err
	}
	w.single = func(ctx context.Context, r *model.ResultRecord) error {
		_, err := db.Exec(ctx,
			`INSERT INTO attempt_results
			   (student_id, exam_id, category, auto, obtained_score, total_score, percentage, correct_answers, per_question, submitted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
			resultRow(r)...,
		)
		return err
	}
	return w
}

func resultRow(r *model.ResultRecord) []interface{} {
	res := r.Result
	if res == nil {
		res = &model.Result{}
	}
	perQuestion := []byte("[]")
	if len(res.PerQuestionResults) > 0 {
		perQuestion, _ = json.Marshal(res.PerQuestionResults)
	}
	return []interface{}{
		r.StudentID, r.ExamID, model.NormalizeCategory(r.Category), r.Auto,
		res.ObtainedScore, res.TotalScore, res.Percentage, res.CorrectAnswers,
		string(perQuestion), r.SubmittedAt,
	}
}
