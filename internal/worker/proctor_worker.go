package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var proctorColumns = []string{"student_id", "exam_id", "category", "kind", "detail", "question_id", "recorded_at"}

// NewProctorWorker persists the proctoring audit trail into proctor_events.
func NewProctorWorker(db DB, rdb *redis.Client, log zerolog.Logger) *Worker[model.ProctorEvent] {
	w := newWorker[model.ProctorEvent]("proctor_worker", config.WorkerKey.PersistProctorQueue, rdb, log)
	w.bulk = func(ctx context.Context, batch []*model.ProctorEvent) error {
		rows := make([][]interface{}, 0, len(batch))
		for _, e := range batch {
			rows = append(rows, proctorRow(e))
		}
		_, err := db.CopyFrom(ctx, pgx.Identifier{"proctor_events"}, proctorColumns, pgx.CopyFromRows(rows))
		return err
	}
	w.single = func(ctx context.Context, e *model.ProctorEvent) error {
		_, err := db.Exec(ctx,
			`INSERT INTO proctor_events (student_id, exam_id, category, kind, detail, question_id, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			proctorRow(e)...,
		)
		return err
	}
	return w
}

func proctorRow(e *model.ProctorEvent) []interface{} {
	return []interface{}{
		e.StudentID, e.ExamID, model.NormalizeCategory(e.Category),
		string(e.Kind), e.Detail, e.QuestionID, e.RecordedAt,
	}
}
