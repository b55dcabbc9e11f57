package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

func TestJournalPushesRecords(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	j := NewJournal(rdb, 16, zerolog.Nop())
	hooks := NewJournalHooks(j)
	sink := NewProctorJournal(j)
	key := model.NewAttemptKey(7, "exam-1", "")

	hooks.AnswerSelected(key, "q1", "B")
	hooks.AttemptCompleted(key, &model.Result{ObtainedScore: 1, TotalScore: 2, Percentage: 50}, false)
	hooks.AttemptStarted(key, 60)
	sink.Record(model.ProctorEvent{StudentID: 7, ExamID: "exam-1", Kind: model.SignalBlur, RecordedAt: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	go j.Run(ctx)
	cancel()
	<-j.Done()

	answers, _ := mr.List(config.WorkerKey.PersistAnswersQueue)
	if len(answers) != 1 {
		t.Fatalf("answers queue %v", answers)
	}
	var rec model.AnswerRecord
	if err := json.Unmarshal([]byte(answers[0]), &rec); err != nil || rec.QuestionID != "q1" || rec.Option != "B" {
		t.Fatalf("answer record %+v err %v", rec, err)
	}

	results, _ := mr.List(config.WorkerKey.PersistResultsQueue)
	if len(results) != 1 {
		t.Fatalf("results queue %v", results)
	}
	proctor, _ := mr.List(config.WorkerKey.PersistProctorQueue)
	if len(proctor) != 1 {
		t.Fatalf("proctor queue %v", proctor)
	}
}

func TestJournalDropsWhenFull(t *testing.T) {
	j := NewJournal(nil, 1, zerolog.Nop())
	j.Enqueue("q", 1)
	j.Enqueue("q", 2) // must not block
	if len(j.queue) != 1 {
		t.Fatalf("buffered %d", len(j.queue))
	}
}
