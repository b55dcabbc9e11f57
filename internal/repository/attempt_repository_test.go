package repository

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-attempt/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisAttemptRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewRedisAttemptRepository(rdb, time.Hour)
}

func TestRedisSaveMergesFields(t *testing.T) {
	ctx := context.Background()
	mr, repo := newTestRedis(t)
	key := model.NewAttemptKey(7, "exam-1", "")

	if _, found, err := repo.Load(ctx, key); err != nil || found {
		t.Fatalf("empty load = found %v, err %v", found, err)
	}

	repo.Save(ctx, key, model.AttemptPatch{
		Answers:          map[string]string{"q1": "A"},
		Started:          model.Ptr(true),
		RemainingSeconds: model.Ptr(120),
		PageSize:         model.Ptr(2),
	})
	repo.Save(ctx, key, model.AttemptPatch{RemainingSeconds: model.Ptr(119)})

	st, found, err := repo.Load(ctx, key)
	if err != nil || !found {
		t.Fatalf("load = found %v, err %v", found, err)
	}
	if st.Answers["q1"] != "A" || !st.Started || st.RemainingSeconds != 119 || st.PageSize != 2 {
		t.Fatalf("merged state %+v", st)
	}
	if st.CurrentPage != 1 || st.AnswerMedia == nil {
		t.Fatalf("absent fields should keep defaults: %+v", st)
	}

	redisKey := "student:7:exam:exam-1:category:all:attempt"
	if !mr.Exists(redisKey) {
		t.Fatalf("expected hash %s", redisKey)
	}
	if ttl := mr.TTL(redisKey); ttl <= 0 {
		t.Fatalf("ttl %v, want refreshed expiry", ttl)
	}
	if got := mr.HGet(redisKey, "remaining_seconds"); got != "119" {
		t.Fatalf("remaining_seconds field = %q", got)
	}
}

func TestRedisClearKeepsResult(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestRedis(t)
	key := model.NewAttemptKey(7, "exam-1", "physics")
	result := &model.Result{ObtainedScore: 4, TotalScore: 5, Percentage: 80}

	repo.Save(ctx, key, model.AttemptPatch{
		Answers:          map[string]string{"q1": "A"},
		Started:          model.Ptr(true),
		RemainingSeconds: model.Ptr(10),
	})
	if err := repo.Clear(ctx, key); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	repo.Save(ctx, key, model.AttemptPatch{Completed: model.Ptr(true), LastResult: result})

	st, _, _ := repo.Load(ctx, key)
	if st.Started || len(st.Answers) != 0 || st.RemainingSeconds != 0 {
		t.Fatalf("working fields survived clear: %+v", st)
	}
	if !st.Completed || !reflect.DeepEqual(st.LastResult, result) {
		t.Fatalf("completion lost: %+v", st)
	}
}

func TestRedisStatusAndReset(t *testing.T) {
	ctx := context.Background()
	mr, repo := newTestRedis(t)
	ref := model.ExamRef{StudentID: 7, ExamID: "exam-1"}

	repo.Save(ctx, model.NewAttemptKey(7, "exam-1", "a"), model.AttemptPatch{Started: model.Ptr(true)})
	repo.Save(ctx, model.NewAttemptKey(7, "exam-1", "b"), model.AttemptPatch{Started: model.Ptr(true)})
	repo.Save(ctx, model.NewAttemptKey(7, "exam-2", "a"), model.AttemptPatch{Started: model.Ptr(true)})
	repo.SaveStatus(ctx, ref, model.GlobalStatusPatch{Completed: model.Ptr(true)})
	repo.SaveStatus(ctx, ref, model.GlobalStatusPatch{Dismissed: model.Ptr(true)})

	g, found, err := repo.LoadStatus(ctx, ref)
	if err != nil || !found || !g.Completed || !g.Dismissed {
		t.Fatalf("status %+v found=%v err=%v", g, found, err)
	}

	keys, err := repo.Keys(ctx, ref)
	if err != nil || len(keys) != 2 {
		t.Fatalf("keys %v, err %v", keys, err)
	}
	n, err := repo.Reset(ctx, ref)
	if err != nil || n != 3 {
		t.Fatalf("reset removed %d keys, err %v", n, err)
	}
	if !mr.Exists("student:7:exam:exam-2:category:a:attempt") {
		t.Fatal("reset must not touch other exams")
	}
}
