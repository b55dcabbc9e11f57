package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Hash fields use the JSON names of model.AttemptState so a hash can be
// decoded by reassembling it into one JSON object.
const (
	fieldAnswers        = "answers"
	fieldAnswerMedia    = "answer_media"
	fieldPageSize       = "page_size"
	fieldCurrentPage    = "current_page"
	fieldStarted        = "started"
	fieldRemaining      = "remaining_seconds"
	fieldInitial        = "initial_remaining_seconds"
	fieldExpiryFired    = "expiry_fired"
	fieldQuestionTimers = "question_timers"
	fieldCompleted      = "completed"
	fieldDismissed      = "dismissed"
	fieldLastResult     = "last_result"
)

// workingFields are removed by Clear; completion markers survive.
var workingFields = []string{
	fieldAnswers, fieldAnswerMedia, fieldQuestionTimers, fieldStarted,
	fieldRemaining, fieldInitial, fieldExpiryFired, fieldCurrentPage,
}

// AttemptBackend is a fallible attempt persistence layer.
type AttemptBackend interface {
	Load(ctx context.Context, key model.AttemptKey) (*model.AttemptState, bool, error)
	Save(ctx context.Context, key model.AttemptKey, patch model.AttemptPatch) error
	Clear(ctx context.Context, key model.AttemptKey) error
	LoadStatus(ctx context.Context, ref model.ExamRef) (model.GlobalStatus, bool, error)
	SaveStatus(ctx context.Context, ref model.ExamRef, patch model.GlobalStatusPatch) error
}

// RedisAttemptRepository stores attempts as Redis hashes, one field per
// attempt member, so partial saves never rewrite untouched fields.
type RedisAttemptRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAttemptRepository creates a new RedisAttemptRepository.
func NewRedisAttemptRepository(rdb *redis.Client, ttl time.Duration) *RedisAttemptRepository {
	return &RedisAttemptRepository{rdb: rdb, ttl: ttl}
}

// Load reads the working state of key.
func (r *RedisAttemptRepository) Load(ctx context.Context, key model.AttemptKey) (*model.AttemptState, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, stateKey(key)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("load attempt %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	state := model.NewAttemptState(1)
	if err := decodeHash(fields, state); err != nil {
		return nil, false, fmt.Errorf("decode attempt %s: %w", key, err)
	}
	return state, true, nil
}

// Save writes the supplied fields of patch and refreshes the TTL.
func (r *RedisAttemptRepository) Save(ctx context.Context, key model.AttemptKey, patch model.AttemptPatch) error {
	fields, err := encodePatch(patch)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	return r.write(ctx, stateKey(key), fields)
}

// Clear removes the working fields of key.
func (r *RedisAttemptRepository) Clear(ctx context.Context, key model.AttemptKey) error {
	if err := r.rdb.HDel(ctx, stateKey(key), workingFields...).Err(); err != nil {
		return fmt.Errorf("clear attempt %s: %w", key, err)
	}
	return nil
}

// LoadStatus reads the exam-level status.
func (r *RedisAttemptRepository) LoadStatus(ctx context.Context, ref model.ExamRef) (model.GlobalStatus, bool, error) {
	var status model.GlobalStatus
	fields, err := r.rdb.HGetAll(ctx, statusKey(ref)).Result()
	if err != nil {
		return status, false, fmt.Errorf("load attempt status: %w", err)
	}
	if len(fields) == 0 {
		return status, false, nil
	}
	if err := decodeHash(fields, &status); err != nil {
		return status, false, fmt.Errorf("decode attempt status: %w", err)
	}
	return status, true, nil
}

// SaveStatus writes the supplied fields of the exam-level status.
func (r *RedisAttemptRepository) SaveStatus(ctx context.Context, ref model.ExamRef, patch model.GlobalStatusPatch) error {
	fields := map[string]any{}
	if err := putJSON(fields, fieldCompleted, patch.Completed); err != nil {
		return err
	}
	if err := putJSON(fields, fieldDismissed, patch.Dismissed); err != nil {
		return err
	}
	if err := putJSON(fields, fieldLastResult, patch.LastResult); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	return r.write(ctx, statusKey(ref), fields)
}

// Reset deletes every category's state and the status of one exam.
func (r *RedisAttemptRepository) Reset(ctx context.Context, ref model.ExamRef) (int64, error) {
	keys, err := r.Keys(ctx, ref)
	if err != nil {
		return 0, err
	}
	keys = append(keys, statusKey(ref))
	n, err := r.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("reset attempt: %w", err)
	}
	return n, nil
}

// Keys lists the state hashes of every category of one exam.
func (r *RedisAttemptRepository) Keys(ctx context.Context, ref model.ExamRef) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, config.CacheKey.AttemptStatePattern(ref.StudentID, ref.ExamID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan attempt keys: %w", err)
	}
	return keys, nil
}

func (r *RedisAttemptRepository) write(ctx context.Context, key string, fields map[string]any) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func stateKey(k model.AttemptKey) string {
	return config.CacheKey.AttemptStateKey(k.StudentID, k.ExamID, k.Category)
}

func statusKey(ref model.ExamRef) string {
	return config.CacheKey.AttemptStatusKey(ref.StudentID, ref.ExamID)
}

// encodePatch turns the supplied fields of a patch into JSON hash values.
func encodePatch(p model.AttemptPatch) (map[string]any, error) {
	fields := map[string]any{}
	entries := []struct {
		name string
		v    any
		set  bool
	}{
		{fieldAnswers, p.Answers, p.Answers != nil},
		{fieldAnswerMedia, p.AnswerMedia, p.AnswerMedia != nil},
		{fieldQuestionTimers, p.QuestionTimers, p.QuestionTimers != nil},
		{fieldPageSize, p.PageSize, p.PageSize != nil},
		{fieldCurrentPage, p.CurrentPage, p.CurrentPage != nil},
		{fieldStarted, p.Started, p.Started != nil},
		{fieldRemaining, p.RemainingSeconds, p.RemainingSeconds != nil},
		{fieldInitial, p.InitialRemainingSeconds, p.InitialRemainingSeconds != nil},
		{fieldExpiryFired, p.ExpiryFired, p.ExpiryFired != nil},
		{fieldCompleted, p.Completed, p.Completed != nil},
		{fieldDismissed, p.Dismissed, p.Dismissed != nil},
		{fieldLastResult, p.LastResult, p.LastResult != nil},
	}
	for _, e := range entries {
		if !e.set {
			continue
		}
		b, err := json.Marshal(e.v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.name, err)
		}
		fields[e.name] = string(b)
	}
	return fields, nil
}

func putJSON[T any](fields map[string]any, name string, v *T) error {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	fields[name] = string(b)
	return nil
}

// decodeHash reassembles hash fields into one JSON object and decodes it
// over dst, so absent fields keep dst's defaults.
func decodeHash(fields map[string]string, dst any) error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for name, raw := range fields {
		if !json.Valid([]byte(raw)) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		nb, _ := json.Marshal(name)
		buf.Write(nb)
		buf.WriteByte(':')
		buf.WriteString(raw)
	}
	buf.WriteByte('}')
	return json.Unmarshal(buf.Bytes(), dst)
}

// fullPatch converts a whole state into a patch that rewrites it.
func fullPatch(s *model.AttemptState) model.AttemptPatch {
	c := s.Clone()
	return model.AttemptPatch{
		Answers:                 c.Answers,
		AnswerMedia:             c.AnswerMedia,
		QuestionTimers:          c.QuestionTimers,
		PageSize:                model.Ptr(c.PageSize),
		CurrentPage:             model.Ptr(c.CurrentPage),
		Started:                 model.Ptr(c.Started),
		RemainingSeconds:        model.Ptr(c.RemainingSeconds),
		InitialRemainingSeconds: model.Ptr(c.InitialRemainingSeconds),
		ExpiryFired:             model.Ptr(c.ExpiryFired),
		Completed:               model.Ptr(c.Completed),
		Dismissed:               model.Ptr(c.Dismissed),
		LastResult:              c.LastResult,
	}
}
