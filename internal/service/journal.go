package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/metrics"
	"github.com/stemsi/exstem-attempt/internal/model"
)

type journalEntry struct {
	queue string
	data  []byte
}

// Journal pushes audit records onto the Redis persistence queues that
// the workers drain into Postgres. Enqueue never blocks: controllers call
// it with their lock held.
type Journal struct {
	rdb   *redis.Client
	log   zerolog.Logger
	queue chan journalEntry
	done  chan struct{}
}

// NewJournal creates a journal buffering up to size records.
func NewJournal(rdb *redis.Client, size int, log zerolog.Logger) *Journal {
	if size <= 0 {
		size = 4096
	}
	return &Journal{
		rdb:   rdb,
		log:   log.With().Str("component", "journal").Logger(),
		queue: make(chan journalEntry, size),
		done:  make(chan struct{}),
	}
}

// Enqueue encodes v for queue. A full buffer drops the record.
func (j *Journal) Enqueue(queue string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		j.log.Error().Err(err).Str("queue", queue).Msg("Discarding unencodable record")
		return
	}
	select {
	case j.queue <- journalEntry{queue: queue, data: data}:
	default:
		j.log.Warn().Str("queue", queue).Msg("Journal buffer full, dropping record")
	}
}

// Run pushes buffered records until ctx is cancelled, then flushes what
// is left within five seconds.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case e := <-j.queue:
			j.push(ctx, e)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case e := <-j.queue:
					j.push(flushCtx, e)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run returned.
func (j *Journal) Done() <-chan struct{} { return j.done }

func (j *Journal) push(ctx context.Context, e journalEntry) {
	if err := j.rdb.RPush(ctx, e.queue, e.data).Err(); err != nil {
		j.log.Error().Err(err).Str("queue", e.queue).Msg("Failed to push record, data lost")
	}
}

// JournalHooks journals answers and results.
type JournalHooks struct {
	attempt.NopHooks
	j   *Journal
	now func() time.Time
}

// NewJournalHooks creates hooks writing to j.
func NewJournalHooks(j *Journal) *JournalHooks {
	return &JournalHooks{j: j, now: time.Now}
}

func (h *JournalHooks) AnswerSelected(key model.AttemptKey, questionID, option string) {
	h.j.Enqueue(config.WorkerKey.PersistAnswersQueue, model.AnswerRecord{
		StudentID:  key.StudentID,
		ExamID:     key.ExamID,
		Category:   key.Category,
		QuestionID: questionID,
		Option:     option,
		RecordedAt: h.now(),
	})
}

func (h *JournalHooks) AttemptCompleted(key model.AttemptKey, result *model.Result, auto bool) {
	h.j.Enqueue(config.WorkerKey.PersistResultsQueue, model.ResultRecord{
		StudentID:   key.StudentID,
		ExamID:      key.ExamID,
		Category:    key.Category,
		Auto:        auto,
		Result:      result.Clone(),
		SubmittedAt: h.now(),
	})
}

// ProctorJournal is the proctoring audit sink.
type ProctorJournal struct {
	j *Journal
}

// NewProctorJournal creates a sink writing to j.
func NewProctorJournal(j *Journal) *ProctorJournal {
	return &ProctorJournal{j: j}
}

func (p *ProctorJournal) Record(ev model.ProctorEvent) {
	metrics.ProctorSignals.WithLabelValues(string(ev.Kind)).Inc()
	p.j.Enqueue(config.WorkerKey.PersistProctorQueue, ev)
}
