package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/metrics"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// DB is the part of pgxpool.Pool the workers use.
type DB interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, rows pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Worker drains one Redis queue into Postgres in batches: bulk insert
// first, row-by-row on failure, requeue what still fails.
type Worker[T any] struct {
	name    string
	queue   string
	rdb     *redis.Client
	log     zerolog.Logger
	backoff time.Duration

	bulk   func(ctx context.Context, batch []*T) error
	single func(ctx context.Context, item *T) error
}

func newWorker[T any](name, queue string, rdb *redis.Client, log zerolog.Logger) *Worker[T] {
	return &Worker[T]{
		name:    name,
		queue:   queue,
		rdb:     rdb,
		log:     log.With().Str("component", name).Logger(),
		backoff: 2 * time.Second,
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *Worker[T]) Start(ctx context.Context) {
	w.log.Info().Str("queue", w.queue).Msg("Worker started")

	buffer := make([]*T, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for PollTimeout. Returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, w.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		item := new(T)
		if err := json.Unmarshal([]byte(result[1]), item); err != nil {
			// Malformed JSON can never succeed. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			metrics.WorkerPersisted.WithLabelValues(w.name, "dropped").Inc()
			continue
		}
		buffer = append(buffer, item)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *Worker[T]) flushSafe(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}
	if err := w.bulk(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	metrics.WorkerPersisted.WithLabelValues(w.name, "ok").Add(float64(len(batch)))
}

func (w *Worker[T]) fallbackInsert(ctx context.Context, batch []*T) {
	requeueList := make([]*T, 0)

	for _, item := range batch {
		err := w.single(ctx, item)
		switch {
		case err == nil:
			metrics.WorkerPersisted.WithLabelValues(w.name, "ok").Inc()
		case isDataError(err):
			// The row itself is bad; retrying cannot help.
			w.log.Error().Err(err).Msg("Dropping row rejected by Postgres")
			metrics.WorkerPersisted.WithLabelValues(w.name, "dropped").Inc()
		default:
			w.log.Error().Err(err).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, item)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *Worker[T]) requeue(ctx context.Context, items []*T) {
	pipe := w.rdb.Pipeline()
	for _, item := range items {
		data, _ := json.Marshal(item)
		pipe.RPush(ctx, w.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	metrics.WorkerPersisted.WithLabelValues(w.name, "requeued").Add(float64(len(items)))
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the DB is down hard.
	select {
	case <-time.After(w.backoff):
	case <-ctx.Done():
	}
}

func (w *Worker[T]) shutdown(buffer []*T) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}

// isDataError reports a Postgres error about the row rather than the
// connection: classes 22 (data exception) and 23 (integrity violation).
func isDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	class := pgErr.Code[:2]
	return class == "22" || class == "23"
}
