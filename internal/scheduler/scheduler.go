// Package scheduler is a Redis backed delayed job broker.
//
// A job is addressed by types.JobID(kind, externalEntryID), so it can be
// cancelled by any component that knows the entry id of the transaction. Due
// jobs are claimed atomically into an active set with a lease, failed runs are
// retried with a linear backoff up to MaxAttempts and then moved to a dead
// letter list and reported. Delivery is at-least-once: a job whose lease
// expires is put back, handlers must be idempotent.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/openbuilders/pix-bridge/internal/types"

	redis "github.com/redis/go-redis/v9"
)

type Config struct {
	KeyPrefix    string
	NumWorkers   int
	BatchSize    int
	PollInterval time.Duration
	LeaseTimeout time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	// RedisTimeout bounds the bookkeeping calls made after a handler returns.
	RedisTimeout time.Duration
}

// Handler runs a job. Returning an error makes the job eligible for a retry.
type Handler interface {
	Handle(ctx context.Context, job types.Job) error
}

type HandlerFunc func(ctx context.Context, job types.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job types.Job) error {
	return f(ctx, job)
}

// Reporter surfaces dead lettered jobs to operators.
type Reporter interface {
	Report(ctx context.Context, job types.FailedJob) error
}

type Scheduler struct {
	config   *Config
	redis    *redis.Client
	reporter Reporter
	handlers map[types.JobKind]Handler
	mu       sync.RWMutex
	now      func() time.Time
	log      *slog.Logger
}

func New(config *Config, client *redis.Client, reporter Reporter) *Scheduler {
	return &Scheduler{
		config:   config,
		redis:    client,
		reporter: reporter,
		handlers: make(map[types.JobKind]Handler),
		now:      time.Now,
		log:      slog.With("component", "scheduler"),
	}
}

// Register sets the handler invoked for jobs of the kind.
func (s *Scheduler) Register(kind types.JobKind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[kind] = h
}

// Schedule enqueues a job to run no earlier than delay from now. Scheduling
// an id that is already waiting replaces it.
func (s *Scheduler) Schedule(ctx context.Context, kind types.JobKind,
	entryID string, payload types.JobPayload, delay time.Duration) error {

	id := types.JobID(kind, entryID)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	dueAt := s.now().Add(delay)

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, s.jobKey(id),
		"kind", string(kind),
		"payload", data,
		"attempts", 0,
		"due", dueAt.UnixMilli(),
	)
	pipe.ZAdd(ctx, s.scheduledKey(), redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: id,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule job %s: %w", id, err)
	}

	s.log.Debug("Scheduled a job", "job", id, "due", dueAt)

	return nil
}

// Ensure schedules a job unless one with the same id is already waiting or
// running. It reports whether a job was created.
func (s *Scheduler) Ensure(ctx context.Context, kind types.JobKind,
	entryID string, payload types.JobPayload, delay time.Duration) (bool, error) {

	id := types.JobID(kind, entryID)

	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}

	dueAt := s.now().Add(delay).UnixMilli()

	created, err := ensureScript.Run(ctx, s.redis,
		[]string{s.scheduledKey(), s.jobKey(id)},
		id, string(kind), data, dueAt,
	).Int()
	if err != nil {
		return false, fmt.Errorf("ensure job %s: %w", id, err)
	}

	s.log.Debug("Ensure job", "job", id, "created", created == 1)

	return created == 1, nil
}

// Cancel removes a job that has not fired yet. A job that is running or
// already ran is left alone and false is returned, that is not an error.
func (s *Scheduler) Cancel(ctx context.Context, kind types.JobKind,
	entryID string) (bool, error) {

	id := types.JobID(kind, entryID)

	removed, err := cancelScript.Run(ctx, s.redis,
		[]string{s.scheduledKey(), s.jobKey(id)}, id,
	).Int()
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}

	s.log.Debug("Cancel job", "job", id, "removed", removed == 1)

	return removed == 1, nil
}

// DeadJobs returns up to limit most recent dead lettered jobs.
func (s *Scheduler) DeadJobs(ctx context.Context, limit int64) (
	[]types.FailedJob, error) {

	entries, err := s.redis.LRange(ctx, s.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead jobs: %w", err)
	}

	jobs := make([]types.FailedJob, 0, len(entries))
	for _, entry := range entries {
		var job types.FailedJob
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			s.log.Error("malformed dead job entry", "entry", entry, "error", err)
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (s *Scheduler) scheduledKey() string {
	return s.config.KeyPrefix + ":scheduled"
}

func (s *Scheduler) activeKey() string {
	return s.config.KeyPrefix + ":active"
}

func (s *Scheduler) deadKey() string {
	return s.config.KeyPrefix + ":dead"
}

func (s *Scheduler) jobKeyPrefix() string {
	return s.config.KeyPrefix + ":job:"
}

func (s *Scheduler) jobKey(id string) string {
	return s.jobKeyPrefix() + id
}

func (s *Scheduler) loadJob(ctx context.Context, id string) (*types.Job, error) {
	fields, err := s.redis.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	kind, ok := fields["kind"]
	if !ok {
		return nil, nil
	}

	job := &types.Job{
		ID:   id,
		Kind: types.JobKind(kind),
	}

	if err := json.Unmarshal([]byte(fields["payload"]), &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload of job %s: %w", id, err)
	}

	job.Attempt, _ = strconv.Atoi(fields["attempts"])

	if due, err := strconv.ParseInt(fields["due"], 10, 64); err == nil {
		job.DueAt = time.UnixMilli(due)
	}

	return job, nil
}
