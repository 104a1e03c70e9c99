package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/openbuilders/pix-bridge/internal/metrics"
	"github.com/openbuilders/pix-bridge/internal/types"

	redis "github.com/redis/go-redis/v9"
)

// Run polls for due jobs and hands them to NumWorkers goroutines until the
// context is cancelled. Jobs claimed but not started when it stops are picked
// up again once their lease expires.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("Starting scheduler", "workers", s.config.NumWorkers)

	jobs := make(chan types.Job, s.config.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < s.config.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				s.process(ctx, job)
			}
		}()
	}

	defer func() {
		close(jobs)
		wg.Wait()
		s.log.Info("Scheduler stopped")
	}()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping scheduler...")
			return nil
		case <-ticker.C:
			claimed, err := s.poll(ctx)
			if err != nil {
				s.log.Error("couldn't poll due jobs", "error", err)
				continue
			}

			for _, job := range claimed {
				select {
				case jobs <- job:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// poll puts back jobs with an expired lease and claims the due ones.
func (s *Scheduler) poll(ctx context.Context) ([]types.Job, error) {
	now := s.now()

	requeued, err := requeueScript.Run(ctx, s.redis,
		[]string{s.activeKey(), s.scheduledKey()},
		now.UnixMilli(), s.config.BatchSize, s.jobKeyPrefix(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	if requeued > 0 {
		s.log.Warn("Requeued jobs with an expired lease", "count", requeued)
	}

	ids, err := claimScript.Run(ctx, s.redis,
		[]string{s.scheduledKey(), s.activeKey()},
		now.UnixMilli(), now.Add(s.config.LeaseTimeout).UnixMilli(),
		s.config.BatchSize,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	jobs := make([]types.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.loadJob(ctx, id)
		if err != nil {
			// the job stays in the active set and comes back after the lease
			s.log.Error("couldn't load claimed job", "job", id, "error", err)
			continue
		}

		if job == nil {
			s.log.Warn("Claimed job has no data, dropping", "job", id)
			if err := s.redis.ZRem(ctx, s.activeKey(), id).Err(); err != nil {
				s.log.Error("couldn't release empty job", "job", id, "error", err)
			}
			continue
		}

		jobs = append(jobs, *job)
	}

	return jobs, nil
}

func (s *Scheduler) process(ctx context.Context, job types.Job) {
	log := s.log.With("job", job.ID, "attempt", job.Attempt)

	if job.Attempt >= s.config.MaxAttempts {
		bgCtx, cancel := s.bookkeepingContext(ctx)
		defer cancel()

		s.bury(bgCtx, job, job.Attempt, fmt.Errorf("lease expired %d times", job.Attempt))
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[job.Kind]
	s.mu.RUnlock()

	if !ok {
		bgCtx, cancel := s.bookkeepingContext(ctx)
		defer cancel()

		s.bury(bgCtx, job, job.Attempt+1, fmt.Errorf("no handler for job kind %q", job.Kind))
		return
	}

	log.Debug("Running job")

	err := s.runHandler(ctx, handler, job)

	bgCtx, cancel := s.bookkeepingContext(ctx)
	defer cancel()

	if err == nil {
		if err := s.complete(bgCtx, job); err != nil {
			log.Error("couldn't mark job as completed", "error", err)
		}

		metrics.JobsProcessed.WithLabelValues(string(job.Kind),
			metrics.ResultSuccess).Inc()

		return
	}

	log.Error("job handler failed", "error", err)

	attempts := job.Attempt + 1
	if attempts >= s.config.MaxAttempts {
		s.bury(bgCtx, job, attempts, err)
		return
	}

	retryAt := s.now().Add(s.config.RetryBackoff * time.Duration(attempts))
	if err := s.retry(bgCtx, job, attempts, retryAt); err != nil {
		log.Error("couldn't reschedule failed job", "error", err)
		return
	}

	metrics.JobsProcessed.WithLabelValues(string(job.Kind),
		metrics.ResultRetry).Inc()
}

// bookkeepingContext outlives the scheduler's context so that a job that ran
// is always completed, retried or buried.
func (s *Scheduler) bookkeepingContext(ctx context.Context) (context.Context,
	context.CancelFunc) {

	return context.WithTimeout(context.WithoutCancel(ctx), s.config.RedisTimeout)
}

func (s *Scheduler) runHandler(ctx context.Context, h Handler,
	job types.Job) (err error) {

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	// past the lease the job may be claimed again
	ctx, cancel := context.WithTimeout(ctx, s.config.LeaseTimeout)
	defer cancel()

	return h.Handle(ctx, job)
}

func (s *Scheduler) complete(ctx context.Context, job types.Job) error {
	return completeScript.Run(ctx, s.redis,
		[]string{s.activeKey(), s.scheduledKey()},
		job.ID, s.jobKeyPrefix(),
	).Err()
}

func (s *Scheduler) retry(ctx context.Context, job types.Job, attempts int,
	retryAt time.Time) error {

	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, s.activeKey(), job.ID)
	pipe.HSet(ctx, s.jobKey(job.ID),
		"attempts", strconv.Itoa(attempts),
		"due", retryAt.UnixMilli(),
	)
	pipe.ZAdd(ctx, s.scheduledKey(), redis.Z{
		Score:  float64(retryAt.UnixMilli()),
		Member: job.ID,
	})

	_, err := pipe.Exec(ctx)
	return err
}

// bury moves the job to the dead letter list and reports it. The job is kept
// in the list even if reporting fails.
func (s *Scheduler) bury(ctx context.Context, job types.Job, attempts int,
	cause error) {

	failed := types.FailedJob{
		ID:       job.ID,
		Kind:     job.Kind,
		Payload:  job.Payload,
		Attempts: attempts,
		Error:    cause.Error(),
		FailedAt: s.now(),
	}

	s.log.Error("Job exhausted its attempts",
		"job", job.ID,
		"attempts", failed.Attempts,
		"error", cause,
	)

	metrics.JobsProcessed.WithLabelValues(string(job.Kind),
		metrics.ResultDead).Inc()

	data, err := json.Marshal(failed)
	if err != nil {
		s.log.Error("couldn't marshal dead job", "job", job.ID, "error", err)
		return
	}

	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, s.activeKey(), job.ID)
	pipe.LPush(ctx, s.deadKey(), data)
	pipe.Del(ctx, s.jobKey(job.ID))

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("couldn't dead letter job", "job", job.ID, "error", err)
	}

	if s.reporter == nil {
		return
	}

	if err := s.reporter.Report(ctx, failed); err != nil {
		s.log.Error("couldn't report dead job", "job", job.ID, "error", err)
	}
}
