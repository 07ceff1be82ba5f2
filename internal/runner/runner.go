// Package runner drives the run: a fixed worker pool drains the task
// queue in input order, with throttled admission, per-attempt timeouts,
// and retry-with-backoff for transient upstream failures.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"danmuget/internal/domain"
	errpkg "danmuget/internal/errors"
	"danmuget/internal/metrics"
	"danmuget/internal/report"
)

// maxRetryDelay caps exponential backoff so a long retry chain cannot
// stall a worker for minutes per attempt.
const maxRetryDelay = 2 * time.Minute

// jitterRatio spreads retry delays ±25% to keep workers from retrying
// in lockstep.
const jitterRatio = 0.25

// Options are the scheduling knobs for one run.
type Options struct {
	Concurrency   int
	Retries       int
	RetryDelay    time.Duration
	Throttle      time.Duration
	Timeout       time.Duration
	DefaultFormat domain.Format
}

// Upstream resolves tasks to comment source ids and fetches payloads.
// Satisfied by *client.Client.
type Upstream interface {
	Resolve(ctx context.Context, task domain.Task) (domain.ResolvedTarget, error)
	Fetch(ctx context.Context, target domain.ResolvedTarget, format domain.Format) ([]byte, error)
}

// Sink persists one successful payload. Satisfied by *writer.Writer.
type Sink interface {
	Write(task domain.Task, target domain.ResolvedTarget, format domain.Format, payload []byte) (string, error)
}

// Runner executes resolve+fetch+write for every task and records every
// terminal state exactly once with the report builder.
type Runner struct {
	client  Upstream
	writer  Sink
	builder *report.Builder
	opts    Options
	events  chan<- domain.TaskEvent
	logger  *slog.Logger
}

// New builds a Runner. events receives every task transition and is
// closed when Run returns; pass nil to disable progress events.
func New(c Upstream, w Sink, b *report.Builder, opts Options, events chan<- domain.TaskEvent, logger *slog.Logger) *Runner {
	return &Runner{
		client:  c,
		writer:  w,
		builder: b,
		opts:    opts,
		events:  events,
		logger:  logger,
	}
}

// Run drains tasks under the configured concurrency. It returns once
// every task has reached a terminal state; cancellation of ctx skips
// everything still pending and lets running tasks settle.
func (r *Runner) Run(ctx context.Context, tasks []domain.QueuedTask) {
	if r.events != nil {
		defer close(r.events)
	}

	queue := make(chan domain.QueuedTask)

	var g errgroup.Group
	for i := 0; i < r.opts.Concurrency; i++ {
		g.Go(func() error {
			for qt := range queue {
				r.execute(ctx, qt.Task)
			}
			return nil
		})
	}

	r.admit(ctx, tasks, queue)
	close(queue)
	_ = g.Wait()
}

// admit feeds runnable tasks to the workers in SequenceIndex order,
// spacing admissions by the throttle interval. Tasks ruled out at load
// time, and everything still pending once ctx is cancelled, go straight
// to the report as skipped.
func (r *Runner) admit(ctx context.Context, tasks []domain.QueuedTask, queue chan<- domain.QueuedTask) {
	admitted := false
	for i, qt := range tasks {
		if qt.SkipReason != "" {
			r.skip(qt.Task, qt.SkipReason)
			continue
		}

		if ctx.Err() != nil {
			r.skipRemaining(tasks[i:])
			return
		}

		// Throttle spaces first attempts independent of pool width;
		// skipped tasks do not consume a slot.
		if admitted && r.opts.Throttle > 0 {
			if !r.sleep(ctx, r.opts.Throttle) {
				r.skipRemaining(tasks[i:])
				return
			}
		}

		r.emit(domain.TaskEvent{Type: domain.EventAdmitted, SequenceIndex: qt.Task.SequenceIndex, Name: qt.Task.Name})
		select {
		case queue <- qt:
			admitted = true
		case <-ctx.Done():
			r.skipRemaining(tasks[i:])
			return
		}
	}
}

func (r *Runner) skipRemaining(rest []domain.QueuedTask) {
	for _, qt := range rest {
		reason := qt.SkipReason
		if reason == "" {
			reason = domain.SkipCancelled
		}
		r.skip(qt.Task, reason)
	}
}

func (r *Runner) skip(task domain.Task, reason string) {
	outcome := domain.Outcome{
		SequenceIndex: task.SequenceIndex,
		Name:          task.Name,
		Status:        domain.StatusSkipped,
		Mode:          task.Mode(),
		SkipReason:    reason,
	}
	r.builder.Add(outcome)
	r.emit(domain.TaskEvent{
		Type:          domain.EventDone,
		SequenceIndex: task.SequenceIndex,
		Name:          task.Name,
		Status:        domain.StatusSkipped,
		Error:         reason,
	})
	r.logger.Info("task skipped", "task", task.SequenceIndex, "reason", reason)
}

// execute runs one task to a terminal state: resolve, fetch, write,
// retrying transient failures with exponential backoff.
func (r *Runner) execute(ctx context.Context, task domain.Task) {
	started := time.Now()
	format := task.EffectiveFormat(r.opts.DefaultFormat)

	var (
		attempts int
		lastErr  error
		target   domain.ResolvedTarget
		path     string
	)

	for attempt := 1; attempt <= r.opts.Retries+1; attempt++ {
		if ctx.Err() != nil {
			break
		}

		attempts = attempt
		metrics.Attempts.Inc()
		r.emit(domain.TaskEvent{Type: domain.EventRunning, SequenceIndex: task.SequenceIndex, Name: task.Name, Attempt: attempt})

		target, path, lastErr = r.attempt(ctx, task, format)
		if lastErr == nil {
			break
		}

		if !errpkg.IsTransient(lastErr) || attempt > r.opts.Retries {
			break
		}

		delay := backoff(r.opts.RetryDelay, attempt)
		r.logger.Warn("attempt failed, retrying",
			"task", task.SequenceIndex, "attempt", attempt, "delay", delay, "error", lastErr)
		metrics.Retries.Inc()
		r.emit(domain.TaskEvent{
			Type:          domain.EventRetrying,
			SequenceIndex: task.SequenceIndex,
			Name:          task.Name,
			Attempt:       attempt,
			Error:         lastErr.Error(),
		})
		if !r.sleep(ctx, delay) {
			break
		}
	}

	elapsed := time.Since(started)
	metrics.FetchDuration.Observe(elapsed.Seconds())

	if attempts == 0 {
		// Cancelled after admission but before the first attempt.
		r.skip(task, domain.SkipCancelled)
		return
	}

	outcome := domain.Outcome{
		SequenceIndex: task.SequenceIndex,
		Name:          task.Name,
		Mode:          task.Mode(),
		Format:        format,
		Attempts:      attempts,
		CommentID:     target.CommentID,
		AnimeTitle:    target.AnimeTitle,
		EpisodeTitle:  target.EpisodeTitle,
		ElapsedMs:     elapsed.Milliseconds(),
	}

	if lastErr != nil {
		outcome.Status = domain.StatusFailed
		outcome.Error = lastErr.Error()
		if errpkg.IsResolution(lastErr) {
			r.logger.Error("task could not be resolved",
				"task", task.SequenceIndex, "mode", task.Mode(), "error", lastErr)
		} else {
			r.logger.Error("task failed",
				"task", task.SequenceIndex, "attempts", attempts, "error", lastErr)
		}
	} else {
		outcome.Status = domain.StatusSucceeded
		outcome.OutputFile = path
		r.logger.Info("task succeeded",
			"task", task.SequenceIndex, "attempts", attempts, "output", path)
	}

	r.builder.Add(outcome)
	r.emit(domain.TaskEvent{
		Type:          domain.EventDone,
		SequenceIndex: task.SequenceIndex,
		Name:          task.Name,
		Attempt:       attempts,
		Status:        outcome.Status,
		OutputFile:    outcome.OutputFile,
		Error:         outcome.Error,
	})
}

// attempt is one bounded resolve+fetch+write pass.
func (r *Runner) attempt(ctx context.Context, task domain.Task, format domain.Format) (domain.ResolvedTarget, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	target, err := r.client.Resolve(attemptCtx, task)
	if err != nil {
		return domain.ResolvedTarget{}, "", classifyCtx(attemptCtx, err)
	}

	payload, err := r.client.Fetch(attemptCtx, target, format)
	if err != nil {
		return target, "", classifyCtx(attemptCtx, err)
	}

	path, err := r.writer.Write(task, target, format, payload)
	if err != nil {
		return target, "", err
	}
	return target, path, nil
}

// classifyCtx upgrades a deadline hit to transient even when the HTTP
// layer surfaced it in another shape.
func classifyCtx(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errpkg.IsTransient(err) {
		return errpkg.Transient(err)
	}
	return err
}

// backoff computes the delay after the given failed attempt number:
// base*2^(n-1), jittered, capped.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := maxRetryDelay
	if attempt <= 20 {
		delay = base << (attempt - 1)
	}
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}

	jitter := time.Duration((rand.Float64()*2 - 1) * jitterRatio * float64(delay))
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// sleep waits for d unless ctx is cancelled first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) emit(event domain.TaskEvent) {
	if r.events != nil {
		r.events <- event
	}
}
