package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"danmuget/internal/domain"
	errpkg "danmuget/internal/errors"
	"danmuget/internal/report"
)

// stubUpstream scripts per-task resolve/fetch behavior and records call
// timings for backoff assertions.
type stubUpstream struct {
	mu           sync.Mutex
	resolveErrs  map[int][]error // sequence index -> error per attempt, nil entry = success
	fetchErr     error
	attemptTimes map[int][]time.Time
	payload      []byte
}

func newStubUpstream() *stubUpstream {
	return &stubUpstream{
		resolveErrs:  make(map[int][]error),
		attemptTimes: make(map[int][]time.Time),
		payload:      []byte("payload"),
	}
}

func (s *stubUpstream) Resolve(ctx context.Context, task domain.Task) (domain.ResolvedTarget, error) {
	s.mu.Lock()
	attempt := len(s.attemptTimes[task.SequenceIndex])
	s.attemptTimes[task.SequenceIndex] = append(s.attemptTimes[task.SequenceIndex], time.Now())
	scripted := s.resolveErrs[task.SequenceIndex]
	s.mu.Unlock()

	if attempt < len(scripted) && scripted[attempt] != nil {
		return domain.ResolvedTarget{}, scripted[attempt]
	}
	return domain.ResolvedTarget{CommentID: task.CommentID}, nil
}

func (s *stubUpstream) Fetch(ctx context.Context, target domain.ResolvedTarget, format domain.Format) ([]byte, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.payload, nil
}

func (s *stubUpstream) attempts(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attemptTimes[index])
}

type stubSink struct {
	mu     sync.Mutex
	writes map[int][]byte
	err    error
}

func newStubSink() *stubSink {
	return &stubSink{writes: make(map[int][]byte)}
}

func (s *stubSink) Write(task domain.Task, target domain.ResolvedTarget, format domain.Format, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.writes[task.SequenceIndex] = payload
	return fmt.Sprintf("/out/%03d.%s", task.SequenceIndex, format), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultOptions() Options {
	return Options{
		Concurrency:   2,
		Retries:       3,
		RetryDelay:    20 * time.Millisecond,
		Throttle:      0,
		Timeout:       time.Second,
		DefaultFormat: domain.FormatJSON,
	}
}

func runTasks(t *testing.T, ctx context.Context, upstream *stubUpstream, sink *stubSink, opts Options, tasks []domain.QueuedTask) domain.Report {
	t.Helper()
	builder := report.NewBuilder(domain.RunConfig{}, len(tasks))
	New(upstream, sink, builder, opts, nil, testLogger()).Run(ctx, tasks)

	final, err := builder.Finalize(t.TempDir(), ctx.Err() != nil)
	require.NoError(t, err)
	return final
}

func queued(tasks ...domain.Task) []domain.QueuedTask {
	out := make([]domain.QueuedTask, len(tasks))
	for i, task := range tasks {
		out[i] = domain.QueuedTask{Task: task}
	}
	return out
}

func TestRun_SingleTaskSucceeds(t *testing.T) {
	upstream := newStubUpstream()
	sink := newStubSink()

	final := runTasks(t, context.Background(), upstream, sink, defaultOptions(),
		queued(domain.Task{SequenceIndex: 1, Name: "E1", CommentID: 123456}))

	assert.Equal(t, 1, final.Total)
	assert.Equal(t, 1, final.Succeeded)
	require.Len(t, final.Items, 1)
	assert.Equal(t, domain.StatusSucceeded, final.Items[0].Status)
	assert.Equal(t, 1, final.Items[0].Attempts)
	assert.Equal(t, "/out/001.json", final.Items[0].OutputFile)
	assert.Equal(t, []byte("payload"), sink.writes[1])
}

func TestRun_TransientRetriesThenSucceeds(t *testing.T) {
	upstream := newStubUpstream()
	transient := errpkg.Transient(errors.New("connection reset"))
	upstream.resolveErrs[1] = []error{transient, transient, nil}
	sink := newStubSink()

	final := runTasks(t, context.Background(), upstream, sink, defaultOptions(),
		queued(domain.Task{SequenceIndex: 1, CommentID: 1}))

	require.Len(t, final.Items, 1)
	assert.Equal(t, domain.StatusSucceeded, final.Items[0].Status)
	assert.Equal(t, 3, final.Items[0].Attempts)

	// Backoff approximates base then 2*base, with ±25% jitter.
	times := upstream.attemptTimes[1]
	require.Len(t, times, 3)
	gap1 := times[1].Sub(times[0])
	gap2 := times[2].Sub(times[1])
	assert.GreaterOrEqual(t, gap1, 15*time.Millisecond)
	assert.Less(t, gap1, 100*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, 30*time.Millisecond)
	assert.Less(t, gap2, 150*time.Millisecond)
}

func TestRun_TransientExhaustsRetries(t *testing.T) {
	upstream := newStubUpstream()
	transient := errpkg.Transient(errors.New("still down"))
	upstream.resolveErrs[1] = []error{transient, transient, transient, transient}
	sink := newStubSink()

	opts := defaultOptions()
	opts.Retries = 2
	opts.RetryDelay = time.Millisecond

	final := runTasks(t, context.Background(), upstream, sink, opts,
		queued(domain.Task{SequenceIndex: 1, CommentID: 1}))

	require.Len(t, final.Items, 1)
	assert.Equal(t, domain.StatusFailed, final.Items[0].Status)
	assert.Equal(t, 3, final.Items[0].Attempts, "retries+1 attempts")
	assert.Contains(t, final.Items[0].Error, "still down")
}

func TestRun_PermanentFailsImmediately(t *testing.T) {
	upstream := newStubUpstream()
	upstream.fetchErr = errpkg.Permanent(errors.New("HTTP 404"))
	sink := newStubSink()

	final := runTasks(t, context.Background(), upstream, sink, defaultOptions(),
		queued(domain.Task{SequenceIndex: 1, CommentID: 1}))

	require.Len(t, final.Items, 1)
	assert.Equal(t, domain.StatusFailed, final.Items[0].Status)
	assert.Equal(t, 1, final.Items[0].Attempts, "permanent errors are not retried")
}

func TestRun_ResolutionErrorNotRetried(t *testing.T) {
	upstream := newStubUpstream()
	upstream.resolveErrs[1] = []error{fmt.Errorf("%w: ep.mkv", errpkg.ErrNoMatch)}
	sink := newStubSink()

	final := runTasks(t, context.Background(), upstream, sink, defaultOptions(),
		queued(domain.Task{SequenceIndex: 1, FileName: "ep.mkv"}))

	require.Len(t, final.Items, 1)
	assert.Equal(t, domain.StatusFailed, final.Items[0].Status)
	assert.Equal(t, 1, final.Items[0].Attempts)
	assert.Equal(t, 1, upstream.attempts(1))
}

func TestRun_DisabledTaskSkippedWithoutNetwork(t *testing.T) {
	upstream := newStubUpstream()
	sink := newStubSink()

	tasks := []domain.QueuedTask{
		{Task: domain.Task{SequenceIndex: 1, CommentID: 1, Disabled: true}, SkipReason: domain.SkipDisabled},
		{Task: domain.Task{SequenceIndex: 2, CommentID: 2}},
	}

	final := runTasks(t, context.Background(), upstream, sink, defaultOptions(), tasks)

	assert.Equal(t, 1, final.Succeeded)
	assert.Equal(t, 1, final.Skipped)
	assert.Equal(t, 0, upstream.attempts(1), "disabled task must not touch the network")

	var skipped domain.Outcome
	for _, item := range final.Items {
		if item.SequenceIndex == 1 {
			skipped = item
		}
	}
	assert.Equal(t, domain.StatusSkipped, skipped.Status)
	assert.Equal(t, domain.SkipDisabled, skipped.SkipReason)
}

func TestRun_DuplicateSkipped(t *testing.T) {
	upstream := newStubUpstream()
	sink := newStubSink()

	tasks := []domain.QueuedTask{
		{Task: domain.Task{SequenceIndex: 1, CommentID: 9}},
		{Task: domain.Task{SequenceIndex: 2, CommentID: 9}, SkipReason: domain.SkipDuplicate},
	}

	final := runTasks(t, context.Background(), upstream, sink, defaultOptions(), tasks)

	assert.Equal(t, 1, final.Succeeded)
	assert.Equal(t, 1, final.Skipped)
	assert.Equal(t, domain.SkipDuplicate, final.Items[1].SkipReason)
	assert.Equal(t, 0, upstream.attempts(2))
}

func TestRun_ThrottleSpacesAdmissions(t *testing.T) {
	upstream := newStubUpstream()
	sink := newStubSink()

	opts := defaultOptions()
	opts.Concurrency = 4
	opts.Throttle = 30 * time.Millisecond

	start := time.Now()
	final := runTasks(t, context.Background(), upstream, sink, opts, queued(
		domain.Task{SequenceIndex: 1, CommentID: 1},
		domain.Task{SequenceIndex: 2, CommentID: 2},
		domain.Task{SequenceIndex: 3, CommentID: 3},
	))

	assert.Equal(t, 3, final.Succeeded)
	// Two throttle gaps between three admissions, regardless of pool width.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRun_CancellationSkipsPending(t *testing.T) {
	upstream := newStubUpstream()
	sink := newStubSink()

	ctx, cancel := context.WithCancel(context.Background())

	// The first task cancels the run while it is executing, so the rest
	// are still pending when the signal lands.
	slow := &blockingUpstream{stub: upstream, cancelAfter: cancel}

	tasks := queued(
		domain.Task{SequenceIndex: 1, CommentID: 1},
		domain.Task{SequenceIndex: 2, CommentID: 2},
		domain.Task{SequenceIndex: 3, CommentID: 3},
	)

	opts := defaultOptions()
	opts.Concurrency = 1
	opts.Throttle = 0

	builder := report.NewBuilder(domain.RunConfig{}, len(tasks))
	New(slow, sink, builder, opts, nil, testLogger()).Run(ctx, tasks)

	final, err := builder.Finalize(t.TempDir(), true)
	require.NoError(t, err)

	assert.Equal(t, 3, final.Total)
	assert.Equal(t, final.Total, final.Succeeded+final.Failed+final.Skipped)
	assert.True(t, final.Cancelled)

	// The running task settled normally; everything still pending was
	// skipped as cancelled.
	assert.Equal(t, domain.StatusSucceeded, final.Items[0].Status)
	for _, item := range final.Items[1:] {
		assert.Equal(t, domain.StatusSkipped, item.Status, "task %d", item.SequenceIndex)
		assert.Equal(t, domain.SkipCancelled, item.SkipReason, "task %d", item.SequenceIndex)
	}
}

// blockingUpstream cancels the run during the first task's resolve and
// then completes it, so pending tasks observe the cancellation.
type blockingUpstream struct {
	stub        *stubUpstream
	cancelAfter context.CancelFunc
	once        sync.Once
}

func (b *blockingUpstream) Resolve(ctx context.Context, task domain.Task) (domain.ResolvedTarget, error) {
	b.once.Do(b.cancelAfter)
	return b.stub.Resolve(ctx, task)
}

func (b *blockingUpstream) Fetch(ctx context.Context, target domain.ResolvedTarget, format domain.Format) ([]byte, error) {
	return b.stub.Fetch(ctx, target, format)
}

func TestRun_EventsEmittedAndChannelClosed(t *testing.T) {
	upstream := newStubUpstream()
	sink := newStubSink()

	events := make(chan domain.TaskEvent, 16)
	builder := report.NewBuilder(domain.RunConfig{}, 1)

	var collected []domain.TaskEvent
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			collected = append(collected, ev)
		}
	}()

	New(upstream, sink, builder, defaultOptions(), events, testLogger()).
		Run(context.Background(), queued(domain.Task{SequenceIndex: 1, Name: "E1", CommentID: 1}))
	<-done

	require.NotEmpty(t, collected)
	assert.Equal(t, domain.EventAdmitted, collected[0].Type)
	last := collected[len(collected)-1]
	assert.Equal(t, domain.EventDone, last.Type)
	assert.Equal(t, domain.StatusSucceeded, last.Status)
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 5; attempt++ {
		expected := base << (attempt - 1)
		low := time.Duration(float64(expected) * (1 - jitterRatio))
		high := time.Duration(float64(expected) * (1 + jitterRatio))
		for i := 0; i < 50; i++ {
			d := backoff(base, attempt)
			assert.GreaterOrEqual(t, d, low, "attempt %d", attempt)
			assert.LessOrEqual(t, d, high, "attempt %d", attempt)
		}
	}

	assert.Equal(t, time.Duration(0), backoff(0, 3), "zero base disables backoff")
	assert.LessOrEqual(t, backoff(time.Hour, 10), maxRetryDelay, "cap applies")
}
