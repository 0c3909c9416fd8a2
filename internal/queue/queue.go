// Package queue implements the bounded FIFO request queue with
// per-request wait deadlines that sits in front of the dispatch executor.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxSize is the default bound on pending requests.
const DefaultMaxSize = 1000

// DefaultMaxWait is the default per-request queue wait deadline.
const DefaultMaxWait = 30 * time.Second

// DefaultTick is the interval at which deadline policing scans the queue.
const DefaultTick = 100 * time.Millisecond

// Job is one queued unit of work. The queue only manages FIFO order and
// deadlines; the worker loop is responsible for actually running it.
type Job[R any] struct {
	ID       string
	QueuedAt time.Time
	MaxWait  time.Duration
	resultCh chan jobResult[R]
}

type jobResult[R any] struct {
	value R
	err   error
}

// Resolve completes the job successfully.
func (j *Job[R]) Resolve(value R) {
	j.resultCh <- jobResult[R]{value: value}
}

// Reject completes the job with an error.
func (j *Job[R]) Reject(err error) {
	j.resultCh <- jobResult[R]{err: err}
}

// Complete completes the job with both a value and an error, for callers
// that want to hand back the last attempt's response alongside the
// reason retries were abandoned.
func (j *Job[R]) Complete(value R, err error) {
	j.resultCh <- jobResult[R]{value: value, err: err}
}

// Queue is a bounded, thread-safe FIFO of pending Jobs.
type Queue[R any] struct {
	mu      sync.Mutex
	items   []*Job[R]
	maxSize int
	notify  chan struct{}
	ticker  *time.Ticker
	closed  bool
	logger  *zerolog.Logger
}

// New returns a Queue with the given capacity. maxSize <= 0 uses
// DefaultMaxSize.
func New[R any](maxSize int, logger *zerolog.Logger) *Queue[R] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue[R]{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
		ticker:  time.NewTicker(DefaultTick),
		logger:  logger,
	}
}

// Size returns the current pending count.
func (q *Queue[R]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue appends a new job to the tail, or fails immediately with a
// *FullError if the queue is at capacity.
func (q *Queue[R]) Enqueue(maxWait time.Duration) (*Job[R], error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrShutdown
	}
	size := len(q.items)
	if size >= q.maxSize {
		retryAfter := int64(size) * 1000
		if retryAfter < 1000 {
			retryAfter = 1000
		}
		q.mu.Unlock()
		return nil, &FullError{QueueSize: size, MaxQueueSize: q.maxSize, RetryAfterMs: retryAfter}
	}

	job := &Job[R]{
		ID:       uuid.NewString(),
		QueuedAt: time.Now(),
		MaxWait:  maxWait,
		resultCh: make(chan jobResult[R], 1),
	}
	q.items = append(q.items, job)
	q.mu.Unlock()

	q.signal()
	if q.logger != nil {
		q.logger.Debug().Str("request_id", job.ID).Int("queue_size", size+1).Msg("enqueued request")
	}
	return job, nil
}

// Await blocks until the job is resolved or rejected by the worker.
func (j *Job[R]) Await(ctx context.Context) (R, error) {
	select {
	case res := <-j.resultCh:
		return res.value, res.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (q *Queue[R]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// WaitDequeue blocks until a non-expired job is available, the context is
// done, or the queue is closed. Expired jobs encountered at the head are
// failed with *TimeoutError and skipped transparently.
func (q *Queue[R]) WaitDequeue(ctx context.Context) (*Job[R], bool) {
	for {
		job, empty := q.popIfReady()
		if job != nil {
			return job, true
		}
		if empty && q.isClosed() {
			return nil, false
		}
		select {
		case <-q.notify:
		case <-q.ticker.C:
			q.PoliceDeadlines()
		case <-ctx.Done():
			return nil, false
		}
	}
}

// popIfReady pops and returns the head job if it hasn't expired, failing
// and discarding any expired jobs found at the head first. empty reports
// whether the queue was left with nothing pending.
func (q *Queue[R]) popIfReady() (job *Job[R], empty bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 {
		head := q.items[0]
		if q.expired(head) {
			q.items = q.items[1:]
			q.failExpired(head)
			continue
		}
		q.items = q.items[1:]
		return head, len(q.items) == 0
	}
	return nil, true
}

func (q *Queue[R]) expired(j *Job[R]) bool {
	return time.Since(j.QueuedAt) >= j.MaxWait
}

func (q *Queue[R]) failExpired(j *Job[R]) {
	waited := time.Since(j.QueuedAt)
	err := &TimeoutError{
		WaitedMs:     waited.Milliseconds(),
		RetryAfterMs: DefaultNextAvailableMs,
		QueueSize:    len(q.items),
	}
	if q.logger != nil {
		q.logger.Warn().Str("request_id", j.ID).Dur("waited", waited).Msg("request exceeded queue wait deadline")
	}
	j.Reject(err)
}

// DefaultNextAvailableMs is the retry-after suggested on a queue timeout.
const DefaultNextAvailableMs = 1000

// PoliceDeadlines scans the whole queue (not just the head) and fails any
// job whose wait deadline has elapsed. Safe to call on a timer tick.
func (q *Queue[R]) PoliceDeadlines() {
	q.mu.Lock()
	kept := q.items[:0]
	var expired []*Job[R]
	for _, j := range q.items {
		if q.expired(j) {
			expired = append(expired, j)
		} else {
			kept = append(kept, j)
		}
	}
	q.items = kept
	q.mu.Unlock()

	for _, j := range expired {
		q.failExpired(j)
	}
}

func (q *Queue[R]) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Clear fails every pending request with err and marks the queue closed,
// refusing further enqueues. Used on shutdown.
func (q *Queue[R]) Clear(err error) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.closed = true
	q.mu.Unlock()

	for _, j := range pending {
		j.Reject(err)
	}
	q.ticker.Stop()
	q.signal()
}
