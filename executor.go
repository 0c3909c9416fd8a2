package keyrot

import (
	"context"
	"errors"
	"time"

	"github.com/gblikas/keyrot/internal/queue"
	"github.com/gblikas/keyrot/internal/selector"
)

// RequestFunc is the caller-supplied unit of work a Pool dispatches
// against a chosen key's credential value. apiKey is the KeyConfig.Value
// of whichever key was selected for this attempt.
type RequestFunc[R any] func(ctx context.Context, apiKey string) (R, error)

// Execute enqueues fn for dispatch and blocks until it succeeds, the
// retry budget is exhausted, or ctx is done. fn may be called more than
// once, against a different key each time; it is never retried against
// the same key twice in a row.
func (p *Pool[R]) Execute(ctx context.Context, fn RequestFunc[R]) (R, error) {
	return p.ExecuteWithWait(ctx, fn, 0)
}

// ExecuteWithWait is Execute with an explicit override of how long the
// request may wait in the queue before being dispatched. maxWait <= 0
// uses the Pool's DefaultMaxWait.
func (p *Pool[R]) ExecuteWithWait(ctx context.Context, fn RequestFunc[R], maxWait time.Duration) (R, error) {
	var zero R
	if p.closed.Load() {
		return zero, ErrShutdown
	}
	if maxWait <= 0 {
		maxWait = p.cfg.DefaultMaxWait
	}

	job, err := p.q.Enqueue(maxWait)
	if err != nil {
		return zero, p.convertQueueError(err)
	}

	p.entriesMu.Lock()
	p.entries[job.ID] = jobEntry[R]{ctx: ctx, fn: fn}
	p.entriesMu.Unlock()

	value, err := job.Await(ctx)
	if err != nil {
		return value, p.convertQueueError(err)
	}
	return value, nil
}

func (p *Pool[R]) takeEntry(id string) (jobEntry[R], bool) {
	p.entriesMu.Lock()
	defer p.entriesMu.Unlock()
	e, ok := p.entries[id]
	delete(p.entries, id)
	return e, ok
}

// dispatchLoop is the Pool's single dispatch worker: it drains the
// queue and runs each job's retry/rotation attempt to completion before
// picking up the next one, so the queue depth reflects exactly how many
// requests are waiting behind whichever one is in flight.
func (p *Pool[R]) dispatchLoop() {
	defer p.loopWG.Done()
	for {
		job, ok := p.q.WaitDequeue(p.dispatchCtx)
		if !ok {
			return
		}
		entry, ok := p.takeEntry(job.ID)
		if !ok {
			continue
		}
		p.attempt(job, entry)
	}
}

type dispatchOutcome int

const (
	outcomeSuccess dispatchOutcome = iota
	outcomeRateLimited
	outcomeError
)

func (p *Pool[R]) classify(resp R, err error) dispatchOutcome {
	if err != nil {
		return outcomeError
	}
	if p.classifier.rateLimited(resp) {
		return outcomeRateLimited
	}
	if p.classifier.isError(resp) {
		return outcomeError
	}
	return outcomeSuccess
}

// attempt runs the retry/rotation loop for one job: select a key,
// reserve capacity on it, run the caller's function, record the
// outcome, and either resolve the job or move on to a different key.
func (p *Pool[R]) attempt(job *queue.Job[R], entry jobEntry[R]) {
	maxRetries := p.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = p.keyCount()
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}

	excluded := make(map[string]bool, maxRetries)
	var (
		lastResp R
		lastErr  error
	)

	for i := 0; i < maxRetries; i++ {
		now := time.Now()
		views := p.keyViews(now)
		view, ok := p.sel.Select(views, excluded)
		if !ok {
			p.hooks.allKeysExhausted()
			job.Reject(p.allKeysExhaustedError(views))
			return
		}

		ks := p.getKey(view.ID)
		if ks == nil {
			excluded[view.ID] = true
			continue
		}
		if !ks.tryReserve(now) {
			excluded[view.ID] = true
			continue
		}
		excluded[view.ID] = true

		resp, err := entry.fn(entry.ctx, ks.cfg.Value)
		now = time.Now()
		lastResp = resp
		if err != nil {
			lastErr = err
		}

		switch p.classify(resp, err) {
		case outcomeRateLimited:
			secs, hasSecs := p.classifier.retryAfter(resp)
			ks.recordRateLimited(now, secs, hasSecs)
			continue
		case outcomeError:
			if ks.recordError(now) {
				p.hooks.keyCircuitOpen(ks.cfg.ID)
			}
			continue
		default:
			remaining, hasRemaining := p.classifier.quotaRemaining(resp)
			result := ks.recordSuccess(now, remaining, hasRemaining)
			go p.persistQuota(ks)
			if result.WarningFired {
				p.hooks.warning(ks.cfg.ID, result.UsagePercent)
			}
			if result.ExhaustedFired {
				p.hooks.keyExhausted(ks.cfg.ID)
			}
			job.Resolve(resp)
			return
		}
	}

	if lastErr == nil {
		lastErr = p.allKeysExhaustedError(p.keyViews(time.Now()))
	}
	job.Complete(lastResp, lastErr)
}

func (p *Pool[R]) allKeysExhaustedError(views []selector.KeyView) error {
	b := selector.ComputeBreakdown(views)
	return &AllKeysExhaustedError{
		TotalKeys:       b.Total,
		CircuitOpenKeys: b.CircuitOpen,
		QuotaExhausted:  b.QuotaExhausted,
		RateLimited:     b.RateLimited,
		RetryAfterMs:    selector.NextAvailableTime(views).Milliseconds(),
	}
}

func (p *Pool[R]) convertQueueError(err error) error {
	if err == nil {
		return nil
	}
	var fullErr *queue.FullError
	if errors.As(err, &fullErr) {
		return &QueueFullError{QueueSize: fullErr.QueueSize, MaxQueueSize: fullErr.MaxQueueSize, RetryAfterMs: fullErr.RetryAfterMs}
	}
	var timeoutErr *queue.TimeoutError
	if errors.As(err, &timeoutErr) {
		return &QueueTimeoutError{WaitedMs: timeoutErr.WaitedMs, QueueSize: timeoutErr.QueueSize, RetryAfterMs: timeoutErr.RetryAfterMs}
	}
	if errors.Is(err, queue.ErrShutdown) {
		return ErrShutdown
	}
	return err
}
