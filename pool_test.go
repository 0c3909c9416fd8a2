package keyrot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gblikas/keyrot/internal/storage"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	return storage.NewMemory(zerolog.Nop())
}

// fakeResp is the test response type standing in for a provider's HTTP
// response across the scenarios below.
type fakeResp struct {
	status     int
	retryAfter int
	hasRetry   bool
	remaining  int
	hasQuota   bool
}

func fakeClassifier() Classifier[fakeResp] {
	return Classifier[fakeResp]{
		IsRateLimited: func(r fakeResp) bool { return r.status == 429 },
		IsError:       func(r fakeResp) bool { return r.status >= 500 },
		GetRetryAfter: func(r fakeResp) (int, bool) { return r.retryAfter, r.hasRetry },
		GetQuotaRemaining: func(r fakeResp) (int, bool) { return r.remaining, r.hasQuota },
	}
}

func threeUnlimitedKeys() []KeyConfig {
	return []KeyConfig{
		{ID: "key-1", Value: "secret-1", QuotaKind: QuotaUnlimited, RPS: 100},
		{ID: "key-2", Value: "secret-2", QuotaKind: QuotaUnlimited, RPS: 100},
		{ID: "key-3", Value: "secret-3", QuotaKind: QuotaUnlimited, RPS: 100},
	}
}

// TestRotatesPastRateLimitedKeys covers E1: three keys, the first two
// calls come back rate limited, the third succeeds, and three distinct
// keys were used.
func TestRotatesPastRateLimitedKeys(t *testing.T) {
	cfg := Config{Keys: threeUnlimitedKeys()}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	var mu sync.Mutex
	var used []string
	resp, err := p.Execute(context.Background(), func(_ context.Context, apiKey string) (fakeResp, error) {
		mu.Lock()
		used = append(used, apiKey)
		n := len(used)
		mu.Unlock()
		if n <= 2 {
			return fakeResp{status: 429}, nil
		}
		return fakeResp{status: 200}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.status)
	assert.Len(t, used, 3)
	assert.Equal(t, map[string]int{"secret-1": 1, "secret-2": 1, "secret-3": 1}, countOf(used))

	now := time.Now()
	for _, id := range []string{"key-1", "key-2"} {
		stats, err := p.GetKeyStats(id)
		require.NoError(t, err)
		assert.True(t, stats.RateLimitedUntil.After(now.Add(59*time.Second)), "key %s should be backed off by the default 60s window", id)
	}
}

func countOf(items []string) map[string]int {
	out := make(map[string]int)
	for _, v := range items {
		out[v]++
	}
	return out
}

// TestAllKeysExhaustedWhenEveryKeyRateLimited covers E2: once every
// registered key has been tried and is rate limited, execute rejects
// with AllKeysExhaustedError rather than a plain rate-limit error.
func TestAllKeysExhaustedWhenEveryKeyRateLimited(t *testing.T) {
	cfg := Config{
		Keys: []KeyConfig{
			{ID: "key-1", Value: "secret-1", QuotaKind: QuotaUnlimited},
			{ID: "key-2", Value: "secret-2", QuotaKind: QuotaUnlimited},
		},
		MaxRetries: 2,
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, err = p.Execute(context.Background(), func(_ context.Context, _ string) (fakeResp, error) {
		return fakeResp{status: 429}, nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllKeysExhausted))
	var exhausted *AllKeysExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 2, exhausted.TotalKeys)
}

// TestWarningFiresOnceAtThreshold covers E3: a monthly quota of 10 with
// an 0.8 warning threshold fires OnWarning exactly once, after the 8th
// successful request.
func TestWarningFiresOnceAtThreshold(t *testing.T) {
	var mu sync.Mutex
	var warnings []float64

	cfg := Config{
		Keys: []KeyConfig{
			{ID: "key-1", Value: "secret-1", QuotaKind: QuotaMonthly, QuotaLimit: 10},
		},
		WarningThreshold: 0.8,
		Hooks: Hooks{
			OnWarning: func(_ string, usagePercent float64) {
				mu.Lock()
				warnings = append(warnings, usagePercent)
				mu.Unlock()
			},
		},
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	for i := 0; i < 8; i++ {
		_, err := p.Execute(context.Background(), func(_ context.Context, _ string) (fakeResp, error) {
			return fakeResp{status: 200}, nil
		})
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, warnings, 1)
	assert.InDelta(t, 0.8, warnings[0], 0.001)
}

// TestCircuitOpensAfterConsecutiveFailures covers E4: three consecutive
// 500s open the circuit, and the next execute fails fast with
// AllKeysExhaustedError instead of invoking fn again.
func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	cfg := Config{
		Keys:             []KeyConfig{{ID: "key-1", Value: "secret-1", QuotaKind: QuotaUnlimited}},
		FailureThreshold: 3,
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	serverError := func(_ context.Context, _ string) (fakeResp, error) {
		calls++
		return fakeResp{status: 500}, nil
	}

	for i := 0; i < 3; i++ {
		_, _ = p.Execute(context.Background(), serverError)
	}

	stats, err := p.GetKeyStats("key-1")
	require.NoError(t, err)
	assert.Equal(t, "open", stats.CircuitState)
	assert.Equal(t, HealthExhausted, p.GetHealth().Status)

	_, err = p.Execute(context.Background(), serverError)
	assert.True(t, errors.Is(err, ErrAllKeysExhausted))
	assert.Equal(t, 3, calls, "the circuit-open execute must not invoke fn again")
}

// TestCircuitRecoversThroughHalfOpen covers E5: past the reset timeout
// the circuit moves to half-open, and a subsequent success closes it.
func TestCircuitRecoversThroughHalfOpen(t *testing.T) {
	cfg := Config{
		Keys:             []KeyConfig{{ID: "key-1", Value: "secret-1", QuotaKind: QuotaUnlimited}},
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, _ = p.Execute(context.Background(), func(_ context.Context, _ string) (fakeResp, error) {
		return fakeResp{status: 500}, nil
	})
	stats, err := p.GetKeyStats("key-1")
	require.NoError(t, err)
	require.Equal(t, "open", stats.CircuitState)

	time.Sleep(20 * time.Millisecond)

	resp, err := p.Execute(context.Background(), func(_ context.Context, _ string) (fakeResp, error) {
		return fakeResp{status: 200}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.status)

	stats, err = p.GetKeyStats("key-1")
	require.NoError(t, err)
	assert.Equal(t, "closed", stats.CircuitState)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
}

// TestQuotaPersistsAcrossPoolInstances covers E6: a Pool loads a
// pre-seeded quota record for a key on construction and continues
// accounting from it.
func TestQuotaPersistsAcrossPoolInstances(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Set(ctx, "quota:key-1", `{"quotaUsed":50,"periodStart":"`+time.Now().UTC().Format(time.RFC3339)+`"}`, 0))

	cfg := Config{
		Keys:    []KeyConfig{{ID: "key-1", Value: "secret-1", QuotaKind: QuotaMonthly, QuotaLimit: 100}},
		Storage: store,
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, err = p.Execute(ctx, func(_ context.Context, _ string) (fakeResp, error) {
		return fakeResp{status: 200}, nil
	})
	require.NoError(t, err)

	stats, err := p.GetKeyStats("key-1")
	require.NoError(t, err)
	assert.Equal(t, 51, stats.QuotaUsed)
}

// TestQueueFullRejectsImmediately covers E7: with a single dispatch
// worker, one request in flight and maxQueueSize pending behind it fill
// the queue, and a further execute call rejects immediately with
// QueueFullError instead of waiting.
func TestQueueFullRejectsImmediately(t *testing.T) {
	release := make(chan struct{})
	cfg := Config{
		Keys:         []KeyConfig{{ID: "key-1", Value: "secret-1", QuotaKind: QuotaUnlimited, RPS: 1000}},
		MaxQueueSize: 2,
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	blocking := func(_ context.Context, _ string) (fakeResp, error) {
		<-release
		return fakeResp{status: 200}, nil
	}

	// One of these three gets picked up by the single dispatch worker and
	// blocks in fn; the other two sit pending, filling the queue to its
	// maxQueueSize of 2.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Execute(context.Background(), blocking)
		}()
	}

	require.Eventually(t, func() bool { return p.GetQueueSize() == 2 }, time.Second, time.Millisecond)

	_, err = p.Execute(context.Background(), blocking)
	var fullErr *QueueFullError
	require.Error(t, err)
	require.True(t, errors.As(err, &fullErr))
	assert.Equal(t, 2, fullErr.MaxQueueSize)

	close(release)
	wg.Wait()
}

// TestRateLimitedResponseDoesNotResetConsecutiveFailures covers the
// circuit's consecutive-failure accounting: a rate-limited response
// between two real failures must not erase progress toward
// FailureThreshold, since it is neither a circuit success nor a circuit
// failure.
func TestRateLimitedResponseDoesNotResetConsecutiveFailures(t *testing.T) {
	cfg := Config{
		Keys:             []KeyConfig{{ID: "key-1", Value: "secret-1", QuotaKind: QuotaUnlimited, RPS: 1000}},
		FailureThreshold: 3,
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	serverError := func(_ context.Context, _ string) (fakeResp, error) {
		return fakeResp{status: 500}, nil
	}
	rateLimited := func(_ context.Context, _ string) (fakeResp, error) {
		return fakeResp{status: 429, hasRetry: true, retryAfter: 0}, nil
	}

	_, _ = p.Execute(context.Background(), serverError)
	_, _ = p.Execute(context.Background(), serverError)
	stats, err := p.GetKeyStats("key-1")
	require.NoError(t, err)
	require.Equal(t, "closed", stats.CircuitState)
	require.Equal(t, 2, stats.ConsecutiveFailures)

	// A rate-limited response lands between the two real failures above
	// and the one below; it must not wipe the count back to zero.
	_, _ = p.Execute(context.Background(), rateLimited)

	_, _ = p.Execute(context.Background(), serverError)
	stats, err = p.GetKeyStats("key-1")
	require.NoError(t, err)
	assert.Equal(t, "open", stats.CircuitState, "the third real failure must open the circuit despite the intervening rate limit")
	assert.Equal(t, 3, stats.ConsecutiveFailures)
}

// TestQueueTimeoutSurfacesAsQueueTimeoutError covers property 8: a job that
// exceeds its queue wait deadline before being dispatched surfaces from
// Execute as a *QueueTimeoutError a caller can errors.Is/errors.As
// against, not the package-internal queue.TimeoutError.
func TestQueueTimeoutSurfacesAsQueueTimeoutError(t *testing.T) {
	release := make(chan struct{})
	cfg := Config{
		Keys:         []KeyConfig{{ID: "key-1", Value: "secret-1", QuotaKind: QuotaUnlimited, RPS: 1000}},
		MaxQueueSize: 2,
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	blocking := func(_ context.Context, _ string) (fakeResp, error) {
		<-release
		return fakeResp{status: 200}, nil
	}

	// Occupy the single dispatch worker so the next job sits queued
	// without being picked up.
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Execute(context.Background(), func(ctx context.Context, apiKey string) (fakeResp, error) {
			close(started)
			return blocking(ctx, apiKey)
		})
	}()
	<-started
	require.Eventually(t, func() bool { return p.GetQueueSize() == 0 }, time.Second, time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.ExecuteWithWait(context.Background(), blocking, 10*time.Millisecond)
		errCh <- err
	}()

	// Let the queued job's short MaxWait elapse, then free the worker so
	// it dequeues and discovers the expired job.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	err = <-errCh
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueTimeout))
	var timeoutErr *QueueTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Greater(t, timeoutErr.WaitedMs, int64(0))
}

// TestLastUsedOnlyAdvancesOnSuccess covers the data-model detail that
// lastUsed is the last successful attempt's timestamp, not the last
// attempt's timestamp: an erroring attempt must not advance it.
func TestLastUsedOnlyAdvancesOnSuccess(t *testing.T) {
	cfg := Config{
		Keys: []KeyConfig{{ID: "key-1", Value: "secret-1", QuotaKind: QuotaUnlimited, RPS: 1000}},
	}
	p, err := NewPool(cfg, fakeClassifier())
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, _ = p.Execute(context.Background(), func(_ context.Context, _ string) (fakeResp, error) {
		return fakeResp{status: 500}, nil
	})
	stats, err := p.GetKeyStats("key-1")
	require.NoError(t, err)
	assert.True(t, stats.LastUsed.IsZero(), "an errored attempt must not advance lastUsed")

	before := time.Now()
	_, err = p.Execute(context.Background(), func(_ context.Context, _ string) (fakeResp, error) {
		return fakeResp{status: 200}, nil
	})
	require.NoError(t, err)

	stats, err = p.GetKeyStats("key-1")
	require.NoError(t, err)
	assert.False(t, stats.LastUsed.Before(before), "a successful attempt must advance lastUsed")
}
