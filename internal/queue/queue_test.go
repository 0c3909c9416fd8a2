package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueFIFOOrder(t *testing.T) {
	q := New[int](10, nil)

	j1, err := q.Enqueue(time.Second)
	require.NoError(t, err)
	j2, err := q.Enqueue(time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	got1, ok := q.WaitDequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, j1.ID, got1.ID)

	got2, ok := q.WaitDequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, j2.ID, got2.ID)
}

func TestEnqueueFailsWhenFull(t *testing.T) {
	q := New[int](1, nil)

	_, err := q.Enqueue(time.Second)
	require.NoError(t, err)

	_, err = q.Enqueue(time.Second)
	require.Error(t, err)

	var fullErr *FullError
	require.ErrorAs(t, err, &fullErr)
	assert.Equal(t, 1, fullErr.QueueSize)
	assert.Equal(t, 1, fullErr.MaxQueueSize)
}

func TestPoliceDeadlinesFailsExpired(t *testing.T) {
	q := New[int](10, nil)

	job, err := q.Enqueue(10 * time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	q.PoliceDeadlines()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = job.Await(ctx)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.GreaterOrEqual(t, timeoutErr.WaitedMs, int64(10))
}

func TestClearFailsAllPending(t *testing.T) {
	q := New[int](10, nil)

	j1, _ := q.Enqueue(time.Second)
	j2, _ := q.Enqueue(time.Second)

	q.Clear(ErrShutdown)

	ctx := context.Background()
	_, err1 := j1.Await(ctx)
	_, err2 := j2.Await(ctx)
	assert.ErrorIs(t, err1, ErrShutdown)
	assert.ErrorIs(t, err2, ErrShutdown)

	_, err := q.Enqueue(time.Second)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestSizeReflectsPending(t *testing.T) {
	q := New[int](10, nil)
	assert.Equal(t, 0, q.Size())

	q.Enqueue(time.Second)
	q.Enqueue(time.Second)
	assert.Equal(t, 2, q.Size())
}
