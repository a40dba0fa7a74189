package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

type fakeExtractor struct {
	runs    atomic.Int32
	retries atomic.Int32
	forced  atomic.Int32
	block   chan struct{}
	sinkErr error
}

func (f *fakeExtractor) finish(ctx context.Context, doc entity.Document) (entity.ExtractionRun, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	now := time.Now()
	run := entity.NewRun(doc, now)
	run, _ = run.Start(now)
	run, _ = run.Succeed(now, constants.VariantDelimited, nil, entity.RunMetrics{})
	return run, f.sinkErr
}

func (f *fakeExtractor) RunExtraction(ctx context.Context, doc entity.Document) (entity.ExtractionRun, error) {
	f.runs.Add(1)
	return f.finish(ctx, doc)
}

func (f *fakeExtractor) RetryExtraction(ctx context.Context, doc entity.Document, forceLLM bool) (entity.ExtractionRun, error) {
	f.retries.Add(1)
	if forceLLM {
		f.forced.Add(1)
	}
	return f.finish(ctx, doc)
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func doc() entity.Document {
	return entity.Document{ID: uuid.NewString(), TenantID: "acme"}
}

func TestProcessorQueueDrainsAllJobs(t *testing.T) {
	ex := &fakeExtractor{}
	var c collector
	q := NewProcessorQueue(ex, nil, WithWorkers(3), WithQueueSize(4), WithResultHandler(c.add))

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{Document: doc()}))
	}
	require.NoError(t, q.Enqueue(context.Background(), Job{Document: doc(), Retry: true}))
	require.NoError(t, q.Enqueue(context.Background(), Job{Document: doc(), ForceLLM: true}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.Len(t, c.results, 12)
	assert.EqualValues(t, 10, ex.runs.Load())
	assert.EqualValues(t, 2, ex.retries.Load())
	assert.EqualValues(t, 1, ex.forced.Load())
	for _, r := range c.results {
		assert.Equal(t, constants.RunStatusSucceeded, r.Run.Status)
		assert.Equal(t, r.Job.Document.ID, r.Run.DocumentID)
		assert.False(t, r.Job.SubmittedAt.IsZero())
	}
}

func TestProcessorQueueRejectsAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(&fakeExtractor{}, nil, WithWorkers(1))
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{Document: doc()})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestProcessorQueueReportsSinkErrors(t *testing.T) {
	ex := &fakeExtractor{sinkErr: errors.New("insert failed")}
	var c collector
	q := NewProcessorQueue(ex, nil, WithWorkers(1), WithResultHandler(c.add))
	require.NoError(t, q.Enqueue(context.Background(), Job{Document: doc()}))
	q.Shutdown(context.Background())

	require.Len(t, c.results, 1)
	assert.EqualError(t, c.results[0].Err, "insert failed")
	assert.Equal(t, constants.RunStatusSucceeded, c.results[0].Run.Status)
}

func TestProcessorQueueEnqueueHonoursContextWhenFull(t *testing.T) {
	ex := &fakeExtractor{block: make(chan struct{})}
	q := NewProcessorQueue(ex, nil, WithWorkers(1), WithQueueSize(1), WithProcessTimeout(time.Minute))

	// One job held by the worker, one filling the buffer.
	require.NoError(t, q.Enqueue(context.Background(), Job{Document: doc()}))
	require.Eventually(t, func() bool { return ex.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{Document: doc()}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{Document: doc()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(ex.block)
	q.Shutdown(context.Background())
	assert.EqualValues(t, 2, ex.runs.Load())
}

func TestProcessorQueueShutdownInterrupted(t *testing.T) {
	ex := &fakeExtractor{block: make(chan struct{})}
	q := NewProcessorQueue(ex, nil, WithWorkers(1))
	require.NoError(t, q.Enqueue(context.Background(), Job{Document: doc()}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	q.Shutdown(ctx)
	assert.Less(t, time.Since(start), time.Second)
	close(ex.block)
}
