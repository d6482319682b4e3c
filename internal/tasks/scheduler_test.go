package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRunsJobs(t *testing.T) {
	s := New(4, 16, zerolog.Nop())
	defer s.Stop()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := s.Enqueue(Job{Name: "inc", Run: func(context.Context) {
			n.Add(1)
			wg.Done()
		}})
		require.True(t, ok)
	}
	wg.Wait()
	assert.Equal(t, int64(10), n.Load())
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	s := New(1, 16, zerolog.Nop())
	defer s.Stop()

	done := make(chan struct{})
	s.Enqueue(Job{Name: "boom", Run: func(context.Context) { panic("boom") }})
	s.Enqueue(Job{Name: "after", Run: func(context.Context) { close(done) }})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestEnqueueAfterDelays(t *testing.T) {
	s := New(1, 16, zerolog.Nop())
	defer s.Stop()

	start := time.Now()
	done := make(chan struct{})
	s.EnqueueAfter(50*time.Millisecond, Job{Name: "later", Run: func(context.Context) {
		close(done)
	}})

	select {
	case <-done:
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("delayed job never ran")
	}
}

func TestEveryRepeats(t *testing.T) {
	s := New(1, 64, zerolog.Nop())
	defer s.Stop()

	var n atomic.Int64
	s.Every(20*time.Millisecond, Job{Name: "tick", Run: func(context.Context) {
		n.Add(1)
	}})

	require.Eventually(t, func() bool { return n.Load() >= 3 },
		5*time.Second, 10*time.Millisecond)
}

func TestEnqueueAfterStop(t *testing.T) {
	s := New(1, 4, zerolog.Nop())
	s.Stop()

	ok := s.Enqueue(Job{Name: "late", Run: func(context.Context) {}})
	assert.False(t, ok)
}

func TestJobSeesCancellationOnStop(t *testing.T) {
	s := New(1, 4, zerolog.Nop())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	s.Enqueue(Job{Name: "long", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}})

	<-started
	go s.Stop()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("job never saw cancellation")
	}
}
