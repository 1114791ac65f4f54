package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceJob(id string) Job {
	return Job{Kind: JobLoadDevice, Device: &Device{ID: id}}
}

func TestJobQueue_EnqueueDequeue(t *testing.T) {
	q := newJobQueue()

	ok := q.Enqueue(deviceJob("dev-1"))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, JobLoadDevice, got.Kind)
	assert.Equal(t, "dev-1", got.id())
}

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()

	q.Enqueue(deviceJob("A"))
	q.Enqueue(Job{Kind: JobInstallApp, App: &App{ID: "B"}})
	q.Enqueue(deviceJob("C"))

	for _, want := range []string{"A", "B", "C"} {
		j, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, j.id())
	}
}

func TestJobQueue_TryDequeue_Empty(t *testing.T) {
	q := newJobQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestJobQueue_Wait_Signals(t *testing.T) {
	q := newJobQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(deviceJob("late"))
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait was not signalled")
	}
	j, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "late", j.id())
}

func TestJobQueue_Close(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(deviceJob("kept"))
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(deviceJob("after")), "enqueue after close should fail")

	// Closed wait channel never blocks.
	select {
	case <-q.Wait():
	default:
		t.Fatal("wait should not block after close")
	}

	j, ok := q.TryDequeue()
	require.True(t, ok, "queued jobs survive close")
	assert.Equal(t, "kept", j.id())
	assert.Equal(t, 0, q.Len())
}

func TestJobQueue_Len(t *testing.T) {
	q := newJobQueue()

	assert.Equal(t, 0, q.Len())
	q.Enqueue(deviceJob("1"))
	q.Enqueue(deviceJob("2"))
	assert.Equal(t, 2, q.Len())
	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestJobQueue_ThreadSafe(t *testing.T) {
	q := newJobQueue()

	const producers = 10
	const jobsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < jobsPerProducer; i++ {
				q.Enqueue(deviceJob("d"))
			}
		}()
	}

	received := 0
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for received < producers*jobsPerProducer {
			if _, ok := q.TryDequeue(); ok {
				received++
				continue
			}
			<-q.Wait()
		}
	}()

	wg.Wait()

	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer timeout: received %d jobs", received)
	}
	assert.Equal(t, producers*jobsPerProducer, received)
}

func TestJobKind_String(t *testing.T) {
	assert.Equal(t, "load device", JobLoadDevice.String())
	assert.Equal(t, "install app", JobInstallApp.String())
	assert.Equal(t, "unknown job", JobKind(0).String())
}
