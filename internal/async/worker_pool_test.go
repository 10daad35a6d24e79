package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

func TestWorkerPool_DedicatedRunnerPerSlot(t *testing.T) {
	var seen sync.Map // slot -> count
	pool := NewWorkerPool(3, func(slot int) func(context.Context, *Event) {
		return func(ctx context.Context, e *Event) {
			v, _ := seen.LoadOrStore(slot, new(int32))
			atomic.AddInt32(v.(*int32), 1)
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		e := newTestEvent(i)
		go func() {
			defer wg.Done()
			pool.Schedule(e)
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	pool.Close()
	pool.Wait()

	total := 0
	seen.Range(func(_, v any) bool {
		total += int(atomic.LoadInt32(v.(*int32)))
		return true
	})
	assert.Equal(t, 30, total)
}

func TestWorkerPool_CloseStopsAcceptingWork(t *testing.T) {
	pool := NewWorkerPool(1, func(slot int) func(context.Context, *Event) {
		return func(context.Context, *Event) {}
	})
	pool.Close()
	pool.Wait()

	done := make(chan struct{})
	go func() {
		pool.Schedule(newTestEvent("a"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Schedule did not return after Close")
	}
}

func TestWorkerPool_SizeZeroTreatedAsOne(t *testing.T) {
	pool := NewWorkerPool(0, func(slot int) func(context.Context, *Event) {
		assert.Equal(t, 0, slot)
		return func(context.Context, *Event) {}
	})
	pool.Close()
	pool.Wait()
}

// TestWorkerPool_ScheduleNeverBlocks holds every worker busy and then
// schedules far more events than the old size*4 bounded channel would have
// held, from the calling goroutine itself. Schedule must return immediately
// every time: the driver is only allowed to block in finalizeAtLeastOne and
// Flush, never here.
func TestWorkerPool_ScheduleNeverBlocks(t *testing.T) {
	const size = 2
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(size)

	pool := NewWorkerPool(size, func(slot int) func(context.Context, *Event) {
		return func(context.Context, *Event) {
			started.Done()
			<-release
		}
	})

	for i := 0; i < size; i++ {
		pool.Schedule(newTestEvent(i))
	}
	started.Wait()

	const burst = size*4 + 50
	done := make(chan struct{})
	go func() {
		for i := 0; i < burst; i++ {
			pool.Schedule(newTestEvent(i + size))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Schedule blocked under a burst larger than the old bounded buffer")
	}

	close(release)
	pool.Close()
	pool.Wait()
}
