package async

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/flowbase/kstreams/kprocessor"
)

// fakeDriver is a minimal driverContext stand-in: it records forwarded
// key/value pairs instead of routing them to real child nodes, and is
// deliberately not safe for concurrent use, matching the real host context's
// single-goroutine contract.
type fakeDriver struct {
	mu       sync.Mutex
	forwards []string
}

func (f *fakeDriver) Forward(ctx context.Context, k, v int) {
	f.ForwardTo(ctx, k, v, "")
}
func (f *fakeDriver) ForwardTo(ctx context.Context, k, v int, childName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, fmt.Sprintf("%d=%d", k, v))
}
func (f *fakeDriver) GetStore(name string) kprocessor.Store { return nil }
func (f *fakeDriver) ForwardRecord(ctx context.Context, record kprocessor.Record[int, int]) {
	f.Forward(ctx, record.Key, record.Value)
}
func (f *fakeDriver) ForwardRecordTo(ctx context.Context, record kprocessor.Record[int, int], childName string) {
	f.ForwardTo(ctx, record.Key, record.Value, childName)
}
func (f *fakeDriver) StreamTime() time.Time                  { return time.Time{} }
func (f *fakeDriver) WallClockTime() time.Time               { return time.Now() }
func (f *fakeDriver) RecordMetadata() kprocessor.RecordMetadata { return kprocessor.RecordMetadata{} }
func (f *fakeDriver) TaskID() string                          { return "test-task" }
func (f *fakeDriver) Partition() int32                        { return 0 }
func (f *fakeDriver) Headers() *kprocessor.Headers             { return nil }
func (f *fakeDriver) Schedule(time.Duration, kprocessor.PunctuationType, kprocessor.Punctuator) kprocessor.Cancellable {
	return nil
}

func (f *fakeDriver) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.forwards))
	copy(out, f.forwards)
	return out
}

// doublingProcessor forwards k, v*2 for every record it processes.
type doublingProcessor struct {
	ctx kprocessor.RecordProcessorContext[int, int]
}

func (p *doublingProcessor) Init(ctx kprocessor.RecordProcessorContext[int, int]) error {
	p.ctx = ctx
	return nil
}
func (p *doublingProcessor) Close() error { return nil }
func (p *doublingProcessor) ProcessRecord(ctx context.Context, record kprocessor.Record[int, int]) error {
	p.ctx.Forward(ctx, record.Key, record.Value*2)
	return nil
}

func newDoublingBuilder() kprocessor.RecordProcessorBuilder[int, int, int, int] {
	return func() kprocessor.RecordProcessor[int, int, int, int] {
		return &doublingProcessor{}
	}
}

func TestAsyncRecordProcessor_ProcessesAndFlushes(t *testing.T) {
	driver := &fakeDriver{}
	p := NewAsyncRecordProcessor[int, int, int, int](newDoublingBuilder(), WithPoolSize(2))
	assert.NoError(t, p.Init(driver))

	for i := 0; i < 10; i++ {
		rec := kprocessor.Record[int, int]{Key: i, Value: i}
		assert.NoError(t, p.ProcessRecord(context.Background(), rec))
	}

	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Close())

	forwards := driver.snapshot()
	assert.Equal(t, 10, len(forwards))
}

func TestAsyncRecordProcessor_PerKeyOrderPreserved(t *testing.T) {
	driver := &fakeDriver{}
	p := NewAsyncRecordProcessor[int, int, int, int](newDoublingBuilder(), WithPoolSize(4), WithMaxEventsPerKey(8))
	assert.NoError(t, p.Init(driver))

	const key = 7
	for i := 0; i < 20; i++ {
		rec := kprocessor.Record[int, int]{Key: key, Value: i}
		assert.NoError(t, p.ProcessRecord(context.Background(), rec))
	}
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Close())

	forwards := driver.snapshot()
	assert.Equal(t, 20, len(forwards))
	for i, got := range forwards {
		assert.Equal(t, fmt.Sprintf("%d=%d", key, i*2), got)
	}
}

// panicProcessor panics on every call, exercising worker-side panic recovery.
type panicProcessor struct{}

func (panicProcessor) Init(kprocessor.RecordProcessorContext[int, int]) error { return nil }
func (panicProcessor) Close() error                                          { return nil }
func (panicProcessor) ProcessRecord(context.Context, kprocessor.Record[int, int]) error {
	panic("boom")
}

func TestAsyncRecordProcessor_WorkerPanicSurfacesAsError(t *testing.T) {
	driver := &fakeDriver{}
	p := NewAsyncRecordProcessor[int, int, int, int](
		func() kprocessor.RecordProcessor[int, int, int, int] { return panicProcessor{} },
		WithPoolSize(1),
	)
	assert.NoError(t, p.Init(driver))

	assert.NoError(t, p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: 1, Value: 1}))
	err := p.Flush(context.Background())
	assert.Error(t, err)
	assert.NoError(t, p.Close())
}

func TestAsyncRecordProcessor_FailureIsSticky(t *testing.T) {
	driver := &fakeDriver{}
	p := NewAsyncRecordProcessor[int, int, int, int](
		func() kprocessor.RecordProcessor[int, int, int, int] { return panicProcessor{} },
		WithPoolSize(1),
	)
	assert.NoError(t, p.Init(driver))

	assert.NoError(t, p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: 1, Value: 1}))
	firstErr := p.Flush(context.Background())
	assert.Error(t, firstErr)

	// A later record, for the same key or a different one, must be rejected
	// with the same sticky error rather than dispatched to a worker.
	err := p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: 1, Value: 2})
	assert.Error(t, err)
	assert.Equal(t, firstErr.Error(), err.Error())

	err = p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: 2, Value: 1})
	assert.Error(t, err)
	assert.Equal(t, firstErr.Error(), err.Error())

	assert.NoError(t, p.Close())
}

func TestAsyncRecordProcessor_CloseWarnsOnDirtyShutdown(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	driver := &fakeDriver{}
	p := NewAsyncRecordProcessor[int, int, int, int](
		newDoublingBuilder(),
		WithPoolSize(1),
		WithLogger(log),
	)
	assert.NoError(t, p.Init(driver))

	// Close without a prior Flush: the record offered here is still
	// pending (dispatched to the worker, not yet finalized) when Close runs.
	assert.NoError(t, p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: 1, Value: 1}))
	assert.NoError(t, p.Close())

	assert.True(t, strings.Contains(buf.String(), "pending_events"))
}

// storeUsingProcessor calls GetStore for every name in opened during Init.
type storeUsingProcessor struct {
	opened []string
}

func (p *storeUsingProcessor) Init(ctx kprocessor.RecordProcessorContext[int, int]) error {
	for _, name := range p.opened {
		ctx.GetStore(name)
	}
	return nil
}
func (p *storeUsingProcessor) Close() error { return nil }
func (p *storeUsingProcessor) ProcessRecord(context.Context, kprocessor.Record[int, int]) error {
	return nil
}

func TestAsyncRecordProcessor_InitFailsOnStoreMismatch(t *testing.T) {
	driver := &fakeDriver{}
	p := NewAsyncRecordProcessor[int, int, int, int](
		func() kprocessor.RecordProcessor[int, int, int, int] {
			return &storeUsingProcessor{opened: []string{"widgets"}}
		},
		WithPoolSize(1),
		WithDeclaredStores([]string{"gadgets"}),
	)
	err := p.Init(driver)
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "widgets"))
	assert.True(t, strings.Contains(err.Error(), "gadgets"))
}

// gatedProcessor calls onRun before forwarding, letting a test block or
// observe a specific (key, value) record as it runs on its worker.
type gatedProcessor struct {
	ctx   kprocessor.RecordProcessorContext[int, int]
	onRun func(record kprocessor.Record[int, int])
}

func (p *gatedProcessor) Init(ctx kprocessor.RecordProcessorContext[int, int]) error {
	p.ctx = ctx
	return nil
}
func (p *gatedProcessor) Close() error { return nil }
func (p *gatedProcessor) ProcessRecord(ctx context.Context, record kprocessor.Record[int, int]) error {
	p.onRun(record)
	p.ctx.Forward(ctx, record.Key, record.Value)
	return nil
}

// TestAsyncRecordProcessor_BackpressureDrainsOtherKeysWhileWaiting pins key
// A at its admission cap and key B's second event behind its own first,
// still in flight. While ProcessRecord blocks backing off key A, key B's
// first event finishes, which should make key B's second event dispatchable
// immediately — not only after key A's backpressure wait is over. This
// covers the admission loop draining the scheduling queue on every
// iteration, not just once after the wait ends.
func TestAsyncRecordProcessor_BackpressureDrainsOtherKeysWhileWaiting(t *testing.T) {
	const keyA, keyB = 1, 2

	releaseA1 := make(chan struct{})
	releaseB1 := make(chan struct{})
	b2Ran := make(chan struct{})

	onRun := func(record kprocessor.Record[int, int]) {
		switch {
		case record.Key == keyA && record.Value == 1:
			<-releaseA1
		case record.Key == keyB && record.Value == 1:
			<-releaseB1
		case record.Key == keyB && record.Value == 2:
			close(b2Ran)
		}
	}

	driver := &fakeDriver{}
	p := NewAsyncRecordProcessor[int, int, int, int](
		func() kprocessor.RecordProcessor[int, int, int, int] { return &gatedProcessor{onRun: onRun} },
		WithPoolSize(2), WithMaxEventsPerKey(2),
	)
	assert.NoError(t, p.Init(driver))

	// B1 dispatches immediately (a worker is idle); B2 is admitted but sits
	// queued behind B1, blocked by per-key exclusivity.
	assert.NoError(t, p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: keyB, Value: 1}))
	assert.NoError(t, p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: keyB, Value: 2}))
	// A1 dispatches to the remaining idle worker; A2 is admitted and queued,
	// blocked the same way. Key A is now at its cap of 2.
	assert.NoError(t, p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: keyA, Value: 1}))
	assert.NoError(t, p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: keyA, Value: 2}))

	processRecordDone := make(chan error, 1)
	go func() {
		processRecordDone <- p.ProcessRecord(context.Background(), kprocessor.Record[int, int]{Key: keyA, Value: 3})
	}()

	// Give the backpressure loop time to enter finalizeAtLeastOne's block.
	time.Sleep(20 * time.Millisecond)
	close(releaseB1)

	select {
	case <-b2Ran:
	case <-time.After(time.Second):
		t.Fatal("key B's second event was not dispatched while key A's backpressure wait was still blocked on A's own in-flight events")
	}

	// A1 is still unreleased here: B2 could only have run as a result of
	// drainSchedulingQueue executing inside A's backpressure loop, not after
	// it, since A's own events have not moved yet.
	close(releaseA1)
	assert.NoError(t, <-processRecordDone)

	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Close())
}

func TestAsyncRecordProcessor_InitPassesOnDeclaredStoreMatch(t *testing.T) {
	driver := &fakeDriver{}
	p := NewAsyncRecordProcessor[int, int, int, int](
		func() kprocessor.RecordProcessor[int, int, int, int] {
			return &storeUsingProcessor{opened: []string{"widgets"}}
		},
		WithPoolSize(1),
		WithDeclaredStores([]string{"widgets"}),
	)
	assert.NoError(t, p.Init(driver))
	assert.NoError(t, p.Close())
}
