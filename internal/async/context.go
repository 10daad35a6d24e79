package async

import (
	"context"
	"time"

	"github.com/flowbase/kstreams/kprocessor"
	"github.com/flowbase/kstreams/kstate"
)

// EventSlot holds the event currently executing on one worker goroutine. It
// is owned exclusively by that goroutine and never accessed concurrently, so
// it needs no locking. An async-wrapped store (kstate.AsyncKeyValueStore)
// consults the slot's current event to decide whether Set/Delete should be
// deferred.
type EventSlot struct {
	event *Event
}

// set installs the event about to be processed on this worker. Called by the
// worker loop, never by user code.
func (s *EventSlot) set(e *Event) { s.event = e }

// clear removes the current event once the callback returns.
func (s *EventSlot) clear() { s.event = nil }

// AppendWrite defers apply against the slot's current event and reports
// whether that happened. Returns false (with apply not called) if no event
// is installed, letting the caller fall back to an immediate write.
func (s *EventSlot) AppendWrite(apply func() error) bool {
	if s.event == nil {
		return false
	}
	s.event.AppendWrite(apply)
	return true
}

// driverContext is the subset of kprocessor.RecordProcessorContext the
// coordinator needs to replay intercepted side effects on the driver
// goroutine during finalization.
type driverContext[Kout, Vout any] interface {
	kprocessor.RecordProcessorContext[Kout, Vout]
}

// workerContext is the RecordProcessorContext handed to one worker-bound
// user processor instance. It is never shared with another goroutine, so its
// Forward/GetStore/RecordMetadata calls need no synchronization or
// thread-identity lookup — the instance itself is the routing.
type workerContext[Kout, Vout any] struct {
	slot   *EventSlot
	driver driverContext[Kout, Vout]

	getStore func(name string) kprocessor.Store
	taskID   string
	partition int32
}

func newWorkerContext[Kout, Vout any](
	driver driverContext[Kout, Vout],
	getStore func(name string) kprocessor.Store,
	taskID string,
	partition int32,
) *workerContext[Kout, Vout] {
	return &workerContext[Kout, Vout]{
		slot:      &EventSlot{},
		driver:    driver,
		getStore:  getStore,
		taskID:    taskID,
		partition: partition,
	}
}

// EventSlot exposes this worker's slot so kstate.EventSlotOf can discover it
// and bind an AsyncKeyValueStore to it.
func (c *workerContext[Kout, Vout]) EventSlot() kstate.EventSlot { return c.slot }

func (c *workerContext[Kout, Vout]) event() *Event {
	e := c.slot.event
	if e == nil {
		panic("async: processor context used outside an active event")
	}
	return e
}

// Forward defers a forward to the current event, restoring the event's
// snapshotted record metadata (in particular its timestamp) on replay.
func (c *workerContext[Kout, Vout]) Forward(ctx context.Context, k Kout, v Vout) {
	e := c.event()
	md := e.Metadata()
	e.AppendForward(func(hostCtx context.Context) {
		c.driver.ForwardRecord(hostCtx, kprocessor.Record[Kout, Vout]{Key: k, Value: v, Metadata: md})
	})
}

func (c *workerContext[Kout, Vout]) ForwardTo(ctx context.Context, k Kout, v Vout, childName string) {
	e := c.event()
	md := e.Metadata()
	e.AppendForward(func(hostCtx context.Context) {
		c.driver.ForwardRecordTo(hostCtx, kprocessor.Record[Kout, Vout]{Key: k, Value: v, Metadata: md}, childName)
	})
}

func (c *workerContext[Kout, Vout]) ForwardRecord(ctx context.Context, record kprocessor.Record[Kout, Vout]) {
	e := c.event()
	e.AppendForward(func(hostCtx context.Context) {
		c.driver.ForwardRecord(hostCtx, record)
	})
}

func (c *workerContext[Kout, Vout]) ForwardRecordTo(ctx context.Context, record kprocessor.Record[Kout, Vout], childName string) {
	e := c.event()
	e.AppendForward(func(hostCtx context.Context) {
		c.driver.ForwardRecordTo(hostCtx, record, childName)
	})
}

// GetStore returns the real store; async interception happens one level up,
// in kstate.AsyncKeyValueStore, which the user wraps around whatever this
// returns using this context's EventSlot.
func (c *workerContext[Kout, Vout]) GetStore(name string) kprocessor.Store {
	return c.getStore(name)
}

// StreamTime, WallClockTime, RecordMetadata, and Headers all answer from the
// current event's snapshot, never a live host value — a worker must never
// observe state that moved on without it.
func (c *workerContext[Kout, Vout]) StreamTime() time.Time {
	return c.event().StreamTimeAtOffer()
}

func (c *workerContext[Kout, Vout]) WallClockTime() time.Time {
	return c.event().WallClockTimeAtOffer()
}

func (c *workerContext[Kout, Vout]) RecordMetadata() kprocessor.RecordMetadata {
	return c.event().Metadata()
}

func (c *workerContext[Kout, Vout]) TaskID() string { return c.taskID }

func (c *workerContext[Kout, Vout]) Partition() int32 { return c.partition }

func (c *workerContext[Kout, Vout]) Headers() *kprocessor.Headers {
	return c.event().Metadata().Headers
}

// Schedule is not supported from a worker-bound context: punctuation must be
// registered once, from Init, against the driver context.
func (c *workerContext[Kout, Vout]) Schedule(time.Duration, kprocessor.PunctuationType, kprocessor.Punctuator) kprocessor.Cancellable {
	panic("async: Schedule must be called from Init against the driver context, not from ProcessRecord")
}
