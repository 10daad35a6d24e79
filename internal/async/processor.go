package async

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/flowbase/kstreams/internal/runtime"
	"github.com/flowbase/kstreams/kprocessor"
	"go.uber.org/multierr"
)

// AsyncRecordProcessor wraps a RecordProcessorBuilder so ProcessRecord offers
// each incoming record to a SchedulingQueue instead of running the user
// callback inline. Per-key ordering is preserved: a worker only ever sees the
// oldest not-yet-dispatched event for a given key, and the next event for
// that key stays blocked until the previous one reaches DONE.
//
// A worker's Forward/ForwardTo/store-write calls are intercepted and held on
// the Event until finalization, when they replay against the real driver
// context (ctx, the one ProcessRecord and Init were called with) on this
// processor's own goroutine — the same goroutine the host already assumes is
// the only caller of ctx.
type AsyncRecordProcessor[Kin, Vin, Kout, Vout any] struct {
	newInner func() kprocessor.RecordProcessor[Kin, Vin, Kout, Vout]
	opts     options
	log      *slog.Logger

	driver   driverContext[Kout, Vout]
	getStore func(name string) kprocessor.Store

	scheduling  *SchedulingQueue
	finalizing  *FinalizingQueue
	pool        *WorkerPool
	workerCtxs  []*workerContext[Kout, Vout]
	innerByWork []kprocessor.RecordProcessor[Kin, Vin, Kout, Vout]

	pending int

	// failed is set once, on the first event-level error (a worker panic or a
	// deferred write failure), and never cleared. Once set, ProcessRecord
	// stops admitting new work and executeAvailableEvents stops dispatching
	// queued events: the processor instance is permanently done.
	failed error
}

// NewAsyncRecordProcessor constructs the processor. newInner is called once
// per worker goroutine, never shared across goroutines or invoked again
// after pool construction. log defaults to a discard logger if nil, matching
// App.log's own default.
func NewAsyncRecordProcessor[Kin, Vin, Kout, Vout any](
	newInner func() kprocessor.RecordProcessor[Kin, Vin, Kout, Vout],
	opts ...Option,
) *AsyncRecordProcessor[Kin, Vin, Kout, Vout] {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	if o.poolSize <= 0 {
		o.poolSize = 1
	}
	log := o.log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &AsyncRecordProcessor[Kin, Vin, Kout, Vout]{
		newInner:   newInner,
		opts:       o,
		log:        log,
		scheduling: NewSchedulingQueue(o.maxEventsPerKey),
		finalizing: NewFinalizingQueue(),
	}
}

// Init wires this processor to the driver context it was built against,
// starts the worker pool, and gives each worker its own inner processor
// instance and context. After every worker is initialized, the set of store
// names actually opened via GetStore is compared against the declared set
// (async.WithDeclaredStores); a mismatch is a fatal misconfiguration.
func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) Init(ctx kprocessor.RecordProcessorContext[Kout, Vout]) error {
	p.driver = ctx

	var accessMu sync.Mutex
	accessed := make(map[string]struct{})
	p.getStore = func(name string) kprocessor.Store {
		accessMu.Lock()
		accessed[name] = struct{}{}
		accessMu.Unlock()
		return ctx.GetStore(name)
	}

	p.workerCtxs = make([]*workerContext[Kout, Vout], p.opts.poolSize)
	p.innerByWork = make([]kprocessor.RecordProcessor[Kin, Vin, Kout, Vout], p.opts.poolSize)

	var initErr error
	p.pool = NewWorkerPool(p.opts.poolSize, func(slot int) func(context.Context, *Event) {
		wc := newWorkerContext[Kout, Vout](p.driver, p.getStore, "", 0)
		inner := p.newInner()
		if err := inner.Init(wc); err != nil && initErr == nil {
			initErr = fmt.Errorf("async: init worker %d: %w", slot, err)
		}
		p.workerCtxs[slot] = wc
		p.innerByWork[slot] = inner
		return func(ctx context.Context, e *Event) {
			p.runOnWorker(ctx, wc, slot, e)
		}
	})

	if err := verifyStoreUsage(accessed, p.opts.declaredStores); err != nil {
		initErr = multierr.Append(initErr, err)
	}

	return initErr
}

// verifyStoreUsage compares the store names actually opened via GetStore
// against declared, the set passed to RegisterAsyncProcessor. Any difference
// in either direction is a fatal misconfiguration.
func verifyStoreUsage(accessed map[string]struct{}, declared []string) error {
	declaredSet := make(map[string]struct{}, len(declared))
	for _, name := range declared {
		declaredSet[name] = struct{}{}
	}

	var unexpected, unopened []string
	for name := range accessed {
		if _, ok := declaredSet[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	for name := range declaredSet {
		if _, ok := accessed[name]; !ok {
			unopened = append(unopened, name)
		}
	}
	if len(unexpected) == 0 && len(unopened) == 0 {
		return nil
	}
	sort.Strings(unexpected)
	sort.Strings(unopened)
	return fmt.Errorf("async: store mismatch: opened but not declared %v, declared but never opened %v", unexpected, unopened)
}

func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) runOnWorker(ctx context.Context, wc *workerContext[Kout, Vout], slot int, e *Event) {
	wc.slot.set(e)
	e.Transition(StateProcessing)

	err := p.safeRun(ctx, slot, e)

	e.Transition(StateToFinalize)
	wc.slot.clear()
	if err != nil {
		e.SetErr(err)
	}
	p.finalizing.Submit(e)
}

func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) safeRun(ctx context.Context, slot int, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("async: worker panic: %v", r)
		}
	}()
	return e.Run(ctx, slot)
}

// ProcessRecord offers record for asynchronous processing. It blocks only
// when this record's key has reached the configured admission cap. While
// blocked it repeats: drain whatever is currently processable to workers
// (so an unrelated key freed by the last finalization gets scheduled
// immediately, not left waiting for this call to return), and if the cap is
// still hit, block for at least one event to finish and finalize it. Once
// any event has failed (a worker panic or a deferred write error), the
// processor is permanently done: ProcessRecord stops admitting further
// records and returns the sticky failure on every subsequent call.
func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) ProcessRecord(ctx context.Context, record kprocessor.Record[Kin, Vin]) error {
	if p.failed != nil {
		return p.failed
	}

	for p.scheduling.KeyQueueIsFull(record.Key) {
		p.drainSchedulingQueue()
		if p.failed != nil {
			return p.failed
		}
		if !p.scheduling.KeyQueueIsFull(record.Key) {
			break
		}
		if err := p.finalizeAtLeastOne(ctx); err != nil {
			return err
		}
		if p.failed != nil {
			return p.failed
		}
	}

	e := NewEvent(record.Key, record.Metadata, p.driver.StreamTime(), p.driver.WallClockTime(), func(workerCtx context.Context, slot int) error {
		return p.innerByWork[slot].ProcessRecord(workerCtx, record)
	})

	p.scheduling.Offer(e)
	return p.executeAvailableEvents(ctx)
}

// executeAvailableEvents drains the finalizing queue, then the scheduling
// queue, without blocking. This is the non-blocking half of the pipeline,
// driven by every incoming ProcessRecord call. Once the processor has failed,
// it drains the finalizing queue (so in-flight work still reports its errors)
// but stops dispatching further queued events to workers.
func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) executeAvailableEvents(ctx context.Context) error {
	if err := p.drainFinalizingQueue(ctx); err != nil {
		return err
	}
	if p.failed != nil {
		return p.failed
	}
	p.drainSchedulingQueue()
	return nil
}

func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) drainSchedulingQueue() {
	if p.failed != nil {
		return
	}
	for {
		e, ok := p.scheduling.Poll()
		if !ok {
			return
		}
		p.pending++
		e.Transition(StateToProcess)
		p.pool.Schedule(e)
	}
}

// finalizeAtLeastOne blocks until at least one worker-completed event is
// available, then finalizes it. This is the driver's other declared blocking
// point besides Flush: it's what backs off ProcessRecord's admission loop
// without busy-polling.
func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) finalizeAtLeastOne(ctx context.Context) error {
	e, ok := p.finalizing.WaitNext(ctx)
	if !ok {
		return ctx.Err()
	}
	return p.finalizeOne(ctx, e)
}

func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) drainFinalizingQueue(ctx context.Context) error {
	var err error
	for {
		e, ok := p.finalizing.TryNext()
		if !ok {
			return err
		}
		if finalizeErr := p.finalizeOne(ctx, e); finalizeErr != nil {
			err = multierr.Append(err, finalizeErr)
		}
	}
}

// finalizeOne replays a completed event's deferred forwards and writes on the
// driver goroutine. An event-level failure (a recovered worker panic or a
// deferred write error) trips the sticky failure flag and leaves the event's
// key permanently blocked in SchedulingQueue: a later same-key event is never
// dispatched, matching a failed event's key never clearing.
func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) finalizeOne(ctx context.Context, e *Event) error {
	e.Transition(StateFinalizing)
	var writeErr error
	for {
		f, haveForward := e.NextForward()
		if haveForward {
			f(ctx)
		}
		w, haveWrite := e.NextWrite()
		if haveWrite {
			if err := w(); err != nil && writeErr == nil {
				writeErr = fmt.Errorf("async: deferred write for key %v: %w", e.Key(), err)
			}
		}
		if !haveForward && !haveWrite {
			break
		}
	}
	e.Transition(StateDone)
	p.pending--

	err := writeErr
	if err == nil {
		err = e.Err()
	}
	if err != nil {
		if p.failed == nil {
			p.failed = err
		}
		return err
	}

	p.scheduling.UnblockKey(e.Key())
	return nil
}

// Flush implements runtime.Flusher. It is the flush_and_await contract:
// drain the scheduling queue, then block for at least one worker to finish
// and finalize it, repeating until every offered event has reached DONE.
// The wait is a direct block on FinalizingQueue's own signal, not a poll —
// it wakes the instant a worker submits, the same way finalizeAtLeastOne
// backs off ProcessRecord's admission loop.
func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) Flush(ctx context.Context) error {
	for {
		if err := p.drainFinalizingQueue(ctx); err != nil {
			return err
		}
		if p.failed != nil {
			return p.failed
		}
		p.drainSchedulingQueue()
		if p.pending == 0 && p.scheduling.Len() == 0 {
			return nil
		}
		if err := p.finalizeAtLeastOne(ctx); err != nil {
			return err
		}
		if p.failed != nil {
			return p.failed
		}
	}
}

// Close stops admitting new work and waits for in-flight events to finish
// on their workers, but does not itself drain the finalizing queue further
// than that — callers that need every deferred forward/write replayed should
// call Flush before Close. Closing with events still pending (a dirty
// shutdown, without a prior Flush) is logged as a warning rather than
// treated as an error, since Close still runs to completion.
func (p *AsyncRecordProcessor[Kin, Vin, Kout, Vout]) Close() error {
	if p.pending > 0 {
		p.log.Warn("async: closing processor with events still pending",
			"pending_events", p.pending)
	}

	if p.pool != nil {
		p.pool.Close()
		p.pool.Wait()
	}
	var err error
	for _, inner := range p.innerByWork {
		if inner == nil {
			continue
		}
		if closeErr := inner.Close(); closeErr != nil {
			err = multierr.Append(err, closeErr)
		}
	}
	return err
}

var (
	_ kprocessor.RecordProcessor[any, any, any, any] = (*AsyncRecordProcessor[any, any, any, any])(nil)
	_ runtime.Flusher                                = (*AsyncRecordProcessor[any, any, any, any])(nil)
)
