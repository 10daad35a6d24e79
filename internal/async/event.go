// Package async implements the scheduling, worker, and finalizing pipeline
// that lets a processor run its user callback off the driver goroutine while
// preserving per-key ordering and the illusion of running inline.
package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowbase/kstreams/kprocessor"
)

// State is a position in an Event's lifecycle. Transitions are strictly
// monotonic; skipping or repeating a state is a programming error.
type State int

const (
	StateCreated State = iota
	StateToProcess
	StateProcessing
	StateToFinalize
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateToProcess:
		return "TO_PROCESS"
	case StateProcessing:
		return "PROCESSING"
	case StateToFinalize:
		return "TO_FINALIZE"
	case StateFinalizing:
		return "FINALIZING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Event is the lifecycle token for one input record moving through the
// scheduling, worker, and finalizing stages. Forwards and writes intercepted
// during PROCESSING are deferred closures, replayed in submission order
// against the real host context during FINALIZING.
type Event struct {
	mu sync.Mutex

	key           any
	metadata      kprocessor.RecordMetadata
	streamTime    time.Time
	wallClockTime time.Time
	state         State

	callback func(ctx context.Context, slot int) error

	forwards []func(ctx context.Context)
	writes   []func() error

	err error
}

// NewEvent wraps callback, the user processing logic for one record, keyed
// by key for scheduling purposes. metadata, streamTime, and wallClockTime are
// the record context snapshots taken at offer time; they are what a
// worker-bound context answers with instead of ever consulting live host
// state.
func NewEvent(key any, metadata kprocessor.RecordMetadata, streamTime, wallClockTime time.Time, callback func(ctx context.Context, slot int) error) *Event {
	return &Event{key: key, metadata: metadata, streamTime: streamTime, wallClockTime: wallClockTime, callback: callback}
}

func (e *Event) Key() any                            { return e.key }
func (e *Event) Metadata() kprocessor.RecordMetadata { return e.metadata }
func (e *Event) StreamTimeAtOffer() time.Time        { return e.streamTime }
func (e *Event) WallClockTimeAtOffer() time.Time     { return e.wallClockTime }

func (e *Event) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Transition advances the event to target. Any non-sequential transition is
// a bug in this package, not something user input can trigger, so it panics.
func (e *Event) Transition(target State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if target != e.state+1 {
		panic(fmt.Sprintf("async: invalid event transition %s -> %s", e.state, target))
	}
	e.state = target
}

// Run invokes the wrapped callback against the inner processor instance that
// belongs to slot. Called by a worker while the event is in PROCESSING;
// panics from the callback are not recovered here, the worker pool is
// responsible for that.
func (e *Event) Run(ctx context.Context, slot int) error {
	return e.callback(ctx, slot)
}

// AppendForward records a deferred forward, replayed during finalization.
// Only valid while the event is PROCESSING.
func (e *Event) AppendForward(apply func(ctx context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateProcessing {
		panic(fmt.Sprintf("async: AppendForward called in state %s, want PROCESSING", e.state))
	}
	e.forwards = append(e.forwards, apply)
}

// AppendWrite records a deferred store write, replayed during finalization.
// Only valid while the event is PROCESSING.
func (e *Event) AppendWrite(apply func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateProcessing {
		panic(fmt.Sprintf("async: AppendWrite called in state %s, want PROCESSING", e.state))
	}
	e.writes = append(e.writes, apply)
}

// NextForward pops the oldest pending forward, if any. Only valid while the
// event is FINALIZING.
func (e *Event) NextForward() (func(ctx context.Context), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateFinalizing {
		panic(fmt.Sprintf("async: NextForward called in state %s, want FINALIZING", e.state))
	}
	if len(e.forwards) == 0 {
		return nil, false
	}
	f := e.forwards[0]
	e.forwards = e.forwards[1:]
	return f, true
}

// NextWrite pops the oldest pending write, if any. Only valid while the
// event is FINALIZING.
func (e *Event) NextWrite() (func() error, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateFinalizing {
		panic(fmt.Sprintf("async: NextWrite called in state %s, want FINALIZING", e.state))
	}
	if len(e.writes) == 0 {
		return nil, false
	}
	w := e.writes[0]
	e.writes = e.writes[1:]
	return w, true
}

// SetErr attaches a failure (typically a recovered panic) to the event. The
// coordinator surfaces it when the event is drained from the finalizing queue.
func (e *Event) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *Event) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
