package async

import "container/list"

// SchedulingQueue selects the next processable event under per-key ordering
// and a bounded per-key admission depth. It is owned exclusively by the
// driver goroutine and is not safe for concurrent use; that mirrors its
// single owner in the pipeline, so no locking is used here.
type SchedulingQueue struct {
	maxPerKey int
	items     *list.List // of *Event, oldest first
	inFlight  map[any]int
	blocked   map[any]bool // key has a dispatched, not-yet-DONE event
}

// NewSchedulingQueue creates a queue admitting at most maxPerKey concurrently
// in-flight events per key. maxPerKey <= 0 is treated as 1.
func NewSchedulingQueue(maxPerKey int) *SchedulingQueue {
	if maxPerKey <= 0 {
		maxPerKey = 1
	}
	return &SchedulingQueue{
		maxPerKey: maxPerKey,
		items:     list.New(),
		inFlight:  make(map[any]int),
		blocked:   make(map[any]bool),
	}
}

// KeyQueueIsFull reports whether key has reached its admission cap. Callers
// use this to apply backpressure before Offer.
func (q *SchedulingQueue) KeyQueueIsFull(key any) bool {
	return q.inFlight[key] >= q.maxPerKey
}

// Offer admits event into the queue.
func (q *SchedulingQueue) Offer(e *Event) {
	q.items.PushBack(e)
	q.inFlight[e.Key()]++
}

// HasProcessable reports whether Poll would currently return an event.
func (q *SchedulingQueue) HasProcessable() bool {
	_, ok := q.peekProcessable()
	return ok
}

// Poll removes and returns the oldest processable event: the earliest event
// in the queue whose key has no older, still-queued or still-dispatched
// event ahead of it. The cap on in-flight depth only governs admission
// (KeyQueueIsFull); selection always enforces strict per-key exclusivity.
func (q *SchedulingQueue) Poll() (*Event, bool) {
	el, ok := q.peekProcessable()
	if !ok {
		return nil, false
	}
	e := el.Value.(*Event)
	q.items.Remove(el)
	q.blocked[e.Key()] = true
	return e, true
}

func (q *SchedulingQueue) peekProcessable() (*list.Element, bool) {
	seen := make(map[any]bool)
	for el := q.items.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Event)
		k := e.Key()
		if q.blocked[k] || seen[k] {
			seen[k] = true
			continue
		}
		return el, true
	}
	return nil, false
}

// UnblockKey is called once an event reaches DONE, allowing the next
// same-key event (if any) to become processable and freeing one slot of
// key's admission cap.
func (q *SchedulingQueue) UnblockKey(key any) {
	delete(q.blocked, key)
	if n := q.inFlight[key]; n <= 1 {
		delete(q.inFlight, key)
	} else {
		q.inFlight[key] = n - 1
	}
}

// Len returns the number of events currently queued (not yet polled).
func (q *SchedulingQueue) Len() int {
	return q.items.Len()
}
