package bus

// Queue is the process-wide FIFO of change events. The store's update hook
// pushes onto it and the Dispatcher pops from it. It is not safe for
// concurrent use: everything that touches it runs on the control goroutine.
type Queue struct {
	events []Event
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends an event at the tail.
func (q *Queue) Push(evt Event) {
	q.events = append(q.events, evt)
}

// Pop removes and returns the head event. ok is false when the queue is
// empty.
func (q *Queue) Pop() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	evt := q.events[0]
	q.events = q.events[1:]
	return evt, true
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.events)
}

// Listener reacts to a single change event. Handlers run synchronously on
// the control goroutine and may write to the store, enqueueing further
// events.
type Listener interface {
	HandleChange(evt Event) error
}

// Dispatcher pops queued events in FIFO order and hands each one to every
// registered listener.
type Dispatcher struct {
	queue     *Queue
	listeners []Listener
}

// NewDispatcher creates a dispatcher draining the given queue.
func NewDispatcher(q *Queue) *Dispatcher {
	return &Dispatcher{queue: q}
}

// Register appends a listener. Listeners run in registration order for
// every event; components that derive state others read must be registered
// first.
func (d *Dispatcher) Register(l Listener) {
	d.listeners = append(d.listeners, l)
}

// Drain pops events until the queue is empty, invoking every listener for
// each one. Listeners may enqueue new events mid-drain and those are
// consumed in the same pass, so the store has reached a fixed point when
// Drain returns. Reports whether at least one event was processed. A
// listener error aborts the drain and leaves the remaining events queued.
func (d *Dispatcher) Drain() (bool, error) {
	processed := false
	for {
		evt, ok := d.queue.Pop()
		if !ok {
			return processed, nil
		}
		processed = true
		for _, l := range d.listeners {
			if err := l.HandleChange(evt); err != nil {
				return processed, err
			}
		}
	}
}
