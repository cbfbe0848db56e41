package downloader

import (
	"context"
	"sync"
)

// Sink receives every snapshot the registry produces. It is called from a
// single goroutine, never concurrently and never with registry locks held.
type Sink func(Snapshot)

// MultiSink delivers each snapshot to every non-nil sink, in order.
func MultiSink(sinks ...Sink) Sink {
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}

	return func(snap Snapshot) {
		for _, s := range active {
			s(snap)
		}
	}
}

// dispatcher is an unbounded FIFO between the registry and its sink.
type dispatcher struct {
	sink Sink

	mu     sync.Mutex
	queue  []Snapshot
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher(sink Sink) *dispatcher {
	if sink == nil {
		sink = func(Snapshot) {}
	}

	d := &dispatcher{
		sink: sink,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	go d.loop()

	return d
}

// push enqueues s without blocking. Snapshots pushed after close are dropped.
func (d *dispatcher) push(s Snapshot) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return
	}

	d.queue = append(d.queue, s)
	d.mu.Unlock()

	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)

	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, s := range batch {
			d.sink(s)
		}

		if len(batch) > 0 {
			continue
		}

		if closed {
			return
		}

		<-d.wake
	}
}

// close stops accepting snapshots and waits for the queue to drain.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.signal()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
