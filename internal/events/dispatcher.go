package events

import (
	"sync"
	"sync/atomic"
)

// Logger defines the logging interface the dispatcher requires.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any) {}

// sink is one attached consumer with its own delivery goroutine.
type sink struct {
	name    string
	ch      chan Event
	dropped atomic.Uint64
}

// Dispatcher fans events out to attached sinks without ever blocking the
// publisher. Each sink gets a buffered channel and its own goroutine; a
// full buffer drops the event for that sink and counts the drop. The
// safety loop publishes through here, so delivery can lag but publishing
// must stay fast.
type Dispatcher struct {
	log Logger

	mu       sync.Mutex
	sinks    []*sink
	sequence uint64
	closed   bool
	wg       sync.WaitGroup
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log Logger) *Dispatcher {
	if log == nil {
		log = noopLogger{}
	}
	return &Dispatcher{log: log}
}

// Attach registers a sink. Events are delivered in publish order on a
// dedicated goroutine; fn must tolerate being behind the live stream.
func (d *Dispatcher) Attach(name string, buffer int, fn func(Event)) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &sink{name: name, ch: make(chan Event, buffer)}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.sinks = append(d.sinks, s)
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		for ev := range s.ch {
			fn(ev)
		}
	}()
	d.log.Info("event sink attached", "sink", name, "buffer", buffer)
}

// Publish assigns the next sequence number and offers the event to every
// sink. Never blocks: a sink that cannot keep up loses the event.
func (d *Dispatcher) Publish(ev Event) Event {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ev
	}
	d.sequence++
	ev.Sequence = d.sequence
	sinks := d.sinks
	d.mu.Unlock()

	for _, s := range sinks {
		select {
		case s.ch <- ev:
		default:
			n := s.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				d.log.Warn("event sink overloaded, dropping",
					"sink", s.name, "dropped_total", n)
			}
		}
	}
	return ev
}

// Dropped returns the drop count for a named sink.
func (d *Dispatcher) Dropped(name string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sinks {
		if s.name == name {
			return s.dropped.Load()
		}
	}
	return 0
}

// Close stops delivery after draining each sink's buffer. Publish after
// Close is a no-op.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	sinks := d.sinks
	d.mu.Unlock()

	for _, s := range sinks {
		close(s.ch)
	}
	d.wg.Wait()
}
