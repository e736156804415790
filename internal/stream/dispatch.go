package stream

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/epglabs/epgio/internal/observability"
)

const defaultEventQueueSize = 256

// dispatcher decouples event production on the run loop from consumers.
// Sinks run on a dedicated goroutine; a slow sink backs up the bounded queue
// and the oldest queued events are evicted rather than stalling the stream.
type dispatcher struct {
	queue   chan Event
	dropped atomic.Uint64

	mu    sync.Mutex
	sinks []func(Event)

	done chan struct{}
	once sync.Once
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = defaultEventQueueSize
	}
	d := &dispatcher{
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) addSink(sink func(Event)) {
	d.mu.Lock()
	d.sinks = append(d.sinks, sink)
	d.mu.Unlock()
}

// publish never blocks. When the queue is full it evicts the oldest pending
// event to make room for the new one.
func (d *dispatcher) publish(ev Event) {
	for {
		select {
		case d.queue <- ev:
			return
		default:
		}
		select {
		case stale := <-d.queue:
			d.dropped.Add(1)
			observability.RecordEventDropped()
			log.Warn().Str("kind", stale.Kind()).Msg("event queue full, evicting oldest")
		default:
		}
	}
}

func (d *dispatcher) droppedEvents() uint64 { return d.dropped.Load() }

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case ev := <-d.queue:
			d.mu.Lock()
			sinks := make([]func(Event), len(d.sinks))
			copy(sinks, d.sinks)
			d.mu.Unlock()
			for _, sink := range sinks {
				sink(ev)
			}
		}
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.done) })
}
