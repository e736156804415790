package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/epglabs/epgio/internal/testutil/testlog"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	testlog.Start(t)

	d := newDispatcher(16)
	defer d.stop()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	d.addSink(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Kind())
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	d.publish(StateChanged{State: StateConnecting})
	d.publish(ManagementFrames{Lines: []string{"x"}})
	d.publish(StateChanged{State: StateConnected})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("events never delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"state_changed", "management", "state_changed"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDispatcherEvictsOldestWhenFull(t *testing.T) {
	testlog.Start(t)

	d := &dispatcher{
		queue: make(chan Event, 2),
		done:  make(chan struct{}),
	}
	// No run goroutine: the queue stays full so eviction is forced.
	d.publish(ErrorOccurred{Message: "one"})
	d.publish(ErrorOccurred{Message: "two"})
	d.publish(ErrorOccurred{Message: "three"})

	if d.droppedEvents() != 1 {
		t.Fatalf("dropped = %d, want 1", d.droppedEvents())
	}
	first := (<-d.queue).(ErrorOccurred)
	if first.Message != "two" {
		t.Fatalf("oldest surviving event = %q, want the second published", first.Message)
	}
}
