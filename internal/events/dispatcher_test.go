package events

import (
	"sync"
	"testing"
	"time"
)

func TestDispatcherFanOut(t *testing.T) {
	d := NewDispatcher(nil)

	var mu sync.Mutex
	got := map[string][]uint64{}
	record := func(name string) func(Event) {
		return func(ev Event) {
			mu.Lock()
			got[name] = append(got[name], ev.Sequence)
			mu.Unlock()
		}
	}
	d.Attach("a", 8, record("a"))
	d.Attach("b", 8, record("b"))

	for i := 0; i < 5; i++ {
		d.Publish(Event{ID: "ev", Type: TypeAdvisory})
	}
	d.Close()

	for _, name := range []string{"a", "b"} {
		seqs := got[name]
		if len(seqs) != 5 {
			t.Fatalf("sink %s received %d events, want 5", name, len(seqs))
		}
		for i, s := range seqs {
			if s != uint64(i+1) {
				t.Errorf("sink %s: sequence[%d] = %d, want %d", name, i, s, i+1)
			}
		}
	}
}

func TestDispatcherNeverBlocksPublisher(t *testing.T) {
	d := NewDispatcher(nil)

	release := make(chan struct{})
	d.Attach("slow", 1, func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Publish(Event{Type: TypeAdvisory})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a stalled sink")
	}
	if d.Dropped("slow") == 0 {
		t.Error("expected drops on the stalled sink")
	}
	close(release)
	d.Close()
}

func TestDispatcherPublishAfterClose(t *testing.T) {
	d := NewDispatcher(nil)
	delivered := 0
	d.Attach("s", 4, func(Event) { delivered++ })
	d.Close()

	d.Publish(Event{Type: TypeAdvisory})
	if delivered != 0 {
		t.Errorf("delivered = %d after close, want 0", delivered)
	}
}
