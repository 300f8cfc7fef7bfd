package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/juanpablocruz/uap/pkg/event"
)

func TestFanoutAndWait(t *testing.T) {
	b := New(WithPublishBuffer(4))
	var mu sync.Mutex
	got := map[string][]int32{}
	for _, name := range []string{"console", "metrics"} {
		name := name
		b.Subscribe(NewFunc(1, func(e event.Event) {
			mu.Lock()
			got[name] = append(got[name], e.Seq)
			mu.Unlock()
		}))
	}
	b.Start()
	defer b.Stop()

	for i := int32(0); i < 50; i++ {
		b.Publish(event.Event{Type: event.MessageReceived, Seq: i})
	}
	b.WaitForProcessing()

	mu.Lock()
	defer mu.Unlock()
	for name, seqs := range got {
		if len(seqs) != 50 {
			t.Fatalf("%s got %d events", name, len(seqs))
		}
		for i, s := range seqs {
			if s != int32(i) {
				t.Fatalf("%s out of order at %d: %d", name, i, s)
			}
		}
	}
}

func TestPublishBeforeStartAndAfterStop(t *testing.T) {
	b := New()
	n := 0
	b.Subscribe(NewFunc(1, func(event.Event) { n++ }))
	b.Publish(event.Event{Type: event.SessionCreated})
	b.Start()
	b.Stop()
	b.Stop()
	b.Publish(event.Event{Type: event.SessionCreated})
	if n != 0 {
		t.Fatalf("events delivered outside the started window: %d", n)
	}
}

func TestSubscriberPanicDoesNotWedge(t *testing.T) {
	b := New()
	b.Subscribe(NewFunc(1, func(event.Event) { panic("boom") }))
	b.Start()
	defer b.Stop()
	b.Publish(event.Event{Type: event.SessionCreated})
	b.WaitForProcessing()
}

func TestLateSubscriber(t *testing.T) {
	b := New()
	b.Start()
	defer b.Stop()
	done := make(chan event.Event, 1)
	b.Subscribe(NewFunc(1, func(e event.Event) { done <- e }))
	b.Publish(event.Event{Type: event.SessionClosed, Session: 9})
	b.WaitForProcessing()
	if e := <-done; e.Session != 9 {
		t.Fatalf("got %+v", e)
	}
}

func TestDropWhenFullNeverBlocksPublisher(t *testing.T) {
	b := New(WithPublishBuffer(2), WithDropWhenFull())
	release := make(chan struct{})
	var mu sync.Mutex
	seen := 0
	b.Subscribe(NewFunc(1, func(event.Event) {
		<-release
		mu.Lock()
		seen++
		mu.Unlock()
	}))
	b.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int32(0); i < 50; i++ {
			b.Publish(event.Event{Type: event.MessageReceived, Seq: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked behind a stalled subscriber")
	}
	if b.Dropped() == 0 {
		t.Fatalf("expected dropped events")
	}

	close(release)
	b.Stop()
	mu.Lock()
	defer mu.Unlock()
	if int64(seen)+b.Dropped() != 50 {
		t.Fatalf("seen=%d dropped=%d, want 50 total", seen, b.Dropped())
	}
}

var _ event.Sink = (*Bus)(nil)
